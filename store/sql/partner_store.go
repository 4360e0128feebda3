package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-partners/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// PartnerStore is the durable partner registry backend. Outcome counters are
// applied as single UPDATE statements so concurrent deliveries cannot race a
// stale snapshot.
type PartnerStore struct {
	db   *bun.DB
	repo repository.Repository[*partnerRecord]
}

func NewPartnerStore(db *bun.DB) (*PartnerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*partnerRecord](db, partnerHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid partner repository wiring: %w", err)
		}
	}
	return &PartnerStore{db: db, repo: repo}, nil
}

func (s *PartnerStore) Create(ctx context.Context, partner core.Partner) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	record := partnerToRecord(partner)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.Partner{}, fmt.Errorf("sqlstore: partner name %q already exists", partner.Name)
		}
		return core.Partner{}, err
	}
	return partnerToDomain(record), nil
}

func (s *PartnerStore) Get(ctx context.Context, id string) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	record := &partnerRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Partner{}, fmt.Errorf("sqlstore: partner %q not found", id)
		}
		return core.Partner{}, err
	}
	return partnerToDomain(record), nil
}

func (s *PartnerStore) GetByName(ctx context.Context, name string) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	record := &partnerRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Partner{}, fmt.Errorf("sqlstore: partner %q not found", name)
		}
		return core.Partner{}, err
	}
	return partnerToDomain(record), nil
}

func (s *PartnerStore) List(ctx context.Context) ([]core.Partner, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: partner store is not configured")
	}
	var records []partnerRecord
	err := s.db.NewSelect().
		Model(&records).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return partnersToDomain(records), nil
}

func (s *PartnerStore) ListByStatus(ctx context.Context, status core.PartnerStatus) ([]core.Partner, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: partner store is not configured")
	}
	var records []partnerRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(status)).
		Order("name ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return partnersToDomain(records), nil
}

// Update replaces the mutable profile fields. Secret, counters, and status
// are owned by their dedicated writes.
func (s *PartnerStore) Update(ctx context.Context, partner core.Partner) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	id := strings.TrimSpace(partner.ID)
	now := time.Now().UTC()

	var out core.Partner
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &partnerRecord{}
		if err := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.id = ?", id).
			Limit(1).
			Scan(ctx); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("sqlstore: partner %q not found", id)
			}
			return err
		}

		existing.Name = strings.TrimSpace(partner.Name)
		existing.WebhookURL = strings.TrimSpace(partner.WebhookURL)
		existing.SubscribedEvents = append([]string{}, partner.SubscribedEvents...)
		existing.Metadata = copyAnyMap(partner.Metadata)
		existing.UpdatedAt = now

		if _, err := tx.NewUpdate().
			Model(existing).
			Where("id = ?", existing.ID).
			Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("sqlstore: partner name %q already exists", partner.Name)
			}
			return err
		}
		out = partnerToDomain(existing)
		return nil
	})
	if err != nil {
		return core.Partner{}, err
	}
	return out, nil
}

func (s *PartnerStore) UpdateSecret(ctx context.Context, id string, encryptedSecret string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: partner store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*partnerRecord)(nil)).
		Set("secret = ?", encryptedSecret).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: partner %q not found", id)
	}
	return nil
}

func (s *PartnerStore) SetStatus(ctx context.Context, id string, status core.PartnerStatus, resetFailures bool) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	update := s.db.NewUpdate().
		Model((*partnerRecord)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id))
	if resetFailures {
		update = update.Set("failed_webhook_count = 0")
	}
	res, err := update.Exec(ctx)
	if err != nil {
		return core.Partner{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.Partner{}, fmt.Errorf("sqlstore: partner %q not found", id)
	}
	return s.Get(ctx, id)
}

// RecordOutcome applies the delivery outcome in one UPDATE. Failure counts
// increment in SQL, and the suspension threshold check rides the same
// statement, so two concurrent deliveries can never both observe the
// pre-increment count.
func (s *PartnerStore) RecordOutcome(ctx context.Context, id string, success bool, at time.Time, threshold int) (core.Partner, error) {
	if s == nil || s.db == nil {
		return core.Partner{}, fmt.Errorf("sqlstore: partner store is not configured")
	}
	at = at.UTC()
	var (
		res sql.Result
		err error
	)
	if success {
		res, err = s.db.NewUpdate().
			Model((*partnerRecord)(nil)).
			Set("failed_webhook_count = 0").
			Set("last_webhook_at = ?", at).
			Set("last_success_at = ?", at).
			Set("updated_at = ?", at).
			Where("id = ?", strings.TrimSpace(id)).
			Exec(ctx)
	} else {
		res, err = s.db.NewUpdate().
			Model((*partnerRecord)(nil)).
			Set("failed_webhook_count = failed_webhook_count + 1").
			Set("status = CASE WHEN failed_webhook_count + 1 >= ? THEN ? ELSE status END", threshold, string(core.PartnerStatusSuspended)).
			Set("last_webhook_at = ?", at).
			Set("updated_at = ?", at).
			Where("id = ?", strings.TrimSpace(id)).
			Exec(ctx)
	}
	if err != nil {
		return core.Partner{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return core.Partner{}, fmt.Errorf("sqlstore: partner %q not found", id)
	}
	return s.Get(ctx, id)
}

func partnerToRecord(partner core.Partner) *partnerRecord {
	record := &partnerRecord{
		ID:                 strings.TrimSpace(partner.ID),
		Name:               strings.TrimSpace(partner.Name),
		WebhookURL:         strings.TrimSpace(partner.WebhookURL),
		Secret:             partner.Secret,
		SubscribedEvents:   append([]string(nil), partner.SubscribedEvents...),
		Status:             string(partner.Status),
		FailedWebhookCount: partner.FailedWebhookCount,
		Metadata:           copyAnyMap(partner.Metadata),
		CreatedAt:          partner.CreatedAt.UTC(),
		UpdatedAt:          partner.UpdatedAt.UTC(),
	}
	if record.SubscribedEvents == nil {
		record.SubscribedEvents = []string{}
	}
	if partner.LastWebhookAt != nil {
		at := partner.LastWebhookAt.UTC()
		record.LastWebhookAt = &at
	}
	if partner.LastSuccessAt != nil {
		at := partner.LastSuccessAt.UTC()
		record.LastSuccessAt = &at
	}
	return record
}

func partnerToDomain(record *partnerRecord) core.Partner {
	if record == nil {
		return core.Partner{}
	}
	partner := core.Partner{
		ID:                 record.ID,
		Name:               record.Name,
		WebhookURL:         record.WebhookURL,
		Secret:             record.Secret,
		SubscribedEvents:   append([]string(nil), record.SubscribedEvents...),
		Status:             core.PartnerStatus(record.Status),
		FailedWebhookCount: record.FailedWebhookCount,
		Metadata:           copyAnyMap(record.Metadata),
		CreatedAt:          record.CreatedAt,
		UpdatedAt:          record.UpdatedAt,
	}
	if record.LastWebhookAt != nil {
		at := *record.LastWebhookAt
		partner.LastWebhookAt = &at
	}
	if record.LastSuccessAt != nil {
		at := *record.LastSuccessAt
		partner.LastSuccessAt = &at
	}
	return partner
}

func partnersToDomain(records []partnerRecord) []core.Partner {
	out := make([]core.Partner, 0, len(records))
	for i := range records {
		out = append(out, partnerToDomain(&records[i]))
	}
	return out
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.PartnerStore = (*PartnerStore)(nil)
