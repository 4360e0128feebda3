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

// WebhookLogStore persists the delivery ledger. Closed records are terminal;
// every state transition guard rides the UPDATE's WHERE clause so a late
// writer cannot reopen a finished record.
type WebhookLogStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookLogRecord]
}

func NewWebhookLogStore(db *bun.DB) (*WebhookLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookLogRecord](db, webhookLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook log repository wiring: %w", err)
		}
	}
	return &WebhookLogStore{db: db, repo: repo}, nil
}

func (s *WebhookLogStore) Append(ctx context.Context, log core.WebhookLog) (core.WebhookLog, error) {
	if s == nil || s.db == nil {
		return core.WebhookLog{}, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	record := webhookLogToRecord(log)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.WebhookLog{}, err
	}
	return webhookLogToDomain(record), nil
}

func (s *WebhookLogStore) MarkRetrying(ctx context.Context, id string, retryCount int, errorMessage string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*webhookLogRecord)(nil)).
		Set("status = ?", string(core.WebhookStatusRetrying)).
		Set("retry_count = ?", retryCount).
		Set("error_message = ?", errorMessage).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status NOT IN (?, ?)", string(core.WebhookStatusSuccess), string(core.WebhookStatusFailed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

func (s *WebhookLogStore) Close(ctx context.Context, id string, status core.WebhookStatus, statusCode int, responseBody string, errorMessage string, completedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	if !status.Terminal() {
		return fmt.Errorf("sqlstore: status %q cannot close a webhook log", status)
	}
	res, err := s.db.NewUpdate().
		Model((*webhookLogRecord)(nil)).
		Set("status = ?", string(status)).
		Set("status_code = ?", statusCode).
		Set("response_body = ?", responseBody).
		Set("error_message = ?", errorMessage).
		Set("completed_at = ?", completedAt.UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Where("status NOT IN (?, ?)", string(core.WebhookStatusSuccess), string(core.WebhookStatusFailed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return s.transitionConflict(ctx, id)
	}
	return nil
}

func (s *WebhookLogStore) Query(ctx context.Context, filter core.WebhookLogFilter) ([]core.WebhookLog, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook log store is not configured")
	}
	var records []webhookLogRecord
	query := s.db.NewSelect().Model(&records)
	if partnerID := strings.TrimSpace(filter.PartnerID); partnerID != "" {
		query = query.Where("?TableAlias.partner_id = ?", partnerID)
	}
	if filter.Direction != "" {
		query = query.Where("?TableAlias.direction = ?", string(filter.Direction))
	}
	if filter.Status != "" {
		query = query.Where("?TableAlias.status = ?", string(filter.Status))
	}
	if filter.Since != nil {
		query = query.Where("?TableAlias.created_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		query = query.Where("?TableAlias.created_at <= ?", filter.Until.UTC())
	}
	query = query.OrderExpr("?TableAlias.created_at DESC, ?TableAlias.id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]core.WebhookLog, 0, len(records))
	for i := range records {
		out = append(out, webhookLogToDomain(&records[i]))
	}
	return out, nil
}

// transitionConflict distinguishes a missing record from a record that has
// already reached a terminal status.
func (s *WebhookLogStore) transitionConflict(ctx context.Context, id string) error {
	record := &webhookLogRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("sqlstore: webhook log %q not found", id)
		}
		return err
	}
	return fmt.Errorf("sqlstore: webhook log %q already closed as %s", id, record.Status)
}

func webhookLogToRecord(log core.WebhookLog) *webhookLogRecord {
	record := &webhookLogRecord{
		ID:           strings.TrimSpace(log.ID),
		PartnerID:    strings.TrimSpace(log.PartnerID),
		Direction:    string(log.Direction),
		EventType:    log.EventType,
		Payload:      append([]byte(nil), log.Payload...),
		Status:       string(log.Status),
		StatusCode:   log.StatusCode,
		ResponseBody: log.ResponseBody,
		ErrorMessage: log.ErrorMessage,
		RetryCount:   log.RetryCount,
		CreatedAt:    log.CreatedAt.UTC(),
	}
	if log.CompletedAt != nil {
		at := log.CompletedAt.UTC()
		record.CompletedAt = &at
	}
	return record
}

func webhookLogToDomain(record *webhookLogRecord) core.WebhookLog {
	if record == nil {
		return core.WebhookLog{}
	}
	log := core.WebhookLog{
		ID:           record.ID,
		PartnerID:    record.PartnerID,
		Direction:    core.WebhookDirection(record.Direction),
		EventType:    record.EventType,
		Payload:      append([]byte(nil), record.Payload...),
		Status:       core.WebhookStatus(record.Status),
		StatusCode:   record.StatusCode,
		ResponseBody: record.ResponseBody,
		ErrorMessage: record.ErrorMessage,
		RetryCount:   record.RetryCount,
		CreatedAt:    record.CreatedAt,
	}
	if record.CompletedAt != nil {
		at := *record.CompletedAt
		log.CompletedAt = &at
	}
	return log
}

var _ core.WebhookLogStore = (*WebhookLogStore)(nil)
