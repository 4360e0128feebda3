package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-partners/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RetryQueueStore parks pending delivery retries in the database so the
// backoff ladder survives process restarts. Claiming flips the claimed flag
// inside a transaction, so two pollers sharing the table never drive the
// same task twice.
type RetryQueueStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookRetryRecord]
}

func NewRetryQueueStore(db *bun.DB) (*RetryQueueStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookRetryRecord](db, webhookRetryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid retry queue repository wiring: %w", err)
		}
	}
	return &RetryQueueStore{db: db, repo: repo}, nil
}

func (s *RetryQueueStore) Enqueue(ctx context.Context, task core.RetryTask) (core.RetryTask, error) {
	if s == nil || s.db == nil {
		return core.RetryTask{}, fmt.Errorf("sqlstore: retry queue store is not configured")
	}
	record := retryTaskToRecord(task)
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.RetryTask{}, err
	}
	return retryTaskToDomain(record), nil
}

func (s *RetryQueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]core.RetryTask, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: retry queue store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	var records []webhookRetryRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH due AS (
	SELECT id
	FROM webhook_retry_tasks
	WHERE claimed = ?
	  AND not_before <= ?
	ORDER BY not_before ASC, id ASC
	LIMIT ?
)
UPDATE webhook_retry_tasks
SET claimed = ?, updated_at = ?
WHERE id IN (SELECT id FROM due)
  AND claimed = ?
RETURNING
	id,
	partner_id,
	event_id,
	event_type,
	payload,
	metadata,
	attempt,
	claimed,
	not_before,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			false,
			now,
			limit,
			true,
			now,
			false,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]core.RetryTask, 0, len(records))
	for i := range records {
		tasks = append(tasks, retryTaskToDomain(&records[i]))
	}
	return tasks, nil
}

func (s *RetryQueueStore) Complete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: retry queue store is not configured")
	}
	res, err := s.db.NewDelete().
		Model((*webhookRetryRecord)(nil)).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: retry task %q not found", id)
	}
	return nil
}

func (s *RetryQueueStore) Reschedule(ctx context.Context, id string, attempt int, notBefore time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: retry queue store is not configured")
	}
	res, err := s.db.NewUpdate().
		Model((*webhookRetryRecord)(nil)).
		Set("attempt = ?", attempt).
		Set("not_before = ?", notBefore.UTC()).
		Set("claimed = ?", false).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("sqlstore: retry task %q not found", id)
	}
	return nil
}

func retryTaskToRecord(task core.RetryTask) *webhookRetryRecord {
	record := &webhookRetryRecord{
		ID:        strings.TrimSpace(task.ID),
		PartnerID: strings.TrimSpace(task.PartnerID),
		EventID:   strings.TrimSpace(task.EventID),
		EventType: task.EventType,
		Payload:   append([]byte(nil), task.Payload...),
		Metadata:  copyAnyMap(task.Metadata),
		Attempt:   task.Attempt,
		NotBefore: task.NotBefore.UTC(),
		CreatedAt: task.CreatedAt.UTC(),
		UpdatedAt: task.UpdatedAt.UTC(),
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	return record
}

func retryTaskToDomain(record *webhookRetryRecord) core.RetryTask {
	if record == nil {
		return core.RetryTask{}
	}
	return core.RetryTask{
		ID:        record.ID,
		PartnerID: record.PartnerID,
		EventID:   record.EventID,
		EventType: record.EventType,
		Payload:   append([]byte(nil), record.Payload...),
		Metadata:  copyAnyMap(record.Metadata),
		Attempt:   record.Attempt,
		NotBefore: record.NotBefore,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
}

var _ core.RetryQueueStore = (*RetryQueueStore)(nil)
