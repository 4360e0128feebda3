package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-partners/core"
)

// MemoryWebhookLogStore keeps the ledger in process memory. It backs tests
// and single-node deployments; the SQL store is the durable counterpart.
type MemoryWebhookLogStore struct {
	mu   sync.RWMutex
	logs map[string]core.WebhookLog
}

func NewMemoryWebhookLogStore() *MemoryWebhookLogStore {
	return &MemoryWebhookLogStore{
		logs: make(map[string]core.WebhookLog),
	}
}

func (s *MemoryWebhookLogStore) Append(ctx context.Context, log core.WebhookLog) (core.WebhookLog, error) {
	if s == nil {
		return core.WebhookLog{}, fmt.Errorf("ledger: memory store is nil")
	}
	if log.ID == "" {
		return core.WebhookLog{}, fmt.Errorf("ledger: log id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[log.ID]; ok {
		return core.WebhookLog{}, fmt.Errorf("ledger: log %s already exists", log.ID)
	}
	s.logs[log.ID] = cloneLog(log)
	return cloneLog(log), nil
}

func (s *MemoryWebhookLogStore) MarkRetrying(ctx context.Context, id string, retryCount int, errorMessage string) error {
	if s == nil {
		return fmt.Errorf("ledger: memory store is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("ledger: log %s not found", id)
	}
	if log.Status.Terminal() {
		return fmt.Errorf("ledger: log %s is already closed as %s", id, log.Status)
	}
	log.Status = core.WebhookStatusRetrying
	log.RetryCount = retryCount
	log.ErrorMessage = errorMessage
	s.logs[id] = log
	return nil
}

func (s *MemoryWebhookLogStore) Close(ctx context.Context, id string, status core.WebhookStatus, statusCode int, responseBody string, errorMessage string, completedAt time.Time) error {
	if s == nil {
		return fmt.Errorf("ledger: memory store is nil")
	}
	if !status.Terminal() {
		return fmt.Errorf("ledger: status %s is not terminal", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log, ok := s.logs[id]
	if !ok {
		return fmt.Errorf("ledger: log %s not found", id)
	}
	if log.Status.Terminal() {
		return fmt.Errorf("ledger: log %s is already closed as %s", id, log.Status)
	}
	log.Status = status
	log.StatusCode = statusCode
	log.ResponseBody = responseBody
	log.ErrorMessage = errorMessage
	at := completedAt
	log.CompletedAt = &at
	s.logs[id] = log
	return nil
}

func (s *MemoryWebhookLogStore) Query(ctx context.Context, filter core.WebhookLogFilter) ([]core.WebhookLog, error) {
	if s == nil {
		return nil, fmt.Errorf("ledger: memory store is nil")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.WebhookLog, 0, len(s.logs))
	for _, log := range s.logs {
		if !matchesFilter(log, filter) {
			continue
		}
		out = append(out, cloneLog(log))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(log core.WebhookLog, filter core.WebhookLogFilter) bool {
	if filter.PartnerID != "" && log.PartnerID != filter.PartnerID {
		return false
	}
	if filter.Direction != "" && log.Direction != filter.Direction {
		return false
	}
	if filter.Status != "" && log.Status != filter.Status {
		return false
	}
	if filter.Since != nil && log.CreatedAt.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && log.CreatedAt.After(*filter.Until) {
		return false
	}
	return true
}

func cloneLog(log core.WebhookLog) core.WebhookLog {
	out := log
	out.Payload = append([]byte(nil), log.Payload...)
	if log.CompletedAt != nil {
		at := *log.CompletedAt
		out.CompletedAt = &at
	}
	return out
}

var _ core.WebhookLogStore = (*MemoryWebhookLogStore)(nil)
