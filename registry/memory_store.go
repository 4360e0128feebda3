package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-partners/core"
)

// MemoryPartnerStore is the in-process PartnerStore used by tests and
// zero-dependency wiring. Outcome recording holds the store lock for the
// whole increment-or-reset so concurrent deliveries never race a stale
// snapshot.
type MemoryPartnerStore struct {
	mu       sync.RWMutex
	partners map[string]core.Partner
	byName   map[string]string
}

func NewMemoryPartnerStore() *MemoryPartnerStore {
	return &MemoryPartnerStore{
		partners: map[string]core.Partner{},
		byName:   map[string]string{},
	}
}

func (s *MemoryPartnerStore) Create(_ context.Context, partner core.Partner) (core.Partner, error) {
	if s == nil {
		return core.Partner{}, fmt.Errorf("registry: memory store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[partner.Name]; exists {
		return core.Partner{}, fmt.Errorf("registry: partner name %q already exists", partner.Name)
	}
	if _, exists := s.partners[partner.ID]; exists {
		return core.Partner{}, fmt.Errorf("registry: partner id %q already exists", partner.ID)
	}
	s.partners[partner.ID] = clonePartner(partner)
	s.byName[partner.Name] = partner.ID
	return clonePartner(partner), nil
}

func (s *MemoryPartnerStore) Get(_ context.Context, id string) (core.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partner, exists := s.partners[strings.TrimSpace(id)]
	if !exists {
		return core.Partner{}, fmt.Errorf("registry: partner %q not found", id)
	}
	return clonePartner(partner), nil
}

func (s *MemoryPartnerStore) GetByName(_ context.Context, name string) (core.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, exists := s.byName[strings.TrimSpace(name)]
	if !exists {
		return core.Partner{}, fmt.Errorf("registry: partner %q not found", name)
	}
	return clonePartner(s.partners[id]), nil
}

func (s *MemoryPartnerStore) List(_ context.Context) ([]core.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Partner, 0, len(s.partners))
	for _, partner := range s.partners {
		out = append(out, clonePartner(partner))
	}
	sortPartners(out)
	return out, nil
}

func (s *MemoryPartnerStore) ListByStatus(_ context.Context, status core.PartnerStatus) ([]core.Partner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Partner, 0, len(s.partners))
	for _, partner := range s.partners {
		if partner.Status == status {
			out = append(out, clonePartner(partner))
		}
	}
	sortPartners(out)
	return out, nil
}

func (s *MemoryPartnerStore) Update(_ context.Context, partner core.Partner) (core.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.partners[partner.ID]
	if !exists {
		return core.Partner{}, fmt.Errorf("registry: partner %q not found", partner.ID)
	}
	if partner.Name != existing.Name {
		if _, taken := s.byName[partner.Name]; taken {
			return core.Partner{}, fmt.Errorf("registry: partner name %q already exists", partner.Name)
		}
		delete(s.byName, existing.Name)
		s.byName[partner.Name] = partner.ID
	}
	// The update path never touches the secret or health counters; those
	// have dedicated writes.
	partner.Secret = existing.Secret
	partner.FailedWebhookCount = existing.FailedWebhookCount
	partner.LastWebhookAt = existing.LastWebhookAt
	partner.LastSuccessAt = existing.LastSuccessAt
	partner.CreatedAt = existing.CreatedAt
	s.partners[partner.ID] = clonePartner(partner)
	return clonePartner(partner), nil
}

func (s *MemoryPartnerStore) UpdateSecret(_ context.Context, id string, encryptedSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, exists := s.partners[strings.TrimSpace(id)]
	if !exists {
		return fmt.Errorf("registry: partner %q not found", id)
	}
	partner.Secret = encryptedSecret
	partner.UpdatedAt = time.Now().UTC()
	s.partners[partner.ID] = partner
	return nil
}

func (s *MemoryPartnerStore) SetStatus(_ context.Context, id string, status core.PartnerStatus, resetFailures bool) (core.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, exists := s.partners[strings.TrimSpace(id)]
	if !exists {
		return core.Partner{}, fmt.Errorf("registry: partner %q not found", id)
	}
	partner.Status = status
	if resetFailures {
		partner.FailedWebhookCount = 0
	}
	partner.UpdatedAt = time.Now().UTC()
	s.partners[partner.ID] = partner
	return clonePartner(partner), nil
}

func (s *MemoryPartnerStore) RecordOutcome(_ context.Context, id string, success bool, at time.Time, threshold int) (core.Partner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, exists := s.partners[strings.TrimSpace(id)]
	if !exists {
		return core.Partner{}, fmt.Errorf("registry: partner %q not found", id)
	}
	at = at.UTC()
	partner.LastWebhookAt = &at
	if success {
		partner.FailedWebhookCount = 0
		last := at
		partner.LastSuccessAt = &last
	} else {
		partner.FailedWebhookCount++
		if threshold > 0 && partner.FailedWebhookCount >= threshold {
			partner.Status = core.PartnerStatusSuspended
		}
	}
	partner.UpdatedAt = at
	s.partners[partner.ID] = partner
	return clonePartner(partner), nil
}

func clonePartner(partner core.Partner) core.Partner {
	out := partner
	out.SubscribedEvents = append([]string(nil), partner.SubscribedEvents...)
	if partner.Metadata != nil {
		metadata := make(map[string]any, len(partner.Metadata))
		for key, value := range partner.Metadata {
			metadata[key] = value
		}
		out.Metadata = metadata
	}
	if partner.LastWebhookAt != nil {
		at := *partner.LastWebhookAt
		out.LastWebhookAt = &at
	}
	if partner.LastSuccessAt != nil {
		at := *partner.LastSuccessAt
		out.LastSuccessAt = &at
	}
	return out
}

func sortPartners(partners []core.Partner) {
	sort.Slice(partners, func(i, j int) bool {
		return partners[i].Name < partners[j].Name
	})
}

var _ core.PartnerStore = (*MemoryPartnerStore)(nil)
