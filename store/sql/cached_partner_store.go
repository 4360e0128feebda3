package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-partners/core"
)

const partnerCacheKeyPrefix = "go-partners::partner::v1"

// CachedPartnerStore is a read-through cache over a PartnerStore. Lookups by
// id and name are cached; every write invalidates both keys for the affected
// partner. List reads always hit the base store.
type CachedPartnerStore struct {
	base  core.PartnerStore
	cache repositorycache.CacheService
}

func NewCachedPartnerStore(base core.PartnerStore, cacheService repositorycache.CacheService) (*CachedPartnerStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base partner store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: partner cache service is required")
	}
	return &CachedPartnerStore{base: base, cache: cacheService}, nil
}

// PartnerCacheKey returns the deterministic cache key contract for partner
// reads: go-partners::partner::v1::<field>::<value> with the value URL-path
// escaped.
func PartnerCacheKey(field, value string) string {
	return strings.Join([]string{partnerCacheKeyPrefix, field, url.PathEscape(strings.TrimSpace(value))}, "::")
}

func (s *CachedPartnerStore) Create(ctx context.Context, partner core.Partner) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	created, err := s.base.Create(ctx, partner)
	if err != nil {
		return core.Partner{}, err
	}
	if err := s.invalidate(ctx, created); err != nil {
		return core.Partner{}, err
	}
	return created, nil
}

func (s *CachedPartnerStore) Get(ctx context.Context, id string) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, PartnerCacheKey("id", id), func(ctx context.Context) (core.Partner, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedPartnerStore) GetByName(ctx context.Context, name string) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, PartnerCacheKey("name", name), func(ctx context.Context) (core.Partner, error) {
		return s.base.GetByName(ctx, name)
	})
}

func (s *CachedPartnerStore) List(ctx context.Context) ([]core.Partner, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.base.List(ctx)
}

func (s *CachedPartnerStore) ListByStatus(ctx context.Context, status core.PartnerStatus) ([]core.Partner, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.base.ListByStatus(ctx, status)
}

func (s *CachedPartnerStore) Update(ctx context.Context, partner core.Partner) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	// A rename leaves the old name key behind; look the record up first so
	// both names are invalidated.
	previous, err := s.base.Get(ctx, partner.ID)
	if err != nil {
		return core.Partner{}, err
	}
	updated, err := s.base.Update(ctx, partner)
	if err != nil {
		return core.Partner{}, err
	}
	if err := s.invalidate(ctx, previous); err != nil {
		return core.Partner{}, err
	}
	if err := s.invalidate(ctx, updated); err != nil {
		return core.Partner{}, err
	}
	return updated, nil
}

func (s *CachedPartnerStore) UpdateSecret(ctx context.Context, id string, encryptedSecret string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.base.UpdateSecret(ctx, id, encryptedSecret); err != nil {
		return err
	}
	refreshed, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.invalidate(ctx, refreshed)
}

func (s *CachedPartnerStore) SetStatus(ctx context.Context, id string, status core.PartnerStatus, resetFailures bool) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	updated, err := s.base.SetStatus(ctx, id, status, resetFailures)
	if err != nil {
		return core.Partner{}, err
	}
	if err := s.invalidate(ctx, updated); err != nil {
		return core.Partner{}, err
	}
	return updated, nil
}

func (s *CachedPartnerStore) RecordOutcome(ctx context.Context, id string, success bool, at time.Time, threshold int) (core.Partner, error) {
	if err := s.ready(); err != nil {
		return core.Partner{}, err
	}
	updated, err := s.base.RecordOutcome(ctx, id, success, at, threshold)
	if err != nil {
		return core.Partner{}, err
	}
	if err := s.invalidate(ctx, updated); err != nil {
		return core.Partner{}, err
	}
	return updated, nil
}

func (s *CachedPartnerStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached partner store is not configured")
	}
	return nil
}

func (s *CachedPartnerStore) invalidate(ctx context.Context, partner core.Partner) error {
	if err := s.cache.Delete(ctx, PartnerCacheKey("id", partner.ID)); err != nil {
		return err
	}
	return s.cache.Delete(ctx, PartnerCacheKey("name", partner.Name))
}

var _ core.PartnerStore = (*CachedPartnerStore)(nil)
