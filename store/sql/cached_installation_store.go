package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/core"
)

const installationCacheKeyPrefix = "shopifyapp::installation::v1"

// CachedInstallationStore reads installations through a cache. Writes go to
// the base store and invalidate the shop key.
type CachedInstallationStore struct {
	base  core.InstallationStore
	cache repositorycache.CacheService
}

func NewCachedInstallationStore(
	base core.InstallationStore,
	cacheService repositorycache.CacheService,
) (*CachedInstallationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base installation store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: installation cache service is required")
	}
	return &CachedInstallationStore{base: base, cache: cacheService}, nil
}

// InstallationCacheKey returns shopifyapp::installation::v1::<shop> for a
// normalized shop domain.
func InstallationCacheKey(shop string) (string, error) {
	normalized, err := core.NormalizeShopDomain(shop)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{installationCacheKeyPrefix, url.PathEscape(normalized)}, "::"), nil
}

func (s *CachedInstallationStore) GetByShop(ctx context.Context, shop string) (core.Installation, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	cacheKey, err := InstallationCacheKey(shop)
	if err != nil {
		return core.Installation{}, err
	}
	installation, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Installation, error) {
		return s.base.GetByShop(ctx, shop)
	})
	if err != nil {
		return core.Installation{}, err
	}
	return cloneInstallation(installation), nil
}

func (s *CachedInstallationStore) Upsert(ctx context.Context, in core.UpsertInstallationInput) (core.Installation, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Installation{}, fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	installation, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Installation{}, err
	}
	if err := s.invalidate(ctx, installation.Shop); err != nil {
		return core.Installation{}, err
	}
	return installation, nil
}

func (s *CachedInstallationStore) UpdateStatus(ctx context.Context, shop string, status core.InstallationStatus) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached installation store is not configured")
	}
	if err := s.base.UpdateStatus(ctx, shop, status); err != nil {
		return err
	}
	return s.invalidate(ctx, shop)
}

func (s *CachedInstallationStore) invalidate(ctx context.Context, shop string) error {
	cacheKey, err := InstallationCacheKey(shop)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneInstallation(in core.Installation) core.Installation {
	cloned := in
	cloned.Scopes = append([]string(nil), in.Scopes...)
	if in.UninstalledAt != nil {
		at := *in.UninstalledAt
		cloned.UninstalledAt = &at
	}
	return cloned
}
