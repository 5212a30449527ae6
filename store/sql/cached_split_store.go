package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-settlement/core"
)

const splitCacheKeyPrefix = "go-settlement::revenue_splits::v1"

// CachedSplitStore serves split reads through the cache service. Splits
// change rarely and are read on every payout schedule, so the read path is
// cached and every Replace invalidates the project's entry.
type CachedSplitStore struct {
	base  core.SplitStore
	cache repositorycache.CacheService
}

func NewCachedSplitStore(
	base core.SplitStore,
	cacheService repositorycache.CacheService,
) (*CachedSplitStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base split store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: split cache service is required")
	}
	return &CachedSplitStore{base: base, cache: cacheService}, nil
}

// SplitCacheKey returns the deterministic cache key contract for split
// reads: go-settlement::revenue_splits::v1::<project_id> with the project
// segment URL-path escaped.
func SplitCacheKey(projectID string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return "", fmt.Errorf("sqlstore: project id is required")
	}
	return splitCacheKeyPrefix + "::" + url.PathEscape(projectID), nil
}

func (s *CachedSplitStore) Replace(ctx context.Context, projectID string, splits []core.RevenueSplit) ([]core.RevenueSplit, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached split store is not configured")
	}
	cacheKey, err := SplitCacheKey(projectID)
	if err != nil {
		return nil, err
	}

	replaced, err := s.base.Replace(ctx, projectID, splits)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *CachedSplitStore) ListActive(ctx context.Context, projectID string) ([]core.RevenueSplit, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached split store is not configured")
	}
	cacheKey, err := SplitCacheKey(projectID)
	if err != nil {
		return nil, err
	}

	splits, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.RevenueSplit, error) {
		return s.base.ListActive(ctx, projectID)
	})
	if err != nil {
		return nil, err
	}
	cloned := make([]core.RevenueSplit, len(splits))
	copy(cloned, splits)
	return cloned, nil
}

var _ core.SplitStore = (*CachedSplitStore)(nil)
