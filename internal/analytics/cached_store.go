package analytics

import (
	"context"
	"fmt"
	"time"
)

// DefaultCacheTTL is how long cached aggregate reads stay fresh.
const DefaultCacheTTL = 60 * time.Second

// Cache stores JSON-serializable values by key.
type Cache interface {
	// Get decodes the value at key into dst. It reports false when the key
	// is absent.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// CachedStore is a read-through cache in front of the aggregate reads of a
// Store. Writes, event reads, and view refreshes go straight to the store.
// Cache errors are ignored and the store is queried instead.
type CachedStore struct {
	Store
	cache Cache
	ttl   time.Duration
}

// NewCachedStore wraps next with cache. A non-positive ttl uses DefaultCacheTTL.
func NewCachedStore(next Store, cache Cache, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedStore{Store: next, cache: cache, ttl: ttl}
}

// readThrough returns the cached value at key or loads and caches it.
// Empty results are not cached so freshly tracked activity shows up once the
// rollup catches up.
func readThrough[T any](ctx context.Context, c *CachedStore, key string, empty func(T) bool, load func() (T, error)) (T, error) {
	var cached T
	if hit, err := c.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	v, err := load()
	if err != nil {
		return v, err
	}
	if !empty(v) {
		_ = c.cache.Set(ctx, key, v, c.ttl)
	}
	return v, nil
}

func emptySlice[T any](v []T) bool { return len(v) == 0 }

// DashboardAnalytics reads through the cache.
func (c *CachedStore) DashboardAnalytics(ctx context.Context, userID, startDate, endDate string) (*DashboardMetrics, error) {
	key := fmt.Sprintf("dashboard:%s:%s:%s", userID, startDate, endDate)
	return readThrough(ctx, c, key,
		func(m *DashboardMetrics) bool { return m == nil },
		func() (*DashboardMetrics, error) {
			return c.Store.DashboardAnalytics(ctx, userID, startDate, endDate)
		})
}

// AnalyticsSummary reads through the cache.
func (c *CachedStore) AnalyticsSummary(ctx context.Context, startDate, endDate, userID string) ([]SummaryRow, error) {
	key := fmt.Sprintf("summary:%s:%s:%s", userID, startDate, endDate)
	return readThrough(ctx, c, key, emptySlice[SummaryRow], func() ([]SummaryRow, error) {
		return c.Store.AnalyticsSummary(ctx, startDate, endDate, userID)
	})
}

// TopContent reads through the cache.
func (c *CachedStore) TopContent(ctx context.Context, limit, days int, metric MetricType) ([]TopContentItem, error) {
	key := fmt.Sprintf("top:%s:%d:%d", metric, days, limit)
	return readThrough(ctx, c, key, emptySlice[TopContentItem], func() ([]TopContentItem, error) {
		return c.Store.TopContent(ctx, limit, days, metric)
	})
}

// UserCohorts reads through the cache.
func (c *CachedStore) UserCohorts(ctx context.Context, period CohortPeriod) ([]UserCohort, error) {
	key := fmt.Sprintf("cohorts:%s", period)
	return readThrough(ctx, c, key, emptySlice[UserCohort], func() ([]UserCohort, error) {
		return c.Store.UserCohorts(ctx, period)
	})
}

// ContentPopularity reads through the cache.
func (c *CachedStore) ContentPopularity(ctx context.Context, q ContentQuery) ([]ContentPopularity, error) {
	key := fmt.Sprintf("popularity:%s:%s:%d", q.OrderBy, q.ContentType, q.Limit)
	return readThrough(ctx, c, key, emptySlice[ContentPopularity], func() ([]ContentPopularity, error) {
		return c.Store.ContentPopularity(ctx, q)
	})
}
