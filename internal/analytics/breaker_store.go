package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker in front of a Store.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	Timeout          time.Duration // time spent open before probing again
	MaxRequests      uint32        // trial requests allowed while half-open
	Interval         time.Duration // closed-state count reset period; 0 never resets
}

// DefaultBreakerConfig returns the breaker settings used when none are configured.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:             "analytics-store",
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}
}

// BreakerStore wraps a Store with a circuit breaker. While the circuit is
// open every call fails fast with ErrStoreUnavailable.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps next. State changes are logged to logger.
func NewBreakerStore(next Store, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// The store answered; only connectivity and server errors count.
			return err == nil ||
				errors.Is(err, ErrIntervalUnsupported) ||
				errors.Is(err, ErrUnknownActivityType) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("analytics store circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerStore{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State returns the current breaker state as a string.
func (b *BreakerStore) State() string {
	return b.cb.State().String()
}

// guarded runs fn through the breaker and restores its static type.
func guarded[T any](b *BreakerStore, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

func (b *BreakerStore) RecordActivity(ctx context.Context, rec ActivityRecord) (string, error) {
	return guarded(b, func() (string, error) { return b.next.RecordActivity(ctx, rec) })
}

func (b *BreakerStore) DashboardAnalytics(ctx context.Context, userID, startDate, endDate string) (*DashboardMetrics, error) {
	return guarded(b, func() (*DashboardMetrics, error) {
		return b.next.DashboardAnalytics(ctx, userID, startDate, endDate)
	})
}

func (b *BreakerStore) AnalyticsSummary(ctx context.Context, startDate, endDate, userID string) ([]SummaryRow, error) {
	return guarded(b, func() ([]SummaryRow, error) {
		return b.next.AnalyticsSummary(ctx, startDate, endDate, userID)
	})
}

func (b *BreakerStore) TopContent(ctx context.Context, limit, days int, metric MetricType) ([]TopContentItem, error) {
	return guarded(b, func() ([]TopContentItem, error) {
		return b.next.TopContent(ctx, limit, days, metric)
	})
}

func (b *BreakerStore) ActivityTimeseries(ctx context.Context, startDate, endDate string, interval TimeInterval, userID string) ([]TimeseriesPoint, error) {
	return guarded(b, func() ([]TimeseriesPoint, error) {
		return b.next.ActivityTimeseries(ctx, startDate, endDate, interval, userID)
	})
}

func (b *BreakerStore) UserCohorts(ctx context.Context, period CohortPeriod) ([]UserCohort, error) {
	return guarded(b, func() ([]UserCohort, error) { return b.next.UserCohorts(ctx, period) })
}

func (b *BreakerStore) DailyRollup(ctx context.Context, startDate, endDate, userID string) ([]DailyActivitySummary, error) {
	return guarded(b, func() ([]DailyActivitySummary, error) {
		return b.next.DailyRollup(ctx, startDate, endDate, userID)
	})
}

func (b *BreakerStore) HourlyActivity(ctx context.Context, startDate, endDate string) ([]HourlyActivity, error) {
	return guarded(b, func() ([]HourlyActivity, error) {
		return b.next.HourlyActivity(ctx, startDate, endDate)
	})
}

func (b *BreakerStore) ContentPopularity(ctx context.Context, q ContentQuery) ([]ContentPopularity, error) {
	return guarded(b, func() ([]ContentPopularity, error) { return b.next.ContentPopularity(ctx, q) })
}

func (b *BreakerStore) ActivityFeed(ctx context.Context, limit int) ([]ActivityFeedItem, error) {
	return guarded(b, func() ([]ActivityFeedItem, error) { return b.next.ActivityFeed(ctx, limit) })
}

func (b *BreakerStore) UserActivities(ctx context.Context, userID string, limit int) ([]ActivityEvent, error) {
	return guarded(b, func() ([]ActivityEvent, error) { return b.next.UserActivities(ctx, userID, limit) })
}

func (b *BreakerStore) SessionEvents(ctx context.Context, sessionID string) ([]ActivityEvent, error) {
	return guarded(b, func() ([]ActivityEvent, error) { return b.next.SessionEvents(ctx, sessionID) })
}

func (b *BreakerStore) RefreshViews(ctx context.Context) error {
	_, err := guarded(b, func() (struct{}, error) { return struct{}{}, b.next.RefreshViews(ctx) })
	return err
}
