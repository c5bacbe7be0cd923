package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingStore fails while err is set and counts calls that reach it.
type countingStore struct {
	failingStore
	calls int
}

func (c *countingStore) ActivityFeed(ctx context.Context, limit int) ([]ActivityFeedItem, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []ActivityFeedItem{{ActivityEvent: ActivityEvent{ID: "e1"}}}, nil
}

func (c *countingStore) ActivityTimeseries(context.Context, string, string, TimeInterval, string) ([]TimeseriesPoint, error) {
	c.calls++
	return nil, ErrIntervalUnsupported
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &countingStore{failingStore: failingStore{err: errBoom}}
	store := NewBreakerStore(inner, BreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		Timeout:          time.Hour,
	}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.ActivityFeed(ctx, 10); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected store error, got %v", i, err)
		}
	}
	if store.State() != "open" {
		t.Fatalf("expected open breaker, got %s", store.State())
	}

	_, err := store.ActivityFeed(ctx, 10)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable while open, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected open breaker to short-circuit, store saw %d calls", inner.calls)
	}
}

func TestBreakerStore_PassesResultsThrough(t *testing.T) {
	inner := &countingStore{}
	store := NewBreakerStore(inner, DefaultBreakerConfig(), nil)

	items, err := store.ActivityFeed(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].ID != "e1" {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestBreakerStore_UnsupportedIntervalDoesNotTrip(t *testing.T) {
	inner := &countingStore{}
	store := NewBreakerStore(inner, BreakerConfig{FailureThreshold: 1, Timeout: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		_, err := store.ActivityTimeseries(context.Background(), "2025-01-01", "2025-01-31", IntervalWeek, "")
		if !errors.Is(err, ErrIntervalUnsupported) {
			t.Fatalf("expected ErrIntervalUnsupported, got %v", err)
		}
	}
	if store.State() != "closed" {
		t.Errorf("expected closed breaker, got %s", store.State())
	}
}

func TestBreakerStore_ServiceDegradesToUnavailable(t *testing.T) {
	obs := &recordingObserver{}
	inner := &countingStore{failingStore: failingStore{err: errBoom}}
	store := NewBreakerStore(inner, BreakerConfig{FailureThreshold: 1, Timeout: time.Hour}, nil)
	svc := NewService(store, WithObserver(obs))

	svc.GetActivityFeed(context.Background(), 10)
	got := svc.GetActivityFeed(context.Background(), 10)

	if got == nil || len(got) != 0 {
		t.Errorf("expected empty feed, got %+v", got)
	}
	if len(obs.failures) != 2 || obs.failures[1].Kind != KindUnavailable {
		t.Fatalf("expected second failure to be unavailable, got %+v", obs.failures)
	}
}
