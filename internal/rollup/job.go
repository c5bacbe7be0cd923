// Package rollup keeps the derived analytics views fresh.
package rollup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bdbt/analytics/internal/jobs"
	"github.com/bdbt/analytics/internal/tracing"
)

// Refresher recomputes derived views (refresh_analytics_views).
type Refresher interface {
	RefreshViews(ctx context.Context) error
}

// DefaultInterval is the default time between refreshes.
const DefaultInterval = 15 * time.Minute

// MaxInterval is the longest allowed interval. Trailing-hour popularity
// counters go stale if views are refreshed less often than hourly.
const MaxInterval = time.Hour

// DefaultTimeout bounds a single refresh.
const DefaultTimeout = 2 * time.Minute

// JobConfig configures the view refresh job.
type JobConfig struct {
	// Interval is the duration between refresh cycles, at most MaxInterval.
	Interval time.Duration
	// Timeout for each refresh cycle.
	Timeout time.Duration
	// RunOnStart triggers a refresh as soon as the job starts.
	RunOnStart bool
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for refresh tracking.
	Metrics *Metrics
	// JobMetrics for centralized background job tracking.
	JobMetrics jobs.Reporter
}

// RefreshJob periodically refreshes the derived analytics views.
type RefreshJob struct {
	config    JobConfig
	refresher Refresher

	// cycleMu serializes refreshes triggered by the ticker and RunOnce.
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefreshJob creates a view refresh job. Intervals above MaxInterval are
// clamped.
func NewRefreshJob(config JobConfig, refresher Refresher) *RefreshJob {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Interval > MaxInterval {
		config.Logger.Warn("view refresh interval clamped",
			"requested", config.Interval,
			"max", MaxInterval)
		config.Interval = MaxInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	return &RefreshJob{
		config:    config,
		refresher: refresher,
	}
}

// Interval returns the effective refresh interval.
func (j *RefreshJob) Interval() time.Duration {
	return j.config.Interval
}

// Start begins the periodic refresh.
// Returns immediately; the job runs in a background goroutine.
func (j *RefreshJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *RefreshJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *RefreshJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *RefreshJob) run(ctx context.Context) {
	defer close(j.doneCh)

	if j.config.RunOnStart {
		_ = j.RunOnce(ctx)
	}

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("view refresh job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("view refresh job stopping due to stop signal")
			return
		case <-ticker.C:
			_ = j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single refresh cycle and reports it.
func (j *RefreshJob) RunOnce(parentCtx context.Context) error {
	j.cycleMu.Lock()
	defer j.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(parentCtx, j.config.Timeout)
	defer cancel()

	ctx, endSpan := tracing.StartSpan(ctx, "view_refresh")
	start := time.Now()
	err := j.refresher.RefreshViews(ctx)
	duration := time.Since(start).Seconds()
	endSpan(err)

	status := jobs.StatusSuccess
	if err != nil {
		status = jobs.StatusFailure
		errorType := "store_error"
		if errors.Is(err, context.DeadlineExceeded) {
			errorType = "timeout"
		}
		j.config.Logger.Error("analytics view refresh failed",
			"error", err,
			"error_type", errorType,
			"duration_seconds", duration)
		if j.config.JobMetrics != nil {
			j.config.JobMetrics.IncJobErrors(jobs.JobTypeViewRefresh, errorType)
		}
	} else {
		j.config.Logger.Info("analytics views refreshed",
			"duration_seconds", duration)
	}

	if j.config.Metrics != nil {
		j.config.Metrics.observe(duration, err, float64(time.Now().Unix()))
	}
	if j.config.JobMetrics != nil {
		j.config.JobMetrics.IncJobsTotal(jobs.JobTypeViewRefresh, status)
		j.config.JobMetrics.ObserveJobDuration(jobs.JobTypeViewRefresh, duration)
	}
	return err
}
