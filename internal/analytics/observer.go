package analytics

import (
	"context"
	"log/slog"
	"time"
)

// Observer receives the outcome of every store call made by the Service.
// It is the only place where degraded calls are logged.
type Observer interface {
	Success(ctx context.Context, op string, elapsed time.Duration)
	Failure(ctx context.Context, err *Error, elapsed time.Duration)
}

// LogObserver logs failures with slog and records call metrics.
type LogObserver struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default();
// a nil metrics disables metric recording.
func NewLogObserver(logger *slog.Logger, metrics *Metrics) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger, metrics: metrics}
}

// Success records a successful call.
func (o *LogObserver) Success(ctx context.Context, op string, elapsed time.Duration) {
	if o.metrics != nil {
		o.metrics.ObserveCall(op, OutcomeSuccess, elapsed.Seconds())
	}
}

// Failure logs a degraded call and records it.
func (o *LogObserver) Failure(ctx context.Context, err *Error, elapsed time.Duration) {
	level := slog.LevelError
	if err.Kind == KindInvalid {
		level = slog.LevelWarn
	}
	o.logger.Log(ctx, level, "analytics call degraded to empty result",
		"op", err.Op,
		"kind", string(err.Kind),
		"elapsed_ms", elapsed.Milliseconds(),
		"error", err.Err,
	)
	if o.metrics != nil {
		o.metrics.ObserveCall(err.Op, OutcomeFailure, elapsed.Seconds())
		o.metrics.IncFailure(err.Op, err.Kind)
	}
}

// nopObserver discards all outcomes.
type nopObserver struct{}

func (nopObserver) Success(context.Context, string, time.Duration) {}
func (nopObserver) Failure(context.Context, *Error, time.Duration) {}
