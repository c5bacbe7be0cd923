package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := vec.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	if len(m.Collectors()) != 3 {
		t.Errorf("expected 3 collectors, got %d", len(m.Collectors()))
	}

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() returned error: %v", err)
	}
	if err := NewMetrics().Register(reg); err == nil {
		t.Error("second Register() should have returned an error")
	}
}

func TestLogObserver_Failure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	metrics := NewMetrics()
	obs := NewLogObserver(logger, metrics)

	obs.Failure(context.Background(), classify("get_top_content", errBoom), 25*time.Millisecond)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["level"] != "ERROR" {
		t.Errorf("expected ERROR level, got %v", entry["level"])
	}
	if entry["op"] != "get_top_content" || entry["kind"] != "transient" {
		t.Errorf("unexpected log attributes: %v", entry)
	}
	if entry["elapsed_ms"] != float64(25) {
		t.Errorf("expected elapsed_ms 25, got %v", entry["elapsed_ms"])
	}

	if v := counterValue(t, metrics.failures, "get_top_content", "transient"); v != 1 {
		t.Errorf("expected 1 failure, got %f", v)
	}
	if v := counterValue(t, metrics.callsTotal, "get_top_content", OutcomeFailure); v != 1 {
		t.Errorf("expected 1 failed call, got %f", v)
	}
}

func TestLogObserver_InvalidInputLogsWarn(t *testing.T) {
	var buf bytes.Buffer
	obs := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)), nil)

	obs.Failure(context.Background(), invalid[int]("get_user_cohorts", "unknown period %q", "decade").err, 0)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log line: %v", err)
	}
	if entry["level"] != "WARN" || entry["kind"] != "invalid" {
		t.Errorf("unexpected log entry: %v", entry)
	}
}

func TestLogObserver_SuccessDoesNotLog(t *testing.T) {
	var buf bytes.Buffer
	metrics := NewMetrics()
	obs := NewLogObserver(slog.New(slog.NewJSONHandler(&buf, nil)), metrics)

	obs.Success(context.Background(), "activity_feed", time.Millisecond)

	if buf.Len() != 0 {
		t.Errorf("expected no log output, got %q", buf.String())
	}
	if v := counterValue(t, metrics.callsTotal, "activity_feed", OutcomeSuccess); v != 1 {
		t.Errorf("expected 1 successful call, got %f", v)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", errors.Join(errBoom, context.DeadlineExceeded), KindTimeout},
		{"unavailable", ErrStoreUnavailable, KindUnavailable},
		{"invalid", errInvalidInput, KindInvalid},
		{"other", errBoom, KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify("op", tt.err)
			if got.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Kind)
			}
			if !errors.Is(got, tt.err) {
				t.Error("expected classified error to wrap the cause")
			}
		})
	}
}
