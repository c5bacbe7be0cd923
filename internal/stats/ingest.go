// Package stats provides counters for activity ingestion outcomes.
package stats

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// IngestStats tracks how many tracking calls were recorded or dropped.
// All operations are thread-safe using atomic counters.
type IngestStats struct {
	recorded atomic.Int64
	dropped  atomic.Int64
}

// NewIngestStats creates a new IngestStats instance.
func NewIngestStats() *IngestStats {
	return &IngestStats{}
}

// RecordStored increments the recorded counter.
func (s *IngestStats) RecordStored() {
	s.recorded.Add(1)
}

// RecordDropped increments the dropped counter.
func (s *IngestStats) RecordDropped() {
	s.dropped.Add(1)
}

// Recorded returns the number of events that reached the store.
func (s *IngestStats) Recorded() int64 {
	return s.recorded.Load()
}

// Dropped returns the number of tracking calls that failed or were rejected.
func (s *IngestStats) Dropped() int64 {
	return s.dropped.Load()
}

// Total returns recorded + dropped.
func (s *IngestStats) Total() int64 {
	return s.Recorded() + s.Dropped()
}

// DropRate returns the fraction of tracking calls that were dropped, or 0
// when nothing has been tracked yet.
func (s *IngestStats) DropRate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Dropped()) / float64(total)
}

// Reset resets all counters to zero.
func (s *IngestStats) Reset() {
	s.recorded.Store(0)
	s.dropped.Store(0)
}

// String returns a human-readable summary of the statistics.
func (s *IngestStats) String() string {
	return fmt.Sprintf("recorded=%d dropped=%d total=%d", s.Recorded(), s.Dropped(), s.Total())
}

// LogSummary logs a summary of ingestion statistics at INFO level.
func (s *IngestStats) LogSummary(logger *slog.Logger) {
	logger.Info("activity ingestion statistics",
		"recorded", s.Recorded(),
		"dropped", s.Dropped(),
		"total", s.Total(),
		"drop_rate", s.DropRate(),
	)
}
