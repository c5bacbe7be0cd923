package analytics

import (
	"sort"
)

// ComputeSessionAnalytics folds the events of one session into a summary.
// Returns nil when there are no events. The input slice is not reordered.
func ComputeSessionAnalytics(sessionID string, events []ActivityEvent) *SessionAnalytics {
	if len(events) == 0 {
		return nil
	}

	// Sort a copy by time
	sorted := make([]ActivityEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	first := sorted[0].CreatedAt
	last := sorted[len(sorted)-1].CreatedAt

	duration := int64(last.Sub(first).Seconds())
	if duration < 0 {
		duration = 0
	}

	result := &SessionAnalytics{
		SessionID:       sessionID,
		StartTime:       first,
		EndTime:         last,
		DurationSeconds: duration,
		ActivityCount:   len(sorted),
	}

	for _, e := range sorted {
		switch {
		case e.ActivityType == ActivityPageView:
			result.PageViews++
		case e.ActivityType == ActivityTipView:
			result.TipViews++
		case e.ActivityType.IsDownload():
			result.Downloads++
		}
	}

	return result
}
