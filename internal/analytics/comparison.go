package analytics

import (
	"math"
)

// StableThreshold is the absolute change percentage at or below which a
// metric is reported as stable.
const StableThreshold = 1.0

// CompareValues builds a comparison metric for the current window against the
// previous window of equal length.
func CompareValues(name string, current, previous float64) AnalyticsSummary {
	var change float64
	switch {
	case previous != 0:
		change = (current - previous) / math.Abs(previous) * 100
	case current > 0:
		change = 100
	case current < 0:
		change = -100
	}

	trend := TrendStable
	if change > StableThreshold {
		trend = TrendUp
	} else if change < -StableThreshold {
		trend = TrendDown
	}

	return AnalyticsSummary{
		MetricName:       name,
		CurrentValue:     current,
		PreviousValue:    previous,
		ChangePercentage: math.Round(change*100) / 100,
		Trend:            trend,
	}
}

// compareDashboards derives the standard comparison metrics from two
// dashboard aggregates. A nil side is treated as all zeros.
func compareDashboards(current, previous *DashboardMetrics) []AnalyticsSummary {
	if current == nil {
		current = &DashboardMetrics{}
	}
	if previous == nil {
		previous = &DashboardMetrics{}
	}
	return []AnalyticsSummary{
		CompareValues("page_views", float64(current.TotalPageViews), float64(previous.TotalPageViews)),
		CompareValues("tip_views", float64(current.TotalTipViews), float64(previous.TotalTipViews)),
		CompareValues("tips_completed", float64(current.TotalTipsCompleted), float64(previous.TotalTipsCompleted)),
		CompareValues("downloads", float64(current.TotalDownloads), float64(previous.TotalDownloads)),
		CompareValues("shares", float64(current.TotalShares), float64(previous.TotalShares)),
		CompareValues("active_days", float64(current.ActiveDays), float64(previous.ActiveDays)),
	}
}
