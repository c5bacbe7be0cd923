package analytics

import (
	"context"
	"errors"
)

var (
	// ErrIntervalUnsupported is returned by a store that cannot group a time
	// series at the requested interval. The service then regroups daily
	// rollup rows locally.
	ErrIntervalUnsupported = errors.New("interval not supported by store")

	// ErrStoreUnavailable is returned when the store refuses calls, for
	// example while a circuit breaker is open.
	ErrStoreUnavailable = errors.New("analytics store unavailable")
)

// Store is the remote event and analytics store. Each method maps to one
// procedure or view and performs a single round trip.
//
// Date parameters are inclusive YYYY-MM-DD strings. An empty userID means
// all users.
type Store interface {
	// RecordActivity inserts one event (track_activity) and returns its id.
	RecordActivity(ctx context.Context, rec ActivityRecord) (string, error)

	// DashboardAnalytics returns the aggregate for the range (get_dashboard_analytics).
	// Returns nil without error when the procedure yields no row.
	DashboardAnalytics(ctx context.Context, userID, startDate, endDate string) (*DashboardMetrics, error)

	// AnalyticsSummary returns per-metric current/previous values (get_analytics_summary).
	AnalyticsSummary(ctx context.Context, startDate, endDate, userID string) ([]SummaryRow, error)

	// TopContent ranks content by metric over the trailing days (get_top_content).
	TopContent(ctx context.Context, limit, days int, metric MetricType) ([]TopContentItem, error)

	// ActivityTimeseries buckets events by interval (get_activity_timeseries).
	ActivityTimeseries(ctx context.Context, startDate, endDate string, interval TimeInterval, userID string) ([]TimeseriesPoint, error)

	// UserCohorts returns the retention table (get_user_cohorts).
	UserCohorts(ctx context.Context, period CohortPeriod) ([]UserCohort, error)

	// DailyRollup reads analytics_daily_rollup rows for the range.
	DailyRollup(ctx context.Context, startDate, endDate, userID string) ([]DailyActivitySummary, error)

	// HourlyActivity reads analytics_hourly rows for the range.
	HourlyActivity(ctx context.Context, startDate, endDate string) ([]HourlyActivity, error)

	// ContentPopularity reads content_popularity ordered by the requested counter.
	ContentPopularity(ctx context.Context, q ContentQuery) ([]ContentPopularity, error)

	// ActivityFeed reads the most recent activity_feed rows.
	ActivityFeed(ctx context.Context, limit int) ([]ActivityFeedItem, error)

	// UserActivities reads the most recent user_activities rows for a user.
	UserActivities(ctx context.Context, userID string, limit int) ([]ActivityEvent, error)

	// SessionEvents reads all events of a session ordered by time ascending.
	SessionEvents(ctx context.Context, sessionID string) ([]ActivityEvent, error)

	// RefreshViews recomputes the derived views (refresh_analytics_views).
	RefreshViews(ctx context.Context) error
}
