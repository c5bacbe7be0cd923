// Package analytics provides activity tracking, rollup retrieval, and derived
// engagement metrics for tips content.
package analytics

import (
	"time"
)

// ActivityType identifies a single user action. Values match the wire format
// expected by the track_activity procedure exactly.
type ActivityType string

// Activity types.
const (
	ActivityPageView    ActivityType = "page_view"
	ActivityTipView     ActivityType = "tip_view"
	ActivityTipComplete ActivityType = "tip_complete"
	ActivityTipDownload ActivityType = "tip_download"
	ActivityPDFDownload ActivityType = "pdf_download"
	ActivityShare       ActivityType = "share"
	ActivityBookmark    ActivityType = "bookmark"
	ActivitySearch      ActivityType = "search"
	ActivityFilterApply ActivityType = "filter_apply"
)

var activityTypes = map[ActivityType]bool{
	ActivityPageView:    true,
	ActivityTipView:     true,
	ActivityTipComplete: true,
	ActivityTipDownload: true,
	ActivityPDFDownload: true,
	ActivityShare:       true,
	ActivityBookmark:    true,
	ActivitySearch:      true,
	ActivityFilterApply: true,
}

// Valid reports whether t is one of the known activity types.
func (t ActivityType) Valid() bool {
	return activityTypes[t]
}

// IsDownload reports whether t counts as a download (tip or PDF).
func (t ActivityType) IsDownload() bool {
	return t == ActivityTipDownload || t == ActivityPDFDownload
}

// ParseActivityType converts a wire string into an ActivityType.
func ParseActivityType(s string) (ActivityType, bool) {
	t := ActivityType(s)
	return t, t.Valid()
}

// TimeInterval is the bucket width for time series queries.
type TimeInterval string

// Time intervals.
const (
	IntervalMinute TimeInterval = "minute"
	IntervalHour   TimeInterval = "hour"
	IntervalDay    TimeInterval = "day"
	IntervalWeek   TimeInterval = "week"
	IntervalMonth  TimeInterval = "month"
)

// Valid reports whether i is a known interval.
func (i TimeInterval) Valid() bool {
	switch i {
	case IntervalMinute, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
		return true
	}
	return false
}

// MetricType selects the counter used to rank top content.
type MetricType string

// Metric types.
const (
	MetricViews      MetricType = "views"
	MetricDownloads  MetricType = "downloads"
	MetricShares     MetricType = "shares"
	MetricEngagement MetricType = "engagement"
)

// Valid reports whether m is a known metric.
func (m MetricType) Valid() bool {
	switch m {
	case MetricViews, MetricDownloads, MetricShares, MetricEngagement:
		return true
	}
	return false
}

// CohortPeriod is the granularity used to assign users to cohorts.
type CohortPeriod string

// Cohort periods.
const (
	CohortDay   CohortPeriod = "day"
	CohortWeek  CohortPeriod = "week"
	CohortMonth CohortPeriod = "month"
)

// Valid reports whether p is a known cohort period.
func (p CohortPeriod) Valid() bool {
	return p == CohortDay || p == CohortWeek || p == CohortMonth
}

// TrendWindow selects the trailing-window counter used for trending content.
type TrendWindow string

// Trend windows.
const (
	WindowHour  TrendWindow = "hour"
	WindowDay   TrendWindow = "day"
	WindowWeek  TrendWindow = "week"
	WindowMonth TrendWindow = "month"
)

// Valid reports whether w is a known trailing window.
func (w TrendWindow) Valid() bool {
	return w == WindowHour || w == WindowDay || w == WindowWeek || w == WindowMonth
}

// Trend is the direction of a comparison metric.
type Trend string

// Trend directions.
const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// ActivityEvent is an immutable record of a single user action.
type ActivityEvent struct {
	ID           string         `json:"id"`
	UserID       *string        `json:"user_id,omitempty"` // nil for anonymous activity
	ActivityType ActivityType   `json:"activity_type"`
	EntityType   *string        `json:"entity_type,omitempty"`
	EntityID     *string        `json:"entity_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// TrackRequest carries the inputs of a single tracking call.
// Empty optional fields are sent as NULL.
type TrackRequest struct {
	UserID       string         `json:"user_id,omitempty"`
	ActivityType ActivityType   `json:"activity_type"`
	EntityType   string         `json:"entity_type,omitempty"`
	EntityID     string         `json:"entity_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
}

// ActivityRecord is the resolved form of a TrackRequest passed to the store.
type ActivityRecord struct {
	UserID       *string
	ActivityType ActivityType
	EntityType   *string
	EntityID     *string
	Details      map[string]any
	SessionID    string
}

// DailyActivitySummary is one rollup row per user and date.
type DailyActivitySummary struct {
	UserID        string `json:"user_id"`
	Date          string `json:"date"` // YYYY-MM-DD
	PageViews     int64  `json:"page_views"`
	TipViews      int64  `json:"tip_views"`
	TipsCompleted int64  `json:"tips_completed"`
	Downloads     int64  `json:"downloads"`
	Shares        int64  `json:"shares"`
	Activities    int64  `json:"activities"` // every activity type
	Sessions      int64  `json:"sessions"`
	ActiveSeconds int64  `json:"active_seconds"`
}

// IntervalBucket is a locally regrouped set of daily rollup rows.
type IntervalBucket struct {
	Period            string  `json:"period"`
	PageViews         int64   `json:"page_views"`
	TipViews          int64   `json:"tip_views"`
	TipsCompleted     int64   `json:"tips_completed"`
	Downloads         int64   `json:"downloads"`
	Shares            int64   `json:"shares"`
	Activities        int64   `json:"activities"`
	UniqueUsers       int     `json:"unique_users"`
	Days              int     `json:"days"`
	AvgDailyPageViews float64 `json:"avg_daily_page_views"`
}

// ContentPopularity holds engagement counters for one piece of content.
// All counters are monotonically non-decreasing except the Last*Views
// trailing-window counters.
type ContentPopularity struct {
	ContentType         string    `json:"content_type"`
	ContentID           string    `json:"content_id"`
	ViewCount           int64     `json:"view_count"`
	UniqueViewers       int64     `json:"unique_viewers"`
	CompletionCount     int64     `json:"completion_count"`
	DownloadCount       int64     `json:"download_count"`
	ShareCount          int64     `json:"share_count"`
	AvgTimeSpentSeconds float64   `json:"avg_time_spent_seconds"`
	LastHourViews       int64     `json:"last_hour_views"`
	LastDayViews        int64     `json:"last_day_views"`
	LastWeekViews       int64     `json:"last_week_views"`
	LastMonthViews      int64     `json:"last_month_views"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UserCohort is the retention table row for one cohort.
// A nil retention value means the horizon has not elapsed yet; 0 means no
// user from the cohort was retained.
type UserCohort struct {
	CohortDate      string       `json:"cohort_date"` // YYYY-MM-DD
	CohortPeriod    CohortPeriod `json:"cohort_period"`
	UsersCount      int64        `json:"users_count"`
	RetentionWeek1  *float64     `json:"retention_week_1"`
	RetentionWeek2  *float64     `json:"retention_week_2"`
	RetentionWeek4  *float64     `json:"retention_week_4"`
	RetentionMonth1 *float64     `json:"retention_month_1"`
}

// AnalyticsSummary compares a metric across two adjacent windows of equal length.
type AnalyticsSummary struct {
	MetricName       string  `json:"metric_name"`
	CurrentValue     float64 `json:"current_value"`
	PreviousValue    float64 `json:"previous_value"`
	ChangePercentage float64 `json:"change_percentage"`
	Trend            Trend   `json:"trend"`
}

// SummaryRow is the raw row returned by get_analytics_summary before the trend
// is derived.
type SummaryRow struct {
	MetricName    string
	CurrentValue  float64
	PreviousValue float64
}

// TipStat is a ranked entry in the dashboard's most-viewed tips list.
type TipStat struct {
	TipID       string `json:"tip_id"`
	Views       int64  `json:"views"`
	Completions int64  `json:"completions"`
}

// DailyActivity is one per-day row of the dashboard.
type DailyActivity struct {
	Date          string `json:"date"`
	PageViews     int64  `json:"page_views"`
	TipViews      int64  `json:"tip_views"`
	TipsCompleted int64  `json:"tips_completed"`
	Downloads     int64  `json:"downloads"`
	Shares        int64  `json:"shares"`
}

// MostViewedTipsLimit bounds the dashboard's most-viewed tips list in every
// store. PostgresStore passes it to get_dashboard_analytics.
const MostViewedTipsLimit = 5

// DashboardMetrics is the aggregate returned by get_dashboard_analytics.
type DashboardMetrics struct {
	TotalPageViews     int64           `json:"total_page_views"`
	TotalTipViews      int64           `json:"total_tip_views"`
	TotalTipsCompleted int64           `json:"total_tips_completed"`
	TotalDownloads     int64           `json:"total_downloads"`
	TotalShares        int64           `json:"total_shares"`
	ActiveDays         int64           `json:"active_days"`
	AvgDailyPageViews  float64         `json:"avg_daily_page_views"`
	MostViewedTips     []TipStat       `json:"most_viewed_tips"`
	DailyActivity      []DailyActivity `json:"daily_activity"`
}

// TimeseriesPoint is one bucket of an activity time series.
type TimeseriesPoint struct {
	Bucket      time.Time `json:"bucket"`
	Count       int64     `json:"count"`
	UniqueUsers int64     `json:"unique_users"`
}

// TopContentItem is a ranked content entry returned by get_top_content.
type TopContentItem struct {
	EntityType string     `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Metric     MetricType `json:"metric"`
	Value      int64      `json:"value"`
}

// HourlyActivity is one row of the analytics_hourly view.
type HourlyActivity struct {
	Hour         time.Time    `json:"hour"`
	ActivityType ActivityType `json:"activity_type"`
	Count        int64        `json:"count"`
	UniqueUsers  int64        `json:"unique_users"`
}

// ActivityFeedItem is one row of the activity_feed view.
type ActivityFeedItem struct {
	ActivityEvent
	UserDisplayName string `json:"user_display_name,omitempty"`
}

// SessionAnalytics summarizes all events of one session.
type SessionAnalytics struct {
	SessionID       string    `json:"session_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds int64     `json:"duration_seconds"`
	ActivityCount   int       `json:"activity_count"`
	PageViews       int       `json:"page_views"`
	TipViews        int       `json:"tip_views"`
	Downloads       int       `json:"downloads"`
}

// ContentOrder selects the counter a popularity query ranks by.
type ContentOrder string

// Popularity orderings.
const (
	OrderViewCount      ContentOrder = "view_count"
	OrderLastHourViews  ContentOrder = "last_hour_views"
	OrderLastDayViews   ContentOrder = "last_day_views"
	OrderLastWeekViews  ContentOrder = "last_week_views"
	OrderLastMonthViews ContentOrder = "last_month_views"
)

// ContentQuery parameterizes a content_popularity read.
type ContentQuery struct {
	ContentType string // empty = all types
	OrderBy     ContentOrder
	Limit       int
}

// counter returns the value of the column selected by o.
func (o ContentOrder) counter(c ContentPopularity) int64 {
	switch o {
	case OrderLastHourViews:
		return c.LastHourViews
	case OrderLastDayViews:
		return c.LastDayViews
	case OrderLastWeekViews:
		return c.LastWeekViews
	case OrderLastMonthViews:
		return c.LastMonthViews
	default:
		return c.ViewCount
	}
}

// orderForWindow maps a trailing window to its counter column.
func orderForWindow(w TrendWindow) ContentOrder {
	switch w {
	case WindowHour:
		return OrderLastHourViews
	case WindowDay:
		return OrderLastDayViews
	case WindowWeek:
		return OrderLastWeekViews
	default:
		return OrderLastMonthViews
	}
}
