package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdbt/analytics/internal/tracing"
)

// PostgresStore implements Store against the analytics schema in PostgreSQL.
// Every method is a single statement calling one procedure or reading one view.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// RecordActivity calls track_activity and returns the new event id.
func (s *PostgresStore) RecordActivity(ctx context.Context, rec ActivityRecord) (id string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_activities", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	details, err := marshalDetails(rec.Details)
	if err != nil {
		return "", err
	}

	query := `SELECT track_activity($1, $2, $3, $4, $5::jsonb, NULLIF($6, ''))`
	err = s.db.QueryRowContext(ctx, query,
		nullString(rec.UserID),
		string(rec.ActivityType),
		nullString(rec.EntityType),
		nullString(rec.EntityID),
		details,
		rec.SessionID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("track activity: %w", err)
	}
	return id, nil
}

// DashboardAnalytics calls get_dashboard_analytics, which returns a single
// jsonb document.
func (s *PostgresStore) DashboardAnalytics(ctx context.Context, userID, startDate, endDate string) (m *DashboardMetrics, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "get_dashboard_analytics", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT get_dashboard_analytics(NULLIF($1, ''), $2::date, $3::date, $4)`
	var raw []byte
	err = s.db.QueryRowContext(ctx, query, userID, startDate, endDate, MostViewedTipsLimit).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dashboard analytics: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	m = &DashboardMetrics{}
	if err = json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode dashboard analytics: %w", err)
	}
	return m, nil
}

// AnalyticsSummary calls get_analytics_summary.
func (s *PostgresStore) AnalyticsSummary(ctx context.Context, startDate, endDate, userID string) (result []SummaryRow, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "get_analytics_summary", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT metric_name, current_value, previous_value
		FROM get_analytics_summary($1::date, $2::date, NULLIF($3, ''))
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate, userID)
	if err != nil {
		return nil, fmt.Errorf("get analytics summary: %w", err)
	}
	defer rows.Close()

	result = []SummaryRow{}
	for rows.Next() {
		var r SummaryRow
		if err = rows.Scan(&r.MetricName, &r.CurrentValue, &r.PreviousValue); err != nil {
			return nil, fmt.Errorf("scan analytics summary: %w", err)
		}
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analytics summary: %w", err)
	}
	return result, nil
}

// TopContent calls get_top_content.
func (s *PostgresStore) TopContent(ctx context.Context, limit, days int, metric MetricType) (result []TopContentItem, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "get_top_content", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT entity_type, entity_id, metric_value FROM get_top_content($1, $2, $3)`
	rows, err := s.db.QueryContext(ctx, query, limit, days, string(metric))
	if err != nil {
		return nil, fmt.Errorf("get top content: %w", err)
	}
	defer rows.Close()

	result = []TopContentItem{}
	for rows.Next() {
		item := TopContentItem{Metric: metric}
		if err = rows.Scan(&item.EntityType, &item.EntityID, &item.Value); err != nil {
			return nil, fmt.Errorf("scan top content: %w", err)
		}
		result = append(result, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top content: %w", err)
	}
	return result, nil
}

// ActivityTimeseries calls get_activity_timeseries. The procedure buckets
// with date_trunc and supports every interval.
func (s *PostgresStore) ActivityTimeseries(ctx context.Context, startDate, endDate string, interval TimeInterval, userID string) (result []TimeseriesPoint, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "get_activity_timeseries", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT bucket, activity_count, unique_users
		FROM get_activity_timeseries($1::date, $2::date, $3, NULLIF($4, ''))
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate, string(interval), userID)
	if err != nil {
		return nil, fmt.Errorf("get activity timeseries: %w", err)
	}
	defer rows.Close()

	result = []TimeseriesPoint{}
	for rows.Next() {
		var p TimeseriesPoint
		if err = rows.Scan(&p.Bucket, &p.Count, &p.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan activity timeseries: %w", err)
		}
		p.Bucket = p.Bucket.UTC()
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity timeseries: %w", err)
	}
	return result, nil
}

// UserCohorts calls get_user_cohorts.
func (s *PostgresStore) UserCohorts(ctx context.Context, period CohortPeriod) (result []UserCohort, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "get_user_cohorts", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT cohort_date, users_count, retention_week_1, retention_week_2,
		       retention_week_4, retention_month_1
		FROM get_user_cohorts($1)
	`
	rows, err := s.db.QueryContext(ctx, query, string(period))
	if err != nil {
		return nil, fmt.Errorf("get user cohorts: %w", err)
	}
	defer rows.Close()

	result = []UserCohort{}
	for rows.Next() {
		var (
			cohortDate             time.Time
			week1, week2, week4, m1 sql.NullFloat64
		)
		c := UserCohort{CohortPeriod: period}
		if err = rows.Scan(&cohortDate, &c.UsersCount, &week1, &week2, &week4, &m1); err != nil {
			return nil, fmt.Errorf("scan user cohorts: %w", err)
		}
		c.CohortDate = cohortDate.Format(DateLayout)
		c.RetentionWeek1 = nullFloat(week1)
		c.RetentionWeek2 = nullFloat(week2)
		c.RetentionWeek4 = nullFloat(week4)
		c.RetentionMonth1 = nullFloat(m1)
		result = append(result, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user cohorts: %w", err)
	}
	return result, nil
}

// DailyRollup reads analytics_daily_rollup.
func (s *PostgresStore) DailyRollup(ctx context.Context, startDate, endDate, userID string) (result []DailyActivitySummary, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "analytics_daily_rollup", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT COALESCE(user_id, ''), activity_date, page_views, tip_views, tips_completed,
		       downloads, shares, activities, sessions, active_seconds
		FROM analytics_daily_rollup
		WHERE activity_date BETWEEN $1::date AND $2::date
		  AND ($3 = '' OR user_id = $3)
		ORDER BY activity_date, user_id
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate, userID)
	if err != nil {
		return nil, fmt.Errorf("read daily rollup: %w", err)
	}
	defer rows.Close()

	result = []DailyActivitySummary{}
	for rows.Next() {
		var (
			r    DailyActivitySummary
			date time.Time
		)
		if err = rows.Scan(&r.UserID, &date, &r.PageViews, &r.TipViews, &r.TipsCompleted,
			&r.Downloads, &r.Shares, &r.Activities, &r.Sessions, &r.ActiveSeconds); err != nil {
			return nil, fmt.Errorf("scan daily rollup: %w", err)
		}
		r.Date = date.Format(DateLayout)
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily rollup: %w", err)
	}
	return result, nil
}

// HourlyActivity reads analytics_hourly.
func (s *PostgresStore) HourlyActivity(ctx context.Context, startDate, endDate string) (result []HourlyActivity, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "analytics_hourly", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT hour, activity_type, activity_count, unique_users
		FROM analytics_hourly
		WHERE hour >= $1::date AND hour < $2::date + INTERVAL '1 day'
		ORDER BY hour, activity_type
	`
	rows, err := s.db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("read hourly activity: %w", err)
	}
	defer rows.Close()

	result = []HourlyActivity{}
	for rows.Next() {
		var h HourlyActivity
		if err = rows.Scan(&h.Hour, &h.ActivityType, &h.Count, &h.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan hourly activity: %w", err)
		}
		h.Hour = h.Hour.UTC()
		result = append(result, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hourly activity: %w", err)
	}
	return result, nil
}

// popularityColumns maps orderings to their column; only these names are
// ever interpolated into SQL.
var popularityColumns = map[ContentOrder]string{
	OrderViewCount:      "view_count",
	OrderLastHourViews:  "last_hour_views",
	OrderLastDayViews:   "last_day_views",
	OrderLastWeekViews:  "last_week_views",
	OrderLastMonthViews: "last_month_views",
}

// ContentPopularity reads content_popularity ordered by the requested counter.
func (s *PostgresStore) ContentPopularity(ctx context.Context, q ContentQuery) (result []ContentPopularity, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_popularity", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	column, ok := popularityColumns[q.OrderBy]
	if !ok {
		column = popularityColumns[OrderViewCount]
	}

	query := fmt.Sprintf(`
		SELECT content_type, content_id, view_count, unique_viewers, completion_count,
		       download_count, share_count, avg_time_spent_seconds, last_hour_views,
		       last_day_views, last_week_views, last_month_views, updated_at
		FROM content_popularity
		WHERE ($1 = '' OR content_type = $1)
		ORDER BY %s DESC, content_id ASC
		LIMIT $2
	`, column)
	rows, err := s.db.QueryContext(ctx, query, q.ContentType, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("read content popularity: %w", err)
	}
	defer rows.Close()

	result = []ContentPopularity{}
	for rows.Next() {
		var c ContentPopularity
		if err = rows.Scan(&c.ContentType, &c.ContentID, &c.ViewCount, &c.UniqueViewers,
			&c.CompletionCount, &c.DownloadCount, &c.ShareCount, &c.AvgTimeSpentSeconds,
			&c.LastHourViews, &c.LastDayViews, &c.LastWeekViews, &c.LastMonthViews,
			&c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan content popularity: %w", err)
		}
		result = append(result, c)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content popularity: %w", err)
	}
	return result, nil
}

// ActivityFeed reads the most recent activity_feed rows.
func (s *PostgresStore) ActivityFeed(ctx context.Context, limit int) (result []ActivityFeedItem, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "activity_feed", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, user_id, activity_type, entity_type, entity_id, details,
		       COALESCE(session_id, ''), created_at, COALESCE(user_display_name, '')
		FROM activity_feed
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("read activity feed: %w", err)
	}
	defer rows.Close()

	result = []ActivityFeedItem{}
	for rows.Next() {
		var item ActivityFeedItem
		var sc eventScanner
		if err = rows.Scan(append(sc.targets(), &item.UserDisplayName)...); err != nil {
			return nil, fmt.Errorf("scan activity feed: %w", err)
		}
		if item.ActivityEvent, err = sc.event(); err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity feed: %w", err)
	}
	return result, nil
}

// UserActivities reads the most recent user_activities rows for userID.
func (s *PostgresStore) UserActivities(ctx context.Context, userID string, limit int) (result []ActivityEvent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_activities", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, user_id, activity_type, entity_type, entity_id, details,
		       COALESCE(session_id, ''), created_at
		FROM user_activities
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	return s.queryEvents(ctx, "user activities", query, userID, limit)
}

// SessionEvents reads all events of sessionID in time order.
func (s *PostgresStore) SessionEvents(ctx context.Context, sessionID string) (result []ActivityEvent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_activities", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, user_id, activity_type, entity_type, entity_id, details,
		       COALESCE(session_id, ''), created_at
		FROM user_activities
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	return s.queryEvents(ctx, "session events", query, sessionID)
}

// RefreshViews calls refresh_analytics_views.
func (s *PostgresStore) RefreshViews(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "refresh_analytics_views", tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	start := time.Now()
	if _, err = s.db.ExecContext(ctx, `SELECT refresh_analytics_views()`); err != nil {
		return fmt.Errorf("refresh analytics views: %w", err)
	}
	s.logger.DebugContext(ctx, "analytics views refreshed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *PostgresStore) queryEvents(ctx context.Context, what, query string, args ...any) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	defer rows.Close()

	result := []ActivityEvent{}
	for rows.Next() {
		var sc eventScanner
		if err := rows.Scan(sc.targets()...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", what, err)
		}
		e, err := sc.event()
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return result, nil
}

// eventScanner holds the nullable columns of one user_activities row.
type eventScanner struct {
	id           string
	userID       sql.NullString
	activityType string
	entityType   sql.NullString
	entityID     sql.NullString
	details      []byte
	sessionID    string
	createdAt    time.Time
}

func (sc *eventScanner) targets() []any {
	return []any{&sc.id, &sc.userID, &sc.activityType, &sc.entityType, &sc.entityID,
		&sc.details, &sc.sessionID, &sc.createdAt}
}

func (sc *eventScanner) event() (ActivityEvent, error) {
	e := ActivityEvent{
		ID:           sc.id,
		UserID:       stringPtr(sc.userID),
		ActivityType: ActivityType(sc.activityType),
		EntityType:   stringPtr(sc.entityType),
		EntityID:     stringPtr(sc.entityID),
		SessionID:    sc.sessionID,
		CreatedAt:    sc.createdAt.UTC(),
	}
	if len(sc.details) > 0 {
		if err := json.Unmarshal(sc.details, &e.Details); err != nil {
			return ActivityEvent{}, fmt.Errorf("decode activity details: %w", err)
		}
	}
	return e, nil
}

func marshalDetails(d map[string]any) (any, error) {
	if len(d) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode activity details: %w", err)
	}
	return string(b), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
