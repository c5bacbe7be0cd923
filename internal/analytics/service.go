package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdbt/analytics/internal/stats"
)

// Default limits and timeouts.
const (
	DefaultCallTimeout = 5 * time.Second
	DefaultLimit       = 10
	MaxLimit           = 100
	DefaultTopDays     = 30
)

// IdentityResolver resolves the currently authenticated user, if any.
type IdentityResolver interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// anonymous never resolves a user.
type anonymous struct{}

func (anonymous) CurrentUserID(context.Context) (string, bool) { return "", false }

// Service is the client-side analytics API. Tracking and every read method
// degrade to an empty value when the store fails; no method returns an error
// or panics because of the store.
type Service struct {
	store       Store
	clock       Clock
	identity    IdentityResolver
	observer    Observer
	stats       *stats.IngestStats
	callTimeout time.Duration
	launchDate  time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to resolve relative time ranges.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIdentity sets the resolver consulted when a tracking call has no user id.
func WithIdentity(r IdentityResolver) Option {
	return func(s *Service) { s.identity = r }
}

// WithObserver sets the observer that receives every call outcome.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithCallTimeout bounds each store round trip.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithLaunchDate sets the floor of the "all" preset.
func WithLaunchDate(t time.Time) Option {
	return func(s *Service) {
		if !t.IsZero() {
			s.launchDate = t
		}
	}
}

// WithStats sets the ingestion counters updated by TrackActivity.
func WithStats(st *stats.IngestStats) Option {
	return func(s *Service) { s.stats = st }
}

// NewService creates a Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		clock:       SystemClock{},
		identity:    anonymous{},
		observer:    nopObserver{},
		stats:       stats.NewIngestStats(),
		callTimeout: DefaultCallTimeout,
		launchDate:  DefaultLaunchDate,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the ingestion counters.
func (s *Service) Stats() *stats.IngestStats {
	return s.stats
}

// call performs one bounded store round trip and reports its outcome.
func call[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (out outcome[T]) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = failed[T](op, fmt.Errorf("store panic: %v", r))
		}
		if out.ok() {
			s.observer.Success(ctx, op, time.Since(start))
		} else {
			s.observer.Failure(ctx, out.err, time.Since(start))
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		return failed[T](op, err)
	}
	return succeeded(v)
}

// reject reports invalid input for op without touching the store.
func reject[T any](ctx context.Context, s *Service, op, format string, args ...any) outcome[T] {
	out := invalid[T](op, format, args...)
	s.observer.Failure(ctx, out.err, 0)
	return out
}

func (s *Service) window(tr TimeRange) Window {
	return resolveTimeRange(tr, s.clock.Now(), s.launchDate)
}

func (s *Service) resolveUser(ctx context.Context, userID string) string {
	if userID != "" {
		return userID
	}
	if id, ok := s.identity.CurrentUserID(ctx); ok {
		return id
	}
	return ""
}

// TrackActivity records a single user action and returns the new event id.
// If req.UserID is empty the current identity is used; with no identity the
// event is stored anonymously. On any failure it returns "", false.
func (s *Service) TrackActivity(ctx context.Context, req TrackRequest) (string, bool) {
	const op = "track_activity"

	if !req.ActivityType.Valid() {
		reject[string](ctx, s, op, "unknown activity type %q", req.ActivityType)
		s.stats.RecordDropped()
		return "", false
	}

	rec := ActivityRecord{
		UserID:       optional(s.resolveUser(ctx, req.UserID)),
		ActivityType: req.ActivityType,
		EntityType:   optional(req.EntityType),
		EntityID:     optional(req.EntityID),
		Details:      req.Details,
		SessionID:    req.SessionID,
	}

	out := call(ctx, s, op, func(ctx context.Context) (string, error) {
		return s.store.RecordActivity(ctx, rec)
	})
	if !out.ok() {
		s.stats.RecordDropped()
		return "", false
	}

	s.stats.RecordStored()
	return out.value, true
}

// GetDashboardMetrics returns the aggregate for userID (empty = global) over
// the resolved range, or nil when the store fails or has no row.
func (s *Service) GetDashboardMetrics(ctx context.Context, userID string, tr TimeRange) *DashboardMetrics {
	w := s.window(tr)
	out := call(ctx, s, "get_dashboard_analytics", func(ctx context.Context) (*DashboardMetrics, error) {
		return s.store.DashboardAnalytics(ctx, userID, w.StartDate(), w.EndDate())
	})
	m := out.orElse(nil)
	if m == nil {
		return nil
	}
	if m.MostViewedTips == nil {
		m.MostViewedTips = []TipStat{}
	}
	if m.DailyActivity == nil {
		m.DailyActivity = []DailyActivity{}
	}
	return m
}

// GetAnalyticsSummary returns the server-computed metric comparisons for the
// range, with trends derived locally.
func (s *Service) GetAnalyticsSummary(ctx context.Context, tr TimeRange, userID string) []AnalyticsSummary {
	w := s.window(tr)
	out := call(ctx, s, "get_analytics_summary", func(ctx context.Context) ([]SummaryRow, error) {
		return s.store.AnalyticsSummary(ctx, w.StartDate(), w.EndDate(), userID)
	})

	rows := out.orElse(nil)
	result := make([]AnalyticsSummary, 0, len(rows))
	for _, r := range rows {
		result = append(result, CompareValues(r.MetricName, r.CurrentValue, r.PreviousValue))
	}
	return result
}

// CompareWindows compares dashboard totals for the resolved range against the
// immediately preceding range of equal length. Both windows are fetched
// concurrently; if either fails the result is empty.
func (s *Service) CompareWindows(ctx context.Context, tr TimeRange, userID string) []AnalyticsSummary {
	current := s.window(tr)
	previous := PreviousWindow(current)

	var cur, prev *DashboardMetrics
	g, gctx := errgroup.WithContext(ctx)
	fetch := func(w Window, dst **DashboardMetrics) func() error {
		return func() error {
			out := call(gctx, s, "get_dashboard_analytics", func(ctx context.Context) (*DashboardMetrics, error) {
				return s.store.DashboardAnalytics(ctx, userID, w.StartDate(), w.EndDate())
			})
			if !out.ok() {
				return out.err
			}
			*dst = out.value
			return nil
		}
	}
	g.Go(fetch(current, &cur))
	g.Go(fetch(previous, &prev))

	if err := g.Wait(); err != nil {
		return []AnalyticsSummary{}
	}
	return compareDashboards(cur, prev)
}

// GetTopContent ranks content by metric over the trailing days.
func (s *Service) GetTopContent(ctx context.Context, limit, days int, metric MetricType) []TopContentItem {
	const op = "get_top_content"
	if metric == "" {
		metric = MetricViews
	}
	if !metric.Valid() {
		return reject[[]TopContentItem](ctx, s, op, "unknown metric %q", metric).orElse([]TopContentItem{})
	}
	if days <= 0 {
		days = DefaultTopDays
	}
	limit = normalizeLimit(limit)

	out := call(ctx, s, op, func(ctx context.Context) ([]TopContentItem, error) {
		return s.store.TopContent(ctx, limit, days, metric)
	})
	items := nonNil(out.orElse(nil))
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// GetActivityTimeseries returns activity counts bucketed by interval. When the
// store cannot group at week or month granularity, daily rollup rows are
// fetched and regrouped locally.
func (s *Service) GetActivityTimeseries(ctx context.Context, tr TimeRange, interval TimeInterval, userID string) []TimeseriesPoint {
	const op = "get_activity_timeseries"
	if interval == "" {
		interval = IntervalDay
	}
	if !interval.Valid() {
		return reject[[]TimeseriesPoint](ctx, s, op, "unknown interval %q", interval).orElse([]TimeseriesPoint{})
	}

	w := s.window(tr)
	fallback := false
	out := call(ctx, s, op, func(ctx context.Context) ([]TimeseriesPoint, error) {
		points, err := s.store.ActivityTimeseries(ctx, w.StartDate(), w.EndDate(), interval, userID)
		if errors.Is(err, ErrIntervalUnsupported) && (interval == IntervalWeek || interval == IntervalMonth) {
			fallback = true
			return nil, nil
		}
		return points, err
	})
	if !fallback {
		return nonNil(out.orElse(nil))
	}

	rows := call(ctx, s, "analytics_daily_rollup", func(ctx context.Context) ([]DailyActivitySummary, error) {
		return s.store.DailyRollup(ctx, w.StartDate(), w.EndDate(), userID)
	}).orElse(nil)
	return bucketsToPoints(GroupByInterval(rows, interval), interval)
}

// GetDailyRollup reads daily rollup rows and regroups them by interval
// (day, week, or month).
func (s *Service) GetDailyRollup(ctx context.Context, tr TimeRange, interval TimeInterval, userID string) []IntervalBucket {
	const op = "analytics_daily_rollup"
	if interval == "" {
		interval = IntervalDay
	}
	if interval != IntervalDay && interval != IntervalWeek && interval != IntervalMonth {
		return reject[[]IntervalBucket](ctx, s, op, "interval %q is finer than a day", interval).orElse([]IntervalBucket{})
	}

	w := s.window(tr)
	rows := call(ctx, s, op, func(ctx context.Context) ([]DailyActivitySummary, error) {
		return s.store.DailyRollup(ctx, w.StartDate(), w.EndDate(), userID)
	}).orElse(nil)
	return nonNil(GroupByInterval(rows, interval))
}

// GetHourlyActivity reads hourly activity counts for the range.
func (s *Service) GetHourlyActivity(ctx context.Context, tr TimeRange) []HourlyActivity {
	w := s.window(tr)
	out := call(ctx, s, "analytics_hourly", func(ctx context.Context) ([]HourlyActivity, error) {
		return s.store.HourlyActivity(ctx, w.StartDate(), w.EndDate())
	})
	return nonNil(out.orElse(nil))
}

// GetUserCohorts returns the retention table for period. Retention values
// for horizons that have not elapsed yet are nil.
func (s *Service) GetUserCohorts(ctx context.Context, period CohortPeriod) []UserCohort {
	const op = "get_user_cohorts"
	if period == "" {
		period = CohortWeek
	}
	if !period.Valid() {
		return reject[[]UserCohort](ctx, s, op, "unknown cohort period %q", period).orElse([]UserCohort{})
	}

	cohorts := call(ctx, s, op, func(ctx context.Context) ([]UserCohort, error) {
		return s.store.UserCohorts(ctx, period)
	}).orElse(nil)

	now := s.clock.Now()
	result := make([]UserCohort, 0, len(cohorts))
	for _, c := range cohorts {
		c.CohortPeriod = period
		result = append(result, NormalizeCohort(c, now))
	}
	return result
}

// GetPopularContent ranks content of contentType (empty = all types) by
// all-time view count.
func (s *Service) GetPopularContent(ctx context.Context, contentType string, limit int) []ContentPopularity {
	return s.rankedContent(ctx, "content_popularity", ContentQuery{
		ContentType: contentType,
		OrderBy:     OrderViewCount,
		Limit:       normalizeLimit(limit),
	})
}

// GetTrendingContent ranks content by the trailing-window counter matching window.
func (s *Service) GetTrendingContent(ctx context.Context, window TrendWindow, limit int) []ContentPopularity {
	const op = "trending_content"
	if window == "" {
		window = WindowDay
	}
	if !window.Valid() {
		return reject[[]ContentPopularity](ctx, s, op, "unknown trend window %q", window).orElse([]ContentPopularity{})
	}
	return s.rankedContent(ctx, op, ContentQuery{
		OrderBy: orderForWindow(window),
		Limit:   normalizeLimit(limit),
	})
}

// rankedContent fetches popularity rows and re-ranks them by the requested
// counter descending, breaking ties by content id ascending.
func (s *Service) rankedContent(ctx context.Context, op string, q ContentQuery) []ContentPopularity {
	rows := call(ctx, s, op, func(ctx context.Context) ([]ContentPopularity, error) {
		return s.store.ContentPopularity(ctx, q)
	}).orElse(nil)
	return rankContent(rows, q.OrderBy, q.Limit)
}

func rankContent(rows []ContentPopularity, order ContentOrder, limit int) []ContentPopularity {
	ranked := make([]ContentPopularity, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := order.counter(ranked[i]), order.counter(ranked[j])
		if a != b {
			return a > b
		}
		if ranked[i].ContentID != ranked[j].ContentID {
			return ranked[i].ContentID < ranked[j].ContentID
		}
		return ranked[i].ContentType < ranked[j].ContentType
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// GetActivityFeed returns the most recent feed items.
func (s *Service) GetActivityFeed(ctx context.Context, limit int) []ActivityFeedItem {
	items, _ := s.PollActivityFeed(ctx, limit)
	return items
}

// PollActivityFeed is GetActivityFeed for pollers. ok is false when the read
// degraded to the empty fallback.
func (s *Service) PollActivityFeed(ctx context.Context, limit int) (items []ActivityFeedItem, ok bool) {
	limit = normalizeLimit(limit)
	out := call(ctx, s, "activity_feed", func(ctx context.Context) ([]ActivityFeedItem, error) {
		return s.store.ActivityFeed(ctx, limit)
	})
	return nonNil(out.orElse(nil)), out.ok()
}

// GetUserActivities returns the most recent events of userID. An empty userID
// falls back to the current identity and then to all users.
func (s *Service) GetUserActivities(ctx context.Context, userID string, limit int) []ActivityEvent {
	userID = s.resolveUser(ctx, userID)
	limit = normalizeLimit(limit)
	out := call(ctx, s, "user_activities", func(ctx context.Context) ([]ActivityEvent, error) {
		return s.store.UserActivities(ctx, userID, limit)
	})
	return nonNil(out.orElse(nil))
}

// GetSessionAnalytics summarizes a session, or returns nil when the session
// has no events or the store fails.
func (s *Service) GetSessionAnalytics(ctx context.Context, sessionID string) *SessionAnalytics {
	const op = "session_events"
	if sessionID == "" {
		reject[[]ActivityEvent](ctx, s, op, "empty session id")
		return nil
	}

	events := call(ctx, s, op, func(ctx context.Context) ([]ActivityEvent, error) {
		return s.store.SessionEvents(ctx, sessionID)
	}).orElse(nil)
	return ComputeSessionAnalytics(sessionID, events)
}

// RefreshViews asks the store to recompute derived views. Reports whether the
// refresh succeeded.
func (s *Service) RefreshViews(ctx context.Context) bool {
	out := call(ctx, s, "refresh_analytics_views", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.RefreshViews(ctx)
	})
	return out.ok()
}

// bucketsToPoints converts locally grouped buckets into time series points.
func bucketsToPoints(buckets []IntervalBucket, interval TimeInterval) []TimeseriesPoint {
	layout := DateLayout
	if interval == IntervalMonth {
		layout = "2006-01"
	}
	points := make([]TimeseriesPoint, 0, len(buckets))
	for _, b := range buckets {
		t, err := time.Parse(layout, b.Period)
		if err != nil {
			continue
		}
		points = append(points, TimeseriesPoint{
			Bucket:      t,
			Count:       b.Activities,
			UniqueUsers: int64(b.UniqueUsers),
		})
	}
	return points
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
