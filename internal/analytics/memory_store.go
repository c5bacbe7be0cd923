package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownActivityType is returned when an event carries an activity type
// outside the wire enum.
var ErrUnknownActivityType = errors.New("unknown activity type")


// tipEntityType is the entity type recorded for tips content.
const tipEntityType = "tip"

// MemoryStore is an in-memory implementation of Store.
// Rollups are derived from the event log on every read, so writes are visible
// immediately. Thread-safe via RWMutex.
type MemoryStore struct {
	mu           sync.RWMutex
	events       []ActivityEvent
	displayNames map[string]string // user id -> display name
	clock        Clock
	refreshedAt  time.Time
	refreshes    int
}

// NewMemoryStore creates an empty in-memory store. A nil clock uses SystemClock.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &MemoryStore{
		displayNames: make(map[string]string),
		clock:        clock,
	}
}

// SetDisplayName records the name shown for userID in the activity feed.
func (m *MemoryStore) SetDisplayName(userID, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.displayNames[userID] = name
}

// Refreshes returns how many times RefreshViews has run.
func (m *MemoryStore) Refreshes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshes
}

// RecordActivity appends a new event stamped with the store's clock.
func (m *MemoryStore) RecordActivity(ctx context.Context, rec ActivityRecord) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !rec.ActivityType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownActivityType, rec.ActivityType)
	}

	event := ActivityEvent{
		ID:           uuid.New().String(),
		UserID:       copyString(rec.UserID),
		ActivityType: rec.ActivityType,
		EntityType:   copyString(rec.EntityType),
		EntityID:     copyString(rec.EntityID),
		Details:      copyDetails(rec.Details),
		SessionID:    rec.SessionID,
		CreatedAt:    m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return event.ID, nil
}

// Append inserts a fully formed event, keeping its ID and CreatedAt.
// Used to seed historical data.
func (m *MemoryStore) Append(events ...ActivityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		m.events = append(m.events, cloneEvent(e))
	}
}

// DashboardAnalytics aggregates events for userID (empty = all users)
// between startDate and endDate inclusive.
func (m *MemoryStore) DashboardAnalytics(ctx context.Context, userID, startDate, endDate string) (*DashboardMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := &DashboardMetrics{
		MostViewedTips: []TipStat{},
		DailyActivity:  []DailyActivity{},
	}
	days := make(map[string]*DailyActivity)
	tips := make(map[string]*TipStat)

	for _, e := range m.events {
		date := eventDate(e)
		if !inDateRange(date, startDate, endDate) || !matchesUser(e, userID) {
			continue
		}

		day, ok := days[date]
		if !ok {
			day = &DailyActivity{Date: date}
			days[date] = day
		}

		switch {
		case e.ActivityType == ActivityPageView:
			metrics.TotalPageViews++
			day.PageViews++
		case e.ActivityType == ActivityTipView:
			metrics.TotalTipViews++
			day.TipViews++
		case e.ActivityType == ActivityTipComplete:
			metrics.TotalTipsCompleted++
			day.TipsCompleted++
		case e.ActivityType.IsDownload():
			metrics.TotalDownloads++
			day.Downloads++
		case e.ActivityType == ActivityShare:
			metrics.TotalShares++
			day.Shares++
		}

		if tipID, ok := tipOf(e); ok {
			stat, ok := tips[tipID]
			if !ok {
				stat = &TipStat{TipID: tipID}
				tips[tipID] = stat
			}
			switch e.ActivityType {
			case ActivityTipView:
				stat.Views++
			case ActivityTipComplete:
				stat.Completions++
			}
		}
	}

	metrics.ActiveDays = int64(len(days))
	if metrics.ActiveDays > 0 {
		metrics.AvgDailyPageViews = float64(metrics.TotalPageViews) / float64(metrics.ActiveDays)
	}

	for _, d := range days {
		metrics.DailyActivity = append(metrics.DailyActivity, *d)
	}
	sort.Slice(metrics.DailyActivity, func(i, j int) bool {
		return metrics.DailyActivity[i].Date < metrics.DailyActivity[j].Date
	})

	for _, t := range tips {
		if t.Views > 0 {
			metrics.MostViewedTips = append(metrics.MostViewedTips, *t)
		}
	}
	sort.Slice(metrics.MostViewedTips, func(i, j int) bool {
		a, b := metrics.MostViewedTips[i], metrics.MostViewedTips[j]
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		return a.TipID < b.TipID
	})
	if len(metrics.MostViewedTips) > MostViewedTipsLimit {
		metrics.MostViewedTips = metrics.MostViewedTips[:MostViewedTipsLimit]
	}

	return metrics, nil
}

// AnalyticsSummary compares the window startDate..endDate with the window of
// equal length immediately before it.
func (m *MemoryStore) AnalyticsSummary(ctx context.Context, startDate, endDate, userID string) ([]SummaryRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return nil, fmt.Errorf("parse start date: %w", err)
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("parse end date: %w", err)
	}
	days := Window{Start: start, End: end}.Days()
	prevEnd := start.AddDate(0, 0, -1)
	prevStart := prevEnd.AddDate(0, 0, -(days - 1))

	m.mu.RLock()
	defer m.mu.RUnlock()

	current := m.countWindow(startDate, endDate, userID)
	previous := m.countWindow(prevStart.Format(DateLayout), prevEnd.Format(DateLayout), userID)

	rows := make([]SummaryRow, 0, len(summaryMetrics))
	for _, name := range summaryMetrics {
		rows = append(rows, SummaryRow{
			MetricName:    name,
			CurrentValue:  float64(current[name]),
			PreviousValue: float64(previous[name]),
		})
	}
	return rows, nil
}

var summaryMetrics = []string{"page_views", "tip_views", "tips_completed", "downloads", "shares", "active_users"}

// countWindow counts summary metrics for one window. Caller holds the lock.
func (m *MemoryStore) countWindow(startDate, endDate, userID string) map[string]int64 {
	counts := make(map[string]int64, len(summaryMetrics))
	users := make(map[string]struct{})
	for _, e := range m.events {
		if !inDateRange(eventDate(e), startDate, endDate) || !matchesUser(e, userID) {
			continue
		}
		switch {
		case e.ActivityType == ActivityPageView:
			counts["page_views"]++
		case e.ActivityType == ActivityTipView:
			counts["tip_views"]++
		case e.ActivityType == ActivityTipComplete:
			counts["tips_completed"]++
		case e.ActivityType.IsDownload():
			counts["downloads"]++
		case e.ActivityType == ActivityShare:
			counts["shares"]++
		}
		if e.UserID != nil {
			users[*e.UserID] = struct{}{}
		}
	}
	counts["active_users"] = int64(len(users))
	return counts
}

// TopContent ranks entities by metric over the trailing days.
func (m *MemoryStore) TopContent(ctx context.Context, limit, days int, metric MetricType) ([]TopContentItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	since := m.clock.Now().AddDate(0, 0, -days)

	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ entityType, entityID string }
	values := make(map[key]int64)
	for _, e := range m.events {
		if e.EntityType == nil || e.EntityID == nil || e.CreatedAt.Before(since) {
			continue
		}
		if v := metricWeight(e.ActivityType, metric); v > 0 {
			values[key{*e.EntityType, *e.EntityID}] += v
		}
	}

	items := make([]TopContentItem, 0, len(values))
	for k, v := range values {
		items = append(items, TopContentItem{EntityType: k.entityType, EntityID: k.entityID, Metric: metric, Value: v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		return items[i].EntityID < items[j].EntityID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// metricWeight returns how much an activity contributes to metric.
// Engagement weights completions and shares above plain views.
func metricWeight(t ActivityType, metric MetricType) int64 {
	switch metric {
	case MetricViews:
		if t == ActivityPageView || t == ActivityTipView {
			return 1
		}
	case MetricDownloads:
		if t.IsDownload() {
			return 1
		}
	case MetricShares:
		if t == ActivityShare {
			return 1
		}
	case MetricEngagement:
		switch {
		case t == ActivityPageView || t == ActivityTipView:
			return 1
		case t == ActivityTipComplete || t == ActivityShare:
			return 3
		case t.IsDownload() || t == ActivityBookmark:
			return 2
		}
	}
	return 0
}

// ActivityTimeseries buckets events at minute, hour, or day granularity.
// Coarser intervals return ErrIntervalUnsupported; callers regroup daily
// rollup rows instead.
func (m *MemoryStore) ActivityTimeseries(ctx context.Context, startDate, endDate string, interval TimeInterval, userID string) ([]TimeseriesPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var bucketOf func(time.Time) time.Time
	switch interval {
	case IntervalMinute:
		bucketOf = func(t time.Time) time.Time { return t.UTC().Truncate(time.Minute) }
	case IntervalHour:
		bucketOf = func(t time.Time) time.Time { return t.UTC().Truncate(time.Hour) }
	case IntervalDay:
		bucketOf = func(t time.Time) time.Time { return truncateDay(t.UTC()) }
	default:
		return nil, fmt.Errorf("%w: %s", ErrIntervalUnsupported, interval)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type acc struct {
		count int64
		users map[string]struct{}
	}
	buckets := make(map[time.Time]*acc)
	for _, e := range m.events {
		if !inDateRange(eventDate(e), startDate, endDate) || !matchesUser(e, userID) {
			continue
		}
		b := bucketOf(e.CreatedAt)
		a, ok := buckets[b]
		if !ok {
			a = &acc{users: make(map[string]struct{})}
			buckets[b] = a
		}
		a.count++
		if e.UserID != nil {
			a.users[*e.UserID] = struct{}{}
		}
	}

	points := make([]TimeseriesPoint, 0, len(buckets))
	for b, a := range buckets {
		points = append(points, TimeseriesPoint{Bucket: b, Count: a.count, UniqueUsers: int64(len(a.users))})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Bucket.Before(points[j].Bucket)
	})
	return points, nil
}

// UserCohorts assigns each identified user to the period of their first
// event. A user counts as retained at a horizon when they were active at or
// after their own first event plus the horizon. Horizons that have not
// elapsed report 0; the service clears them.
func (m *MemoryStore) UserCohorts(ctx context.Context, period CohortPeriod) ([]UserCohort, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	firstSeen := make(map[string]time.Time)
	lastSeen := make(map[string]time.Time)
	for _, e := range m.events {
		if e.UserID == nil {
			continue
		}
		id := *e.UserID
		if t, ok := firstSeen[id]; !ok || e.CreatedAt.Before(t) {
			firstSeen[id] = e.CreatedAt
		}
		if t, ok := lastSeen[id]; !ok || e.CreatedAt.After(t) {
			lastSeen[id] = e.CreatedAt
		}
	}

	members := make(map[time.Time][]string)
	for id, t := range firstSeen {
		start := cohortStart(t.UTC(), period)
		members[start] = append(members[start], id)
	}

	cohorts := make([]UserCohort, 0, len(members))
	for start, ids := range members {
		retained := func(h horizon) *float64 {
			n := 0
			for _, id := range ids {
				if h.retained(firstSeen[id], lastSeen[id]) {
					n++
				}
			}
			f := float64(n) / float64(len(ids))
			return &f
		}
		cohorts = append(cohorts, UserCohort{
			CohortDate:      start.Format(DateLayout),
			CohortPeriod:    period,
			UsersCount:      int64(len(ids)),
			RetentionWeek1:  retained(horizonWeek1),
			RetentionWeek2:  retained(horizonWeek2),
			RetentionWeek4:  retained(horizonWeek4),
			RetentionMonth1: retained(horizonMonth1),
		})
	}
	sort.Slice(cohorts, func(i, j int) bool {
		return cohorts[i].CohortDate < cohorts[j].CohortDate
	})
	return cohorts, nil
}

// DailyRollup returns one summary row per (user, date). Anonymous activity
// is rolled up under an empty user id.
func (m *MemoryStore) DailyRollup(ctx context.Context, startDate, endDate, userID string) ([]DailyActivitySummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ user, date string }
	type span struct{ first, last time.Time }
	rows := make(map[key]*DailyActivitySummary)
	sessions := make(map[key]map[string]*span)

	for _, e := range m.events {
		date := eventDate(e)
		if !inDateRange(date, startDate, endDate) || !matchesUser(e, userID) {
			continue
		}
		k := key{date: date}
		if e.UserID != nil {
			k.user = *e.UserID
		}
		row, ok := rows[k]
		if !ok {
			row = &DailyActivitySummary{UserID: k.user, Date: date}
			rows[k] = row
			sessions[k] = make(map[string]*span)
		}

		switch {
		case e.ActivityType == ActivityPageView:
			row.PageViews++
		case e.ActivityType == ActivityTipView:
			row.TipViews++
		case e.ActivityType == ActivityTipComplete:
			row.TipsCompleted++
		case e.ActivityType.IsDownload():
			row.Downloads++
		case e.ActivityType == ActivityShare:
			row.Shares++
		}
		row.Activities++

		if e.SessionID != "" {
			s, ok := sessions[k][e.SessionID]
			if !ok {
				sessions[k][e.SessionID] = &span{first: e.CreatedAt, last: e.CreatedAt}
				continue
			}
			if e.CreatedAt.Before(s.first) {
				s.first = e.CreatedAt
			}
			if e.CreatedAt.After(s.last) {
				s.last = e.CreatedAt
			}
		}
	}

	result := make([]DailyActivitySummary, 0, len(rows))
	for k, row := range rows {
		row.Sessions = int64(len(sessions[k]))
		for _, s := range sessions[k] {
			row.ActiveSeconds += int64(s.last.Sub(s.first) / time.Second)
		}
		result = append(result, *row)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

// HourlyActivity counts events per hour and activity type.
func (m *MemoryStore) HourlyActivity(ctx context.Context, startDate, endDate string) ([]HourlyActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		hour time.Time
		typ  ActivityType
	}
	counts := make(map[key]int64)
	users := make(map[key]map[string]struct{})
	for _, e := range m.events {
		if !inDateRange(eventDate(e), startDate, endDate) {
			continue
		}
		k := key{hour: e.CreatedAt.UTC().Truncate(time.Hour), typ: e.ActivityType}
		counts[k]++
		if users[k] == nil {
			users[k] = make(map[string]struct{})
		}
		if e.UserID != nil {
			users[k][*e.UserID] = struct{}{}
		}
	}

	result := make([]HourlyActivity, 0, len(counts))
	for k, n := range counts {
		result = append(result, HourlyActivity{Hour: k.hour, ActivityType: k.typ, Count: n, UniqueUsers: int64(len(users[k]))})
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Hour.Equal(result[j].Hour) {
			return result[i].Hour.Before(result[j].Hour)
		}
		return result[i].ActivityType < result[j].ActivityType
	})
	return result, nil
}

// ContentPopularity computes popularity counters from the event log.
// Trailing-window counters are relative to the store's clock.
func (m *MemoryStore) ContentPopularity(ctx context.Context, q ContentQuery) ([]ContentPopularity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct{ contentType, contentID string }
	type acc struct {
		row       ContentPopularity
		viewers   map[string]struct{}
		timeSpent float64
		timed     int
	}
	groups := make(map[key]*acc)

	for _, e := range m.events {
		if e.EntityType == nil || e.EntityID == nil {
			continue
		}
		if q.ContentType != "" && *e.EntityType != q.ContentType {
			continue
		}
		k := key{*e.EntityType, *e.EntityID}
		a, ok := groups[k]
		if !ok {
			a = &acc{
				row:     ContentPopularity{ContentType: k.contentType, ContentID: k.contentID},
				viewers: make(map[string]struct{}),
			}
			groups[k] = a
		}

		switch {
		case e.ActivityType == ActivityPageView || e.ActivityType == ActivityTipView:
			a.row.ViewCount++
			if e.UserID != nil {
				a.viewers[*e.UserID] = struct{}{}
			}
			age := now.Sub(e.CreatedAt)
			if age < time.Hour {
				a.row.LastHourViews++
			}
			if age < 24*time.Hour {
				a.row.LastDayViews++
			}
			if age < 7*24*time.Hour {
				a.row.LastWeekViews++
			}
			if !e.CreatedAt.Before(now.AddDate(0, -1, 0)) {
				a.row.LastMonthViews++
			}
		case e.ActivityType == ActivityTipComplete:
			a.row.CompletionCount++
		case e.ActivityType.IsDownload():
			a.row.DownloadCount++
		case e.ActivityType == ActivityShare:
			a.row.ShareCount++
		}

		if secs, ok := numberDetail(e.Details, "time_spent_seconds"); ok {
			a.timeSpent += secs
			a.timed++
		}
	}

	updatedAt := m.refreshedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	result := make([]ContentPopularity, 0, len(groups))
	for _, a := range groups {
		a.row.UniqueViewers = int64(len(a.viewers))
		if a.timed > 0 {
			a.row.AvgTimeSpentSeconds = a.timeSpent / float64(a.timed)
		}
		a.row.UpdatedAt = updatedAt
		result = append(result, a.row)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := q.OrderBy.counter(result[i]), q.OrderBy.counter(result[j])
		if a != b {
			return a > b
		}
		return result[i].ContentID < result[j].ContentID
	})
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// ActivityFeed returns the most recent events, newest first.
func (m *MemoryStore) ActivityFeed(ctx context.Context, limit int) ([]ActivityFeedItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	recent := m.recent("", limit)
	items := make([]ActivityFeedItem, 0, len(recent))
	for _, e := range recent {
		item := ActivityFeedItem{ActivityEvent: e}
		if e.UserID != nil {
			item.UserDisplayName = m.displayNames[*e.UserID]
		}
		items = append(items, item)
	}
	return items, nil
}

// UserActivities returns userID's most recent events, newest first.
// An empty userID returns events of all users.
func (m *MemoryStore) UserActivities(ctx context.Context, userID string, limit int) ([]ActivityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recent(userID, limit), nil
}

// recent returns up to limit events newest first. Caller holds the lock.
func (m *MemoryStore) recent(userID string, limit int) []ActivityEvent {
	result := make([]ActivityEvent, 0)
	for i := len(m.events) - 1; i >= 0; i-- {
		if matchesUser(m.events[i], userID) {
			result = append(result, cloneEvent(m.events[i]))
		}
	}
	// Events appended out of order (seeded history) still come back newest first.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// SessionEvents returns all events of sessionID ordered by CreatedAt.
func (m *MemoryStore) SessionEvents(ctx context.Context, sessionID string) ([]ActivityEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ActivityEvent, 0)
	for _, e := range m.events {
		if e.SessionID == sessionID {
			result = append(result, cloneEvent(e))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// RefreshViews stamps the popularity snapshot time. Derived data is always
// current in memory, so there is nothing to recompute.
func (m *MemoryStore) RefreshViews(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshedAt = m.clock.Now()
	m.refreshes++
	return nil
}

func eventDate(e ActivityEvent) string {
	return e.CreatedAt.UTC().Format(DateLayout)
}

// inDateRange compares ISO dates lexically; both bounds are inclusive.
func inDateRange(date, start, end string) bool {
	return date >= start && date <= end
}

func matchesUser(e ActivityEvent, userID string) bool {
	if userID == "" {
		return true
	}
	return e.UserID != nil && *e.UserID == userID
}

func tipOf(e ActivityEvent) (string, bool) {
	if e.EntityType == nil || e.EntityID == nil || *e.EntityType != tipEntityType {
		return "", false
	}
	return *e.EntityID, true
}

func numberDetail(details map[string]any, key string) (float64, bool) {
	switch v := details[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func cloneEvent(e ActivityEvent) ActivityEvent {
	e.UserID = copyString(e.UserID)
	e.EntityType = copyString(e.EntityType)
	e.EntityID = copyString(e.EntityID)
	e.Details = copyDetails(e.Details)
	return e
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func copyDetails(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
