package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bdbt/analytics/internal/analytics"
	"github.com/bdbt/analytics/internal/middleware"
	"github.com/bdbt/analytics/internal/validate"
)

// maxTrackBodyBytes bounds POST /analytics/track bodies.
const maxTrackBodyBytes = 64 << 10

// Refresher runs one derived view refresh cycle.
type Refresher interface {
	RunOnce(ctx context.Context) error
}

// AnalyticsHandlers serves the analytics read and ingestion endpoints.
// Read endpoints answer 200 with an empty-safe value when the backend is
// degraded; only malformed input produces an error response.
type AnalyticsHandlers struct {
	service   *analytics.Service
	refresher Refresher
	trackMW   func(http.Handler) http.Handler
}

// NewAnalyticsHandlers creates handlers backed by service. refresher may be
// nil, in which case the refresh endpoint reports the feature unavailable.
func NewAnalyticsHandlers(service *analytics.Service, refresher Refresher) *AnalyticsHandlers {
	return &AnalyticsHandlers{service: service, refresher: refresher}
}

// WithTrackMiddleware wraps the ingestion route, typically with a rate limiter.
func (h *AnalyticsHandlers) WithTrackMiddleware(mw func(http.Handler) http.Handler) *AnalyticsHandlers {
	h.trackMW = mw
	return h
}

// Register mounts the analytics routes on mux.
func (h *AnalyticsHandlers) Register(mux *http.ServeMux) {
	var track http.Handler = http.HandlerFunc(h.Track)
	if h.trackMW != nil {
		track = h.trackMW(track)
	}
	mux.Handle("POST /analytics/track", track)
	mux.HandleFunc("GET /analytics/dashboard", h.Dashboard)
	mux.HandleFunc("GET /analytics/summary", h.Summary)
	mux.HandleFunc("GET /analytics/compare", h.Compare)
	mux.HandleFunc("GET /analytics/timeseries", h.Timeseries)
	mux.HandleFunc("GET /analytics/rollup", h.Rollup)
	mux.HandleFunc("GET /analytics/hourly", h.Hourly)
	mux.HandleFunc("GET /analytics/top-content", h.TopContent)
	mux.HandleFunc("GET /analytics/cohorts", h.Cohorts)
	mux.HandleFunc("GET /analytics/popular", h.Popular)
	mux.HandleFunc("GET /analytics/trending", h.Trending)
	mux.HandleFunc("GET /analytics/feed", h.Feed)
	mux.HandleFunc("GET /analytics/users/{id}/activities", h.UserActivities)
	mux.HandleFunc("GET /analytics/sessions/{id}", h.Session)
	// Refresh needs a verified bearer token.
	mux.Handle("POST /internal/analytics/refresh", middleware.RequireUser(http.HandlerFunc(h.Refresh)))
}

// TrackResponse is the body of POST /analytics/track. ID is null when the
// event could not be recorded.
type TrackResponse struct {
	ID *string `json:"id"`
}

// Track handles POST /analytics/track.
// Returns 201 with the event id, or 202 with a null id when recording failed;
// tracking never fails the caller's request flow.
func (h *AnalyticsHandlers) Track(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req analytics.TrackRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxTrackBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, ctx, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "Request body too large")
			return
		}
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body")
		return
	}
	if !req.ActivityType.Valid() {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Unknown activity_type")
		return
	}
	if err := validateTrackRequest(&req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	id, ok := h.service.TrackActivity(ctx, req)
	if !ok {
		writeJSON(w, ctx, http.StatusAccepted, TrackResponse{})
		return
	}
	writeJSON(w, ctx, http.StatusCreated, TrackResponse{ID: &id})
}

// Dashboard handles GET /analytics/dashboard?user_id&preset|start&end.
// The body is null when the dashboard could not be computed.
func (h *AnalyticsHandlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseTimeRange(q)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetDashboardMetrics(r.Context(), q.Get("user_id"), tr))
}

// Summary handles GET /analytics/summary.
func (h *AnalyticsHandlers) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseTimeRange(q)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetAnalyticsSummary(r.Context(), tr, q.Get("user_id")))
}

// Compare handles GET /analytics/compare.
func (h *AnalyticsHandlers) Compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseTimeRange(q)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.CompareWindows(r.Context(), tr, q.Get("user_id")))
}

// Timeseries handles GET /analytics/timeseries?interval.
func (h *AnalyticsHandlers) Timeseries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseTimeRange(q)
	if err != nil {
		validationError(w, r, err)
		return
	}
	interval, err := parseEnum(q, "interval", analytics.IntervalDay, analytics.TimeInterval.Valid)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetActivityTimeseries(r.Context(), tr, interval, q.Get("user_id")))
}

// Rollup handles GET /analytics/rollup?interval (day, week or month).
func (h *AnalyticsHandlers) Rollup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tr, err := parseTimeRange(q)
	if err != nil {
		validationError(w, r, err)
		return
	}
	interval, err := parseEnum(q, "interval", analytics.IntervalDay, func(i analytics.TimeInterval) bool {
		return i == analytics.IntervalDay || i == analytics.IntervalWeek || i == analytics.IntervalMonth
	})
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetDailyRollup(r.Context(), tr, interval, q.Get("user_id")))
}

// Hourly handles GET /analytics/hourly.
func (h *AnalyticsHandlers) Hourly(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r.URL.Query())
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetHourlyActivity(r.Context(), tr))
}

// TopContent handles GET /analytics/top-content?limit&days&metric.
func (h *AnalyticsHandlers) TopContent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q, "limit", analytics.DefaultLimit)
	if err != nil {
		validationError(w, r, err)
		return
	}
	days, err := parseInt(q, "days", analytics.DefaultTopDays)
	if err != nil {
		validationError(w, r, err)
		return
	}
	metric, err := parseEnum(q, "metric", analytics.MetricViews, analytics.MetricType.Valid)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetTopContent(r.Context(), limit, days, metric))
}

// Cohorts handles GET /analytics/cohorts?period.
func (h *AnalyticsHandlers) Cohorts(w http.ResponseWriter, r *http.Request) {
	period, err := parseEnum(r.URL.Query(), "period", analytics.CohortWeek, analytics.CohortPeriod.Valid)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetUserCohorts(r.Context(), period))
}

// Popular handles GET /analytics/popular?content_type&limit.
func (h *AnalyticsHandlers) Popular(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt(q, "limit", analytics.DefaultLimit)
	if err != nil {
		validationError(w, r, err)
		return
	}
	contentType, err := validate.Identifier("content_type", q.Get("content_type"))
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetPopularContent(r.Context(), contentType, limit))
}

// Trending handles GET /analytics/trending?window&limit.
func (h *AnalyticsHandlers) Trending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	window, err := parseEnum(q, "window", analytics.WindowDay, analytics.TrendWindow.Valid)
	if err != nil {
		validationError(w, r, err)
		return
	}
	limit, err := parseInt(q, "limit", analytics.DefaultLimit)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetTrendingContent(r.Context(), window, limit))
}

// Feed handles GET /analytics/feed?limit.
func (h *AnalyticsHandlers) Feed(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt(r.URL.Query(), "limit", analytics.DefaultLimit)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetActivityFeed(r.Context(), limit))
}

// UserActivities handles GET /analytics/users/{id}/activities?limit.
func (h *AnalyticsHandlers) UserActivities(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt(r.URL.Query(), "limit", analytics.DefaultLimit)
	if err != nil {
		validationError(w, r, err)
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetUserActivities(r.Context(), r.PathValue("id"), limit))
}

// Session handles GET /analytics/sessions/{id}. The body is null for
// sessions without events.
func (h *AnalyticsHandlers) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r.Context(), http.StatusOK, h.service.GetSessionAnalytics(r.Context(), r.PathValue("id")))
}

// RefreshResponse is the body of a successful refresh.
type RefreshResponse struct {
	Refreshed bool `json:"refreshed"`
}

// Refresh handles POST /internal/analytics/refresh by running one refresh
// cycle synchronously.
func (h *AnalyticsHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refresher == nil {
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "View refresh is not configured")
		return
	}
	if err := h.refresher.RunOnce(ctx); err != nil {
		slog.WarnContext(ctx, "manual view refresh failed", "error", err)
		WriteError(w, ctx, http.StatusServiceUnavailable, ErrCodeUnavailable, "View refresh failed")
		return
	}
	writeJSON(w, ctx, http.StatusOK, RefreshResponse{Refreshed: true})
}

// validateTrackRequest trims and bounds the free-form fields of req.
func validateTrackRequest(req *analytics.TrackRequest) error {
	fields := []struct {
		name string
		dst  *string
	}{
		{"user_id", &req.UserID},
		{"entity_type", &req.EntityType},
		{"entity_id", &req.EntityID},
		{"session_id", &req.SessionID},
	}
	for _, f := range fields {
		v, err := validate.Identifier(f.name, *f.dst)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return validate.Details(req.Details)
}

func validationError(w http.ResponseWriter, r *http.Request, err error) {
	WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
}
