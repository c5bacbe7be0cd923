package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are reported as-is.
var staticRoutes = map[string]bool{
	"/analytics/track":            true,
	"/analytics/dashboard":        true,
	"/analytics/summary":          true,
	"/analytics/compare":          true,
	"/analytics/timeseries":       true,
	"/analytics/rollup":           true,
	"/analytics/hourly":           true,
	"/analytics/top-content":      true,
	"/analytics/cohorts":          true,
	"/analytics/popular":          true,
	"/analytics/trending":         true,
	"/analytics/feed":             true,
	"/analytics/feed/live":        true,
	"/internal/analytics/refresh": true,
	"/health":                     true,
	"/ready":                      true,
	"/metrics":                    true,
}

// normalizePath maps paths with dynamic segments to route patterns to keep
// metric cardinality bounded, e.g. /analytics/sessions/abc to
// /analytics/sessions/{id}.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(path, "/")
	// ["", "analytics", "users", "{id}", "activities"]
	if len(parts) == 5 && parts[1] == "analytics" && parts[2] == "users" && parts[3] != "" && parts[4] == "activities" {
		return "/analytics/users/{id}/activities"
	}
	if len(parts) == 4 && parts[1] == "analytics" && parts[2] == "sessions" && parts[3] != "" {
		return "/analytics/sessions/{id}"
	}

	// Unknown routes share one label.
	return "other"
}

// HTTPMetrics is a middleware that records HTTP request metrics: duration,
// request and response sizes, and request counts.
// Health check endpoints (/health, /ready) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := newResponseWriter(w)

			requestSize := r.ContentLength
			if requestSize < 0 {
				requestSize = 0
			}

			next.ServeHTTP(rw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(rw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				int64(rw.size),
			)
		})
	}
}
