package api

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/bdbt/analytics/internal/analytics"
)

// parseDate accepts YYYY-MM-DD or RFC 3339 timestamps.
func parseDate(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(analytics.DateLayout, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)
	}
	t = t.UTC()
	return &t, nil
}

// parseTimeRange reads start, end and preset.
func parseTimeRange(q url.Values) (analytics.TimeRange, error) {
	var tr analytics.TimeRange

	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		return tr, err
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		return tr, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return tr, fmt.Errorf("end must not be before start")
	}
	tr.Start, tr.End = start, end

	if p := q.Get("preset"); p != "" {
		tr.Preset = analytics.Preset(p)
		if !tr.Preset.Valid() {
			return tr, fmt.Errorf("unknown preset %q", p)
		}
	}
	return tr, nil
}

// parseInt reads an optional integer; missing values yield def.
func parseInt(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// parseEnum reads an optional enum value validated by valid.
func parseEnum[T ~string](q url.Values, name string, def T, valid func(T) bool) (T, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	if !valid(T(v)) {
		return def, fmt.Errorf("unknown %s %q", name, v)
	}
	return T(v), nil
}
