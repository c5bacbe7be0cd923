package analytics

import (
	"time"
)

// DateLayout is the ISO date format used for all date-typed procedure parameters.
const DateLayout = "2006-01-02"

// DefaultRangeDays is the trailing window used when a TimeRange names neither
// a start date nor a preset.
const DefaultRangeDays = 30

// DefaultLaunchDate is the floor of the "all" preset.
var DefaultLaunchDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// Preset is a named relative time range.
type Preset string

// Presets.
const (
	PresetToday   Preset = "today"
	PresetWeek    Preset = "week"
	PresetMonth   Preset = "month"
	PresetQuarter Preset = "quarter"
	PresetYear    Preset = "year"
	PresetAll     Preset = "all"
)

// Valid reports whether p is a known preset.
func (p Preset) Valid() bool {
	switch p {
	case PresetToday, PresetWeek, PresetMonth, PresetQuarter, PresetYear, PresetAll:
		return true
	}
	return false
}

// TimeRange is either an explicit start/end pair or a preset.
// An explicit Start takes precedence over Preset.
type TimeRange struct {
	Start  *time.Time
	End    *time.Time
	Preset Preset
}

// Window is a concrete, resolved time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// StartDate returns the inclusive start as YYYY-MM-DD.
func (w Window) StartDate() string {
	return w.Start.Format(DateLayout)
}

// EndDate returns the inclusive end as YYYY-MM-DD.
func (w Window) EndDate() string {
	return w.End.Format(DateLayout)
}

// Days returns the number of calendar days covered by the window, inclusive.
func (w Window) Days() int {
	start := truncateDay(w.Start)
	end := truncateDay(w.End)
	if end.Before(start) {
		return 0
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Clock supplies the current time. Tests inject FixedClock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant.
type FixedClock time.Time

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return time.Time(c)
}

// ResolveTimeRange maps tr to a concrete window relative to now, using
// DefaultLaunchDate as the floor of the "all" preset.
func ResolveTimeRange(tr TimeRange, now time.Time) Window {
	return resolveTimeRange(tr, now, DefaultLaunchDate)
}

func resolveTimeRange(tr TimeRange, now, launch time.Time) Window {
	end := now
	if tr.End != nil {
		end = *tr.End
	}

	if tr.Start != nil {
		return Window{Start: *tr.Start, End: end}
	}

	switch tr.Preset {
	case PresetToday:
		return Window{Start: truncateDay(now), End: now}
	case PresetWeek:
		return Window{Start: now.AddDate(0, 0, -7), End: now}
	case PresetMonth:
		return Window{Start: now.AddDate(0, -1, 0), End: now}
	case PresetQuarter:
		return Window{Start: now.AddDate(0, -3, 0), End: now}
	case PresetYear:
		return Window{Start: now.AddDate(-1, 0, 0), End: now}
	case PresetAll:
		return Window{Start: launch, End: now}
	}

	return Window{Start: now.AddDate(0, 0, -DefaultRangeDays), End: end}
}

// PreviousWindow returns the window covering the same number of calendar
// days that ends on the day before w starts. Windows are compared as
// inclusive dates, so the two never share a day.
func PreviousWindow(w Window) Window {
	days := w.Days()
	if days < 1 {
		days = 1
	}
	end := truncateDay(w.Start).AddDate(0, 0, -1)
	return Window{Start: end.AddDate(0, 0, -(days - 1)), End: end}
}

// truncateDay returns midnight of t's calendar day in t's location.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
