package analytics

import (
	"testing"
	"time"
)

func TestResolveTimeRange_Presets(t *testing.T) {
	now := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name      string
		preset    Preset
		wantStart time.Time
	}{
		{"today", PresetToday, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"week", PresetWeek, time.Date(2025, 3, 8, 14, 30, 0, 0, time.UTC)},
		{"month", PresetMonth, time.Date(2025, 2, 15, 14, 30, 0, 0, time.UTC)},
		{"quarter", PresetQuarter, time.Date(2024, 12, 15, 14, 30, 0, 0, time.UTC)},
		{"year", PresetYear, time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)},
		{"all", PresetAll, DefaultLaunchDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ResolveTimeRange(TimeRange{Preset: tt.preset}, now)
			if !w.Start.Equal(tt.wantStart) {
				t.Errorf("expected start %v, got %v", tt.wantStart, w.Start)
			}
			if !w.End.Equal(now) {
				t.Errorf("expected end %v, got %v", now, w.End)
			}
		})
	}
}

func TestResolveTimeRange_Default(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	w := ResolveTimeRange(TimeRange{}, now)

	want := now.AddDate(0, 0, -30)
	if !w.Start.Equal(want) {
		t.Errorf("expected start %v, got %v", want, w.Start)
	}
	if !w.End.Equal(now) {
		t.Errorf("expected end %v, got %v", now, w.End)
	}
}

func TestResolveTimeRange_ExplicitStartWinsOverPreset(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	w := ResolveTimeRange(TimeRange{Start: &start, End: &end, Preset: PresetToday}, now)
	if !w.Start.Equal(start) || !w.End.Equal(end) {
		t.Errorf("expected explicit window, got %v..%v", w.Start, w.End)
	}

	w = ResolveTimeRange(TimeRange{Start: &start}, now)
	if !w.End.Equal(now) {
		t.Errorf("expected end to default to now, got %v", w.End)
	}
}

func TestResolveTimeRange_Pure(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for _, p := range []Preset{PresetToday, PresetWeek, PresetMonth, PresetQuarter, PresetYear, PresetAll, ""} {
		a := ResolveTimeRange(TimeRange{Preset: p}, now)
		b := ResolveTimeRange(TimeRange{Preset: p}, now)
		if a != b {
			t.Errorf("preset %q: expected identical windows, got %v and %v", p, a, b)
		}
		if a.Start.After(a.End) {
			t.Errorf("preset %q: start %v after end %v", p, a.Start, a.End)
		}
	}
}

func TestWindow_Dates(t *testing.T) {
	w := Window{
		Start: time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 7, 0, 1, 0, 0, time.UTC),
	}
	if w.StartDate() != "2025-01-01" {
		t.Errorf("expected start date 2025-01-01, got %s", w.StartDate())
	}
	if w.EndDate() != "2025-01-07" {
		t.Errorf("expected end date 2025-01-07, got %s", w.EndDate())
	}
	if w.Days() != 7 {
		t.Errorf("expected 7 days, got %d", w.Days())
	}

	inverted := Window{Start: w.End, End: w.Start}
	if inverted.Days() != 0 {
		t.Errorf("expected 0 days for inverted window, got %d", inverted.Days())
	}
}

func TestPreviousWindow(t *testing.T) {
	tests := []struct {
		name      string
		w         Window
		wantStart string
		wantEnd   string
	}{
		{
			name:      "midnight bounds",
			w:         Window{Start: time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
			wantStart: "2024-12-31",
			wantEnd:   "2025-01-07",
		},
		{
			name:      "midday bounds",
			w:         Window{Start: time.Date(2025, 1, 8, 12, 0, 0, 0, time.UTC), End: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)},
			wantStart: "2024-12-31",
			wantEnd:   "2025-01-07",
		},
		{
			name:      "single day",
			w:         Window{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2025, 3, 1, 17, 30, 0, 0, time.UTC)},
			wantStart: "2025-02-28",
			wantEnd:   "2025-02-28",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := PreviousWindow(tt.w)
			if prev.StartDate() != tt.wantStart || prev.EndDate() != tt.wantEnd {
				t.Errorf("expected %s..%s, got %s..%s", tt.wantStart, tt.wantEnd, prev.StartDate(), prev.EndDate())
			}
			if prev.Days() != tt.w.Days() {
				t.Errorf("expected %d days, got %d", tt.w.Days(), prev.Days())
			}
			if prev.EndDate() >= tt.w.StartDate() {
				t.Errorf("previous window %s overlaps current start %s", prev.EndDate(), tt.w.StartDate())
			}
		})
	}
}

func TestPreset_Valid(t *testing.T) {
	if !PresetQuarter.Valid() {
		t.Error("expected quarter to be valid")
	}
	if Preset("fortnight").Valid() {
		t.Error("expected fortnight to be invalid")
	}
}
