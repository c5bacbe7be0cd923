package analytics

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func TestNormalizeCohort_UnreachedHorizonsAreNil(t *testing.T) {
	// The week of 2025-01-05 ends 2025-01-12; week 2 is measurable from 2025-01-26.
	now := time.Date(2025, 1, 26, 0, 0, 0, 0, time.UTC)
	c := UserCohort{
		CohortDate:      "2025-01-05",
		CohortPeriod:    CohortWeek,
		UsersCount:      10,
		RetentionWeek1:  f64(0.5),
		RetentionWeek2:  f64(0.3),
		RetentionWeek4:  f64(0),
		RetentionMonth1: f64(0),
	}

	got := NormalizeCohort(c, now)

	if got.RetentionWeek1 == nil || *got.RetentionWeek1 != 0.5 {
		t.Errorf("expected week 1 = 0.5, got %v", got.RetentionWeek1)
	}
	if got.RetentionWeek2 == nil || *got.RetentionWeek2 != 0.3 {
		t.Errorf("expected week 2 = 0.3, got %v", got.RetentionWeek2)
	}
	if got.RetentionWeek4 != nil {
		t.Errorf("expected week 4 to be unmeasurable, got %v", *got.RetentionWeek4)
	}
	if got.RetentionMonth1 != nil {
		t.Errorf("expected month 1 to be unmeasurable, got %v", *got.RetentionMonth1)
	}
}

func TestNormalizeCohort_HorizonBoundaryIsInclusive(t *testing.T) {
	c := UserCohort{CohortDate: "2025-01-01", CohortPeriod: CohortDay, RetentionWeek1: f64(0), RetentionMonth1: f64(0.1)}

	got := NormalizeCohort(c, time.Date(2025, 1, 8, 23, 59, 0, 0, time.UTC))
	if got.RetentionWeek1 != nil {
		t.Errorf("expected week 1 unmeasurable before 2025-01-09, got %v", *got.RetentionWeek1)
	}
	got = NormalizeCohort(c, time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC))
	if got.RetentionWeek1 == nil || *got.RetentionWeek1 != 0 {
		t.Errorf("expected measured zero once the last joiner is 7 days old, got %v", got.RetentionWeek1)
	}

	got = NormalizeCohort(c, time.Date(2025, 2, 1, 23, 59, 0, 0, time.UTC))
	if got.RetentionMonth1 != nil {
		t.Errorf("expected month 1 unmeasurable before 2025-02-02, got %v", *got.RetentionMonth1)
	}
	got = NormalizeCohort(c, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC))
	if got.RetentionMonth1 == nil {
		t.Error("expected month 1 measurable on 2025-02-02")
	}
}

func TestNormalizeCohort_MeasuresFromPeriodEnd(t *testing.T) {
	tests := []struct {
		name     string
		period   CohortPeriod
		date     string
		now      time.Time
		wantWeek bool
	}{
		{"week cohort on day 7", CohortWeek, "2025-01-05", time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), false},
		{"week cohort after its last day", CohortWeek, "2025-01-05", time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC), true},
		{"month cohort on day 8", CohortMonth, "2025-01-01", time.Date(2025, 1, 9, 0, 0, 0, 0, time.UTC), false},
		{"month cohort a week after month end", CohortMonth, "2025-01-01", time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCohort(UserCohort{CohortDate: tt.date, CohortPeriod: tt.period, RetentionWeek1: f64(0)}, tt.now)
			if (got.RetentionWeek1 != nil) != tt.wantWeek {
				t.Errorf("expected week 1 measurable=%v, got %v", tt.wantWeek, got.RetentionWeek1)
			}
		})
	}
}

func TestNormalizeCohort_NaNIsUnknown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := NormalizeCohort(UserCohort{CohortDate: "2025-01-01", RetentionWeek1: f64(math.NaN())}, now)
	if got.RetentionWeek1 != nil {
		t.Errorf("expected NaN retention to become nil, got %v", *got.RetentionWeek1)
	}
	if _, err := json.Marshal(got); err != nil {
		t.Errorf("expected normalized cohort to encode, got %v", err)
	}
}

func TestHorizon_RetainedCountsFromFirstActivity(t *testing.T) {
	first := time.Date(2025, 1, 30, 10, 0, 0, 0, time.UTC)

	if horizonWeek1.retained(first, first) {
		t.Error("expected a single-event user not to be retained")
	}
	if horizonWeek1.retained(first, first.Add(HorizonWeek1-time.Second)) {
		t.Error("expected activity before the horizon not to count")
	}
	if !horizonWeek1.retained(first, first.Add(HorizonWeek1)) {
		t.Error("expected activity exactly at the horizon to count")
	}
	if !horizonMonth1.retained(first, time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Error("expected activity one calendar month later to count")
	}
}

func TestNormalizeCohort_ClampsFractions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := UserCohort{
		CohortDate:      "2025-01-01",
		RetentionWeek1:  f64(1.7),
		RetentionWeek2:  f64(-0.2),
		RetentionWeek4:  f64(0.4),
		RetentionMonth1: nil,
	}

	got := NormalizeCohort(c, now)

	for name, v := range map[string]*float64{
		"week1": got.RetentionWeek1,
		"week2": got.RetentionWeek2,
		"week4": got.RetentionWeek4,
	} {
		if v == nil {
			t.Fatalf("%s: expected a value", name)
		}
		if *v < 0 || *v > 1 {
			t.Errorf("%s: expected value in [0,1], got %f", name, *v)
		}
	}
	if *got.RetentionWeek1 != 1 || *got.RetentionWeek2 != 0 {
		t.Errorf("unexpected clamped values %f, %f", *got.RetentionWeek1, *got.RetentionWeek2)
	}
	if got.RetentionMonth1 != nil {
		t.Error("expected missing month 1 value to stay nil")
	}
	// The input's pointers are not modified.
	if *c.RetentionWeek1 != 1.7 {
		t.Error("expected input cohort to be unchanged")
	}
}

func TestCohortStart(t *testing.T) {
	at := time.Date(2025, 1, 8, 15, 0, 0, 0, time.UTC) // Wednesday

	if got := cohortStart(at, CohortDay).Format(DateLayout); got != "2025-01-08" {
		t.Errorf("day: expected 2025-01-08, got %s", got)
	}
	if got := cohortStart(at, CohortWeek).Format(DateLayout); got != "2025-01-05" {
		t.Errorf("week: expected 2025-01-05, got %s", got)
	}
	if got := cohortStart(at, CohortMonth).Format(DateLayout); got != "2025-01-01" {
		t.Errorf("month: expected 2025-01-01, got %s", got)
	}
}
