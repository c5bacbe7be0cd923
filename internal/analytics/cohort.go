package analytics

import (
	"math"
	"time"
)

// Retention horizons, measured from each user's first activity.
const (
	HorizonWeek1 = 7 * 24 * time.Hour
	HorizonWeek2 = 14 * 24 * time.Hour
	HorizonWeek4 = 28 * 24 * time.Hour
)

// horizon is either a fixed duration or a number of calendar months.
type horizon struct {
	d      time.Duration
	months int
}

var (
	horizonWeek1  = horizon{d: HorizonWeek1}
	horizonWeek2  = horizon{d: HorizonWeek2}
	horizonWeek4  = horizon{d: HorizonWeek4}
	horizonMonth1 = horizon{months: 1}
)

// after returns the instant the horizon elapses when counted from t.
func (h horizon) after(t time.Time) time.Time {
	if h.months > 0 {
		return t.AddDate(0, h.months, 0)
	}
	return t.Add(h.d)
}

// retained reports whether a user first seen at first and last seen at last
// was still active once the horizon had elapsed.
func (h horizon) retained(first, last time.Time) bool {
	return !last.Before(h.after(first))
}

// measurable reports whether every member of the cohort starting at
// cohortDate has been observable for the full horizon. The latest joiner
// arrives just before the period ends.
func (h horizon) measurable(cohortDate time.Time, period CohortPeriod, now time.Time) bool {
	return !h.after(cohortEnd(cohortDate, period)).After(now)
}

// NormalizeCohort clamps retention fractions into [0, 1] and clears the ones
// whose horizon has not yet elapsed for the cohort's latest joiner, so a zero
// always means "nobody came back" rather than "too early to tell". Cohorts
// with an unparseable date keep their values after clamping.
func NormalizeCohort(c UserCohort, now time.Time) UserCohort {
	c.RetentionWeek1 = clampFraction(c.RetentionWeek1)
	c.RetentionWeek2 = clampFraction(c.RetentionWeek2)
	c.RetentionWeek4 = clampFraction(c.RetentionWeek4)
	c.RetentionMonth1 = clampFraction(c.RetentionMonth1)

	cohortDate, err := time.Parse(DateLayout, c.CohortDate)
	if err != nil {
		return c
	}

	if !horizonWeek1.measurable(cohortDate, c.CohortPeriod, now) {
		c.RetentionWeek1 = nil
	}
	if !horizonWeek2.measurable(cohortDate, c.CohortPeriod, now) {
		c.RetentionWeek2 = nil
	}
	if !horizonWeek4.measurable(cohortDate, c.CohortPeriod, now) {
		c.RetentionWeek4 = nil
	}
	if !horizonMonth1.measurable(cohortDate, c.CohortPeriod, now) {
		c.RetentionMonth1 = nil
	}

	return c
}

func clampFraction(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	if math.IsNaN(f) {
		return nil
	}
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	return &f
}

// cohortStart returns the start of the cohort period containing t.
func cohortStart(t time.Time, period CohortPeriod) time.Time {
	day := truncateDay(t)
	switch period {
	case CohortWeek:
		return day.AddDate(0, 0, -int(day.Weekday()))
	case CohortMonth:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	default:
		return day
	}
}

// cohortEnd returns the exclusive end of the cohort period starting at start.
// An unknown period is treated as a single day.
func cohortEnd(start time.Time, period CohortPeriod) time.Time {
	switch period {
	case CohortWeek:
		return start.AddDate(0, 0, 7)
	case CohortMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
