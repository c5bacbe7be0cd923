package analytics

import (
	"sort"
	"time"
)

// GroupByInterval buckets daily rollup rows into the target interval.
//
// Additive counters are summed per bucket, users are counted once per bucket
// no matter how many days they appear on, and the bucket's day count drives
// the average. Week buckets are keyed by the Sunday starting the week and
// month buckets by YYYY-MM. Periods with partial data are emitted as-is and
// empty periods are not padded. rows is never modified.
//
// Rows whose date cannot be parsed are skipped. Intervals finer than a day
// return nil since daily rows cannot be split.
func GroupByInterval(rows []DailyActivitySummary, interval TimeInterval) []IntervalBucket {
	var keyFn func(time.Time) string
	switch interval {
	case IntervalDay:
		keyFn = func(t time.Time) string { return t.Format(DateLayout) }
	case IntervalWeek:
		keyFn = weekKey
	case IntervalMonth:
		keyFn = func(t time.Time) string { return t.Format("2006-01") }
	default:
		return nil
	}

	type accumulator struct {
		bucket IntervalBucket
		users  map[string]struct{}
		days   map[string]struct{}
	}

	groups := make(map[string]*accumulator)
	for _, row := range rows {
		day, err := time.Parse(DateLayout, row.Date)
		if err != nil {
			continue
		}
		key := keyFn(day)

		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{
				bucket: IntervalBucket{Period: key},
				users:  make(map[string]struct{}),
				days:   make(map[string]struct{}),
			}
			groups[key] = acc
		}

		acc.bucket.PageViews += row.PageViews
		acc.bucket.TipViews += row.TipViews
		acc.bucket.TipsCompleted += row.TipsCompleted
		acc.bucket.Downloads += row.Downloads
		acc.bucket.Shares += row.Shares
		acc.bucket.Activities += row.Activities
		if row.UserID != "" {
			acc.users[row.UserID] = struct{}{}
		}
		acc.days[row.Date] = struct{}{}
	}

	result := make([]IntervalBucket, 0, len(groups))
	for _, acc := range groups {
		b := acc.bucket
		b.UniqueUsers = len(acc.users)
		b.Days = len(acc.days)
		if b.Days > 0 {
			b.AvgDailyPageViews = float64(b.PageViews) / float64(b.Days)
		}
		result = append(result, b)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Period < result[j].Period
	})

	return result
}

// weekKey returns the Sunday that starts t's week as YYYY-MM-DD.
func weekKey(t time.Time) string {
	return t.AddDate(0, 0, -int(t.Weekday())).Format(DateLayout)
}
