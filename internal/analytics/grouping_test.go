package analytics

import (
	"reflect"
	"testing"
)

func sampleRollup() []DailyActivitySummary {
	return []DailyActivitySummary{
		// Week of Sunday 2025-01-05
		{UserID: "u1", Date: "2025-01-06", PageViews: 4, TipViews: 2, Downloads: 1, Activities: 9},
		{UserID: "u1", Date: "2025-01-07", PageViews: 2, TipViews: 1, Activities: 3},
		{UserID: "u2", Date: "2025-01-07", PageViews: 3, Shares: 1, Activities: 5},
		// Week of Sunday 2025-01-12
		{UserID: "u2", Date: "2025-01-12", PageViews: 5, TipsCompleted: 2, Activities: 7},
		// February
		{UserID: "u3", Date: "2025-02-01", PageViews: 1, Downloads: 2, Activities: 4},
	}
}

func TestGroupByInterval_Week(t *testing.T) {
	buckets := GroupByInterval(sampleRollup(), IntervalWeek)

	if len(buckets) != 3 {
		t.Fatalf("expected 3 buckets, got %d: %+v", len(buckets), buckets)
	}

	first := buckets[0]
	if first.Period != "2025-01-05" {
		t.Errorf("expected first period 2025-01-05, got %s", first.Period)
	}
	if first.PageViews != 9 || first.TipViews != 3 || first.Downloads != 1 || first.Shares != 1 {
		t.Errorf("unexpected first bucket sums: %+v", first)
	}
	if first.UniqueUsers != 2 {
		t.Errorf("expected 2 unique users, got %d", first.UniqueUsers)
	}
	if first.Days != 2 {
		t.Errorf("expected 2 days, got %d", first.Days)
	}
	if first.AvgDailyPageViews != 4.5 {
		t.Errorf("expected average 4.5, got %f", first.AvgDailyPageViews)
	}

	if buckets[1].Period != "2025-01-12" || buckets[1].TipsCompleted != 2 {
		t.Errorf("unexpected second bucket: %+v", buckets[1])
	}
	if buckets[2].Period != "2025-01-26" {
		t.Errorf("expected 2025-02-01 to fall in week of 2025-01-26, got %s", buckets[2].Period)
	}
}

func TestGroupByInterval_Month(t *testing.T) {
	buckets := GroupByInterval(sampleRollup(), IntervalMonth)

	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}
	if buckets[0].Period != "2025-01" || buckets[1].Period != "2025-02" {
		t.Errorf("unexpected periods %s, %s", buckets[0].Period, buckets[1].Period)
	}
	if buckets[0].PageViews != 14 {
		t.Errorf("expected 14 page views in January, got %d", buckets[0].PageViews)
	}
	// u1 and u2 appear on several days but count once.
	if buckets[0].UniqueUsers != 2 {
		t.Errorf("expected 2 unique users in January, got %d", buckets[0].UniqueUsers)
	}
	if buckets[0].Days != 3 {
		t.Errorf("expected 3 distinct days in January, got %d", buckets[0].Days)
	}
}

func TestGroupByInterval_DayPassthrough(t *testing.T) {
	buckets := GroupByInterval(sampleRollup(), IntervalDay)

	if len(buckets) != 4 {
		t.Fatalf("expected 4 daily buckets, got %d", len(buckets))
	}
	if buckets[1].Period != "2025-01-07" || buckets[1].PageViews != 5 || buckets[1].UniqueUsers != 2 {
		t.Errorf("unexpected bucket for 2025-01-07: %+v", buckets[1])
	}
}

func TestGroupByInterval_SumsPreserved(t *testing.T) {
	rows := sampleRollup()
	var want, wantActivities int64
	for _, r := range rows {
		want += r.PageViews
		wantActivities += r.Activities
	}

	for _, interval := range []TimeInterval{IntervalDay, IntervalWeek, IntervalMonth} {
		var got, gotActivities int64
		for _, b := range GroupByInterval(rows, interval) {
			got += b.PageViews
			gotActivities += b.Activities
		}
		if got != want {
			t.Errorf("%s: expected %d total page views, got %d", interval, want, got)
		}
		if gotActivities != wantActivities {
			t.Errorf("%s: expected %d total activities, got %d", interval, wantActivities, gotActivities)
		}
	}
}

func TestGroupByInterval_DoesNotMutateInput(t *testing.T) {
	rows := sampleRollup()
	snapshot := make([]DailyActivitySummary, len(rows))
	copy(snapshot, rows)

	GroupByInterval(rows, IntervalWeek)
	GroupByInterval(rows, IntervalMonth)

	if !reflect.DeepEqual(rows, snapshot) {
		t.Error("expected input rows to be unchanged")
	}
}

func TestGroupByInterval_EdgeCases(t *testing.T) {
	if got := GroupByInterval(nil, IntervalWeek); len(got) != 0 {
		t.Errorf("expected no buckets for nil input, got %d", len(got))
	}
	if got := GroupByInterval(sampleRollup(), IntervalHour); got != nil {
		t.Errorf("expected nil for sub-day interval, got %+v", got)
	}

	rows := []DailyActivitySummary{
		{UserID: "u1", Date: "not-a-date", PageViews: 100},
		{UserID: "u1", Date: "2025-01-06", PageViews: 1},
	}
	got := GroupByInterval(rows, IntervalWeek)
	if len(got) != 1 || got[0].PageViews != 1 {
		t.Errorf("expected unparseable row to be skipped, got %+v", got)
	}
}
