package analytics

import (
	"testing"
	"time"
)

func TestComputeSessionAnalytics(t *testing.T) {
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	events := []ActivityEvent{
		{ActivityType: ActivityTipView, CreatedAt: base.Add(30 * time.Second)},
		{ActivityType: ActivityPageView, CreatedAt: base},
		{ActivityType: ActivityPDFDownload, CreatedAt: base.Add(90 * time.Second)},
		{ActivityType: ActivityTipDownload, CreatedAt: base.Add(60 * time.Second)},
		{ActivityType: ActivityPageView, CreatedAt: base.Add(120 * time.Second)},
	}

	got := ComputeSessionAnalytics("s1", events)
	if got == nil {
		t.Fatal("expected session analytics, got nil")
	}

	if got.SessionID != "s1" {
		t.Errorf("expected session s1, got %s", got.SessionID)
	}
	if !got.StartTime.Equal(base) {
		t.Errorf("expected start %v, got %v", base, got.StartTime)
	}
	if !got.EndTime.Equal(base.Add(120 * time.Second)) {
		t.Errorf("expected end %v, got %v", base.Add(120*time.Second), got.EndTime)
	}
	if got.DurationSeconds != 120 {
		t.Errorf("expected 120s, got %d", got.DurationSeconds)
	}
	if got.ActivityCount != 5 {
		t.Errorf("expected 5 activities, got %d", got.ActivityCount)
	}
	if got.PageViews != 2 || got.TipViews != 1 || got.Downloads != 2 {
		t.Errorf("unexpected counts: %+v", got)
	}

	// Input order is preserved.
	if events[0].ActivityType != ActivityTipView {
		t.Error("expected input slice to be left unsorted")
	}
}

func TestComputeSessionAnalytics_Empty(t *testing.T) {
	if got := ComputeSessionAnalytics("s1", nil); got != nil {
		t.Errorf("expected nil for empty session, got %+v", got)
	}
}

func TestComputeSessionAnalytics_SingleEvent(t *testing.T) {
	at := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	got := ComputeSessionAnalytics("s1", []ActivityEvent{{ActivityType: ActivitySearch, CreatedAt: at}})
	if got == nil {
		t.Fatal("expected session analytics, got nil")
	}
	if got.DurationSeconds != 0 {
		t.Errorf("expected zero duration, got %d", got.DurationSeconds)
	}
	if got.ActivityCount != 1 || got.PageViews != 0 {
		t.Errorf("unexpected counts: %+v", got)
	}
}
