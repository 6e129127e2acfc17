package reconcile

import (
	"testing"
	"time"
)

func TestRecentTrackerExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker := newRecentTracker(3 * time.Second)
	tracker.now = func() time.Time { return now }

	tracker.Mark("m1")

	if !tracker.Claimed("m1") {
		t.Fatal("freshly marked id not claimed")
	}

	now = now.Add(2 * time.Second)
	if !tracker.Claimed("m1") {
		t.Error("id expired before the window elapsed")
	}

	now = now.Add(2 * time.Second)
	if tracker.Claimed("m1") {
		t.Error("id still claimed after the window elapsed")
	}
}

func TestRecentTrackerRelease(t *testing.T) {
	tracker := newRecentTracker(time.Minute)
	tracker.Mark("m1")
	tracker.Release("m1")

	if tracker.Claimed("m1") {
		t.Error("released id still claimed")
	}
}

func TestRecentTrackerDefaultExpiry(t *testing.T) {
	tracker := newRecentTracker(0)
	if tracker.expiry != DefaultRecentExpiry {
		t.Errorf("expiry = %v, want default %v", tracker.expiry, DefaultRecentExpiry)
	}
}
