package clock

import (
	"testing"
	"time"
)

func TestNewAt_ZeroStartTimeIsNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newAt(time.Time{}, 1.0, now)
	if !c.StartTime().Equal(now) {
		t.Fatalf("expected start time %v, got %v", now, c.StartTime())
	}
	if got := c.queueNowAt(now); !got.Equal(now) {
		t.Fatalf("expected queue now %v, got %v", now, got)
	}
}

func TestNewAt_SmallShiftClampedToZero(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Second)
	c := newAt(start, 1.0, now)

	got := c.queueNowAt(now)
	if !got.Equal(now) {
		t.Fatalf("shift under 10s should clamp to zero: expected %v, got %v", now, got)
	}
}

func TestNewAt_LargeShiftPreserved(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	c := newAt(start, 1.0, now)

	later := now.Add(10 * time.Second)
	got := c.queueNowAt(later)
	want := start.Add(10 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("expected queue now %v, got %v", want, got)
	}
}

func TestNewAt_FutureStartTimeIsNegativeShift(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(1 * time.Hour)
	c := newAt(start, 1.0, now)

	got := c.queueNowAt(now)
	want := start
	if !got.Equal(want) {
		t.Fatalf("future start_time should run queue-time ahead: expected %v, got %v", want, got)
	}
}

func TestQueueNow_SpeedScalesElapsed(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(1 * time.Minute)
	c := newAt(start, 2.0, now)

	later := now.Add(10 * time.Second)
	got := c.queueNowAt(later)
	want := start.Add(20 * time.Second)
	if !got.Equal(want) {
		t.Fatalf("expected queue now %v (2x speed), got %v", want, got)
	}
}

func TestWaitFor_PastDeadlineIsNegative(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(1 * time.Minute)
	c := newAt(start, 1.0, now)

	deadline := c.queueNowAt(now).Add(-5 * time.Second)
	if w := c.WaitFor(deadline); w >= 0 {
		t.Fatalf("expected negative wait for a past deadline, got %v", w)
	}
}

func TestScoreToTimeRoundTrip(t *testing.T) {
	orig := time.Date(2026, 3, 15, 12, 30, 45, 0, time.UTC)
	score := TimeToScore(orig)
	got := ScoreToTime(score)
	if diff := got.Sub(orig); diff > time.Millisecond || diff < -time.Millisecond {
		t.Fatalf("round trip drifted: expected %v, got %v", orig, got)
	}
}
