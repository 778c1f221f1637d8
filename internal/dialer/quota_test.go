package dialer

import (
	"testing"
	"time"
)

func TestLedgerTrailingWindow(t *testing.T) {
	l := newUsageLedger()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	l.record(base)
	l.record(base.Add(10 * time.Second))
	l.advance(base.Add(30 * time.Second))
	if got := l.attemptsInWindow(); got != 2 {
		t.Fatalf("expected 2 in window, got %d", got)
	}

	// First attempt ages out 60s after it was recorded.
	l.advance(base.Add(61 * time.Second))
	if got := l.attemptsInWindow(); got != 1 {
		t.Fatalf("expected 1 in window, got %d", got)
	}

	l.advance(base.Add(2 * time.Minute))
	if got := l.attemptsInWindow(); got != 0 {
		t.Fatalf("expected empty window, got %d", got)
	}
}

func TestLedgerDailyRollover(t *testing.T) {
	l := newUsageLedger()
	day1 := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	l.advance(day1)
	l.record(day1)
	l.record(day1.Add(30 * time.Second))
	if got := l.daily(); got != 2 {
		t.Fatalf("expected 2 today, got %d", got)
	}

	// Crossing local midnight resets the daily counter and the attempt
	// window together, even for attempts recorded seconds earlier.
	day2 := day1.Add(70 * time.Second)
	l.advance(day2)
	if got := l.daily(); got != 0 {
		t.Fatalf("expected daily reset, got %d", got)
	}
	if got := l.attemptsInWindow(); got != 0 {
		t.Fatalf("expected attempt window cleared at rollover, got %d", got)
	}
}
