package dialer

import "time"

// usageLedger tracks dialing volume for the trailing-minute and daily caps.
// Only successful originations are recorded. The ledger is not self-locking;
// the dialer serializes access under its own mutex.
type usageLedger struct {
	window   time.Duration
	attempts []time.Time

	dailyCount int
	dailyMark  time.Time // midnight of the day dailyCount applies to
}

func newUsageLedger() *usageLedger {
	return &usageLedger{window: time.Minute}
}

// advance rolls the ledger when the local date changes: the daily counter
// and the attempt window reset together. Must be called with the current
// time before reading either counter.
func (l *usageLedger) advance(now time.Time) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !midnight.Equal(l.dailyMark) {
		l.dailyMark = midnight
		l.dailyCount = 0
		l.attempts = l.attempts[:0]
	}
	l.prune(now)
}

// prune drops attempts that have aged out of the trailing window.
func (l *usageLedger) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	keep := l.attempts[:0]
	for _, t := range l.attempts {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.attempts = keep
}

// attemptsInWindow returns how many originations landed in the trailing window.
func (l *usageLedger) attemptsInWindow() int {
	return len(l.attempts)
}

// daily returns how many originations landed since local midnight.
func (l *usageLedger) daily() int {
	return l.dailyCount
}

// record charges one successful origination against both counters.
func (l *usageLedger) record(now time.Time) {
	l.attempts = append(l.attempts, now)
	l.dailyCount++
}
