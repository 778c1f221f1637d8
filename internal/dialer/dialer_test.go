package dialer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"switchboard/internal/sessions"
	"switchboard/internal/telephony"
)

type stubStore struct {
	mu        sync.Mutex
	active    int
	created   int
	completed []string
}

func (s *stubStore) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *stubStore) CreateOutboundSession(contact string) *sessions.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return &sessions.Session{ID: fmt.Sprintf("sess-%d", s.created), Contact: contact}
}

func (s *stubStore) Complete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, sessionID)
}

type stubProvider struct {
	mu    sync.Mutex
	calls []telephony.CallRequest
	fail  bool
}

func (p *stubProvider) PlaceCall(ctx context.Context, req telephony.CallRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.fail {
		return errors.New("trunk rejected")
	}
	return nil
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestDialer(cfg Config, store SessionStore, provider telephony.Provider) *Dialer {
	logger, _ := logrustest.NewNullLogger()
	cfg.Logger = logger
	return New(cfg, store, provider)
}

func allDayConfig(clock *fakeClock) Config {
	return Config{
		WindowStart:        TimeOfDay{0, 0},
		WindowEnd:          TimeOfDay{23, 59},
		MaxConcurrentCalls: 10,
		MaxCallsPerMinute:  10,
		MaxCallsPerDay:     10,
		Clock:              clock.Now,
	}
}

func TestParseTimeOfDay(t *testing.T) {
	got, err := ParseTimeOfDay("09:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != (TimeOfDay{9, 30}) {
		t.Fatalf("unexpected value %v", got)
	}

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestCallingWindowInclusive(t *testing.T) {
	clock := &fakeClock{}
	cfg := allDayConfig(clock)
	cfg.WindowStart = TimeOfDay{9, 0}
	cfg.WindowEnd = TimeOfDay{20, 0}
	d := newTestDialer(cfg, &stubStore{}, &stubProvider{})

	cases := []struct {
		hour, minute int
		want         bool
	}{
		{8, 59, false},
		{9, 0, true}, // inclusive start
		{12, 30, true},
		{20, 0, true}, // inclusive end
		{20, 1, false},
	}
	for _, tc := range cases {
		now := time.Date(2026, 3, 10, tc.hour, tc.minute, 0, 0, time.UTC)
		if got := d.inWindow(now); got != tc.want {
			t.Errorf("inWindow(%02d:%02d) = %v, want %v", tc.hour, tc.minute, got, tc.want)
		}
	}
}

func TestCallingWindowOvernight(t *testing.T) {
	clock := &fakeClock{}
	cfg := allDayConfig(clock)
	cfg.WindowStart = TimeOfDay{22, 0}
	cfg.WindowEnd = TimeOfDay{6, 0}
	d := newTestDialer(cfg, &stubStore{}, &stubProvider{})

	for _, tc := range []struct {
		hour int
		want bool
	}{{23, true}, {2, true}, {6, true}, {7, false}, {21, false}} {
		now := time.Date(2026, 3, 10, tc.hour, 0, 0, 0, time.UTC)
		if got := d.inWindow(now); got != tc.want {
			t.Errorf("inWindow(%02d:00) = %v, want %v", tc.hour, got, tc.want)
		}
	}
}

func TestZeroCapsNeverDial(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	for _, zero := range []string{"concurrent", "per_minute", "daily"} {
		cfg := allDayConfig(clock)
		cfg.Contacts = []string{"111"}
		switch zero {
		case "concurrent":
			cfg.MaxConcurrentCalls = 0
		case "per_minute":
			cfg.MaxCallsPerMinute = 0
		case "daily":
			cfg.MaxCallsPerDay = 0
		}
		d := newTestDialer(cfg, &stubStore{}, &stubProvider{})

		contact, blockedBy := d.takeContact(clock.Now(), 0)
		if contact != "" {
			t.Fatalf("%s: expected no contact with zero cap", zero)
		}
		if blockedBy != zero {
			t.Fatalf("%s: expected block by %s, got %q", zero, zero, blockedBy)
		}
	}
}

func TestCapCheckOrder(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	cfg := allDayConfig(clock)
	cfg.Contacts = []string{"111"}
	cfg.MaxConcurrentCalls = 1
	cfg.MaxCallsPerMinute = 0
	cfg.MaxCallsPerDay = 0
	d := newTestDialer(cfg, &stubStore{}, &stubProvider{})

	// With every cap exhausted the concurrency cap reports first.
	if _, blockedBy := d.takeContact(clock.Now(), 1); blockedBy != "concurrent" {
		t.Fatalf("expected concurrent block first, got %q", blockedBy)
	}

	// With room for another call the per-minute cap reports next.
	if _, blockedBy := d.takeContact(clock.Now(), 0); blockedBy != "per_minute" {
		t.Fatalf("expected per_minute block next, got %q", blockedBy)
	}
}

func TestFailedOriginationConsumesNoBudget(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	cfg := allDayConfig(clock)
	store := &stubStore{}
	provider := &stubProvider{fail: true}
	d := newTestDialer(cfg, store, provider)

	d.dial(context.Background(), "5551234")

	if got := d.Stats().CallsLastMinute; got != 0 {
		t.Fatalf("failed dial must not consume quota, got %d", got)
	}
	if got := d.Stats().CallsToday; got != 0 {
		t.Fatalf("failed dial must not consume daily budget, got %d", got)
	}
	// The orphaned session is released.
	if len(store.completed) != 1 {
		t.Fatalf("expected session cleanup after failed dial, got %v", store.completed)
	}
	// The contact is not requeued.
	if got := d.Stats().Queued; got != 0 {
		t.Fatalf("failed contact must not requeue, queue depth %d", got)
	}
}

func TestAddContactsSkipsBlank(t *testing.T) {
	clock := &fakeClock{}
	d := newTestDialer(allDayConfig(clock), &stubStore{}, &stubProvider{})

	added := d.AddContacts(" 111 ", "", "   ", "222")
	if added != 2 {
		t.Fatalf("expected 2 added, got %d", added)
	}
	if got := d.Stats().Queued; got != 2 {
		t.Fatalf("expected queue depth 2, got %d", got)
	}
}

func TestDialerRespectsPerMinuteCapThenRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	cfg := allDayConfig(clock)
	cfg.Contacts = []string{"111", "222", "333"}
	cfg.MaxCallsPerMinute = 2
	cfg.PaceInterval = time.Millisecond
	cfg.QuotaRetryInterval = time.Millisecond
	cfg.EmptyQueueInterval = time.Millisecond

	store := &stubStore{}
	provider := &stubProvider{}
	d := newTestDialer(cfg, store, provider)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background())
	}()

	waitFor(t, 2*time.Second, func() bool { return provider.callCount() == 2 })

	// The third contact stays queued while the trailing window is full.
	time.Sleep(20 * time.Millisecond)
	if got := provider.callCount(); got != 2 {
		t.Fatalf("expected dialing paused at 2 calls, got %d", got)
	}

	// Once the first attempts age out of the window the third goes through.
	clock.Advance(61 * time.Second)
	waitFor(t, 2*time.Second, func() bool { return provider.callCount() == 3 })

	d.Stop()
	<-done

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if provider.calls[2].Contact != "333" {
		t.Fatalf("expected 333 dialed last, got %q", provider.calls[2].Contact)
	}
	for _, call := range provider.calls {
		if call.SessionID == "" {
			t.Fatal("expected session ID on every origination")
		}
	}
}

func TestDialerSleepsOutsideWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)}
	cfg := allDayConfig(clock)
	cfg.WindowStart = TimeOfDay{9, 0}
	cfg.WindowEnd = TimeOfDay{20, 0}
	cfg.Contacts = []string{"111"}
	cfg.OutsideWindowInterval = time.Millisecond

	provider := &stubProvider{}
	d := newTestDialer(cfg, &stubStore{}, provider)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	if got := provider.callCount(); got != 0 {
		t.Fatalf("expected no dialing outside the window, got %d", got)
	}

	clock.Advance(7 * time.Hour) // 10:00, inside the window
	waitFor(t, 2*time.Second, func() bool { return provider.callCount() == 1 })

	d.Stop()
	<-done
}

func TestRolloverRunsWhileOutsideWindow(t *testing.T) {
	day1 := time.Date(2026, 3, 10, 23, 50, 0, 0, time.UTC)
	clock := &fakeClock{now: day1}
	cfg := allDayConfig(clock)
	cfg.WindowStart = TimeOfDay{9, 0}
	cfg.WindowEnd = TimeOfDay{20, 0}
	cfg.OutsideWindowInterval = time.Millisecond

	d := newTestDialer(cfg, &stubStore{}, &stubProvider{})

	// Usage charged late yesterday evening.
	d.mu.Lock()
	d.ledger.advance(day1)
	d.ledger.record(day1)
	d.mu.Unlock()

	// 03:10 the next day, well outside the calling window.
	clock.Advance(3*time.Hour + 20*time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(context.Background())
	}()

	// The idle loop still rolls the ledger at midnight.
	waitFor(t, 2*time.Second, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.ledger.daily() == 0 && d.ledger.attemptsInWindow() == 0
	})

	d.Stop()
	<-done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
