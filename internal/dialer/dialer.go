package dialer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"switchboard/internal/metrics"
	"switchboard/internal/sessions"
	"switchboard/internal/telephony"
	"switchboard/pkg/logging"
)

// TimeOfDay is a wall-clock instant within a day, minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q, expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: hour, Minute: minute}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int {
	return t.Hour*60 + t.Minute
}

// SessionStore is the slice of the session registry the dialer needs.
type SessionStore interface {
	ActiveCount() int
	CreateOutboundSession(contact string) *sessions.Session
	Complete(sessionID string)
}

// Config configures the outbound dialing scheduler.
type Config struct {
	Contacts []string // initial queue

	WindowStart TimeOfDay // calls allowed from here, inclusive
	WindowEnd   TimeOfDay // through here, inclusive

	MaxConcurrentCalls int
	MaxCallsPerMinute  int
	MaxCallsPerDay     int

	DefaultCallerID    string
	OriginationTimeout time.Duration

	// Pacing intervals. Zero values take the defaults.
	PaceInterval          time.Duration // after each origination attempt, default 200ms
	QuotaRetryInterval    time.Duration // when a cap blocks dialing, default 1s
	EmptyQueueInterval    time.Duration // when no contacts are queued, default 5s
	OutsideWindowInterval time.Duration // when outside the calling window, default 30s

	Clock   func() time.Time // defaults to time.Now
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Dialer drains a contact queue at a controlled rate: it respects a
// concurrency cap, a trailing-minute cap, a daily cap, and a time-of-day
// calling window. A cap set to zero disables dialing entirely.
type Dialer struct {
	cfg      Config
	store    SessionStore
	provider telephony.Provider
	logger   logging.Logger
	clock    func() time.Time

	mu     sync.Mutex
	queue  []string
	ledger *usageLedger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a dialer over the given session store and call provider.
func New(cfg Config, store SessionStore, provider telephony.Provider) *Dialer {
	if cfg.PaceInterval <= 0 {
		cfg.PaceInterval = 200 * time.Millisecond
	}
	if cfg.QuotaRetryInterval <= 0 {
		cfg.QuotaRetryInterval = time.Second
	}
	if cfg.EmptyQueueInterval <= 0 {
		cfg.EmptyQueueInterval = 5 * time.Second
	}
	if cfg.OutsideWindowInterval <= 0 {
		cfg.OutsideWindowInterval = 30 * time.Second
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	d := &Dialer{
		cfg:      cfg,
		store:    store,
		provider: provider,
		logger:   cfg.Logger,
		clock:    clock,
		ledger:   newUsageLedger(),
		stopCh:   make(chan struct{}),
	}
	d.AddContacts(cfg.Contacts...)
	return d
}

// AddContacts appends contacts to the dialing queue. Blank entries are
// dropped after trimming.
func (d *Dialer) AddContacts(contacts ...string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	added := 0
	for _, contact := range contacts {
		contact = strings.TrimSpace(contact)
		if contact == "" {
			continue
		}
		d.queue = append(d.queue, contact)
		added++
	}
	d.setQueueGauge(len(d.queue))
	return added
}

// Run drives the dialing loop until Stop is called or ctx is canceled.
func (d *Dialer) Run(ctx context.Context) error {
	d.logger.WithFields(logging.Fields{
		"window_start":   d.cfg.WindowStart.String(),
		"window_end":     d.cfg.WindowEnd.String(),
		"max_concurrent": d.cfg.MaxConcurrentCalls,
		"max_per_minute": d.cfg.MaxCallsPerMinute,
		"max_per_day":    d.cfg.MaxCallsPerDay,
	}).Info("Dialer started")

	for !d.stopped(ctx) {
		now := d.clock()

		// Roll the ledger first so the daily reset happens on schedule
		// even while dialing is paused outside the calling window.
		d.mu.Lock()
		d.ledger.advance(now)
		d.mu.Unlock()

		if !d.inWindow(now) {
			d.sleep(ctx, d.cfg.OutsideWindowInterval)
			continue
		}

		// Concurrency is read before taking the dialer lock so the
		// registry is never touched while the queue is held.
		active := d.store.ActiveCount()

		contact, blockedBy := d.takeContact(now, active)
		if blockedBy != "" {
			d.countQuotaBlock(blockedBy)
			d.sleep(ctx, d.cfg.QuotaRetryInterval)
			continue
		}
		if contact == "" {
			d.sleep(ctx, d.cfg.EmptyQueueInterval)
			continue
		}

		d.dial(ctx, contact)
		d.sleep(ctx, d.cfg.PaceInterval)
	}

	d.logger.Info("Dialer stopped")
	return nil
}

// takeContact checks the caps in order and, if all allow another call, pops
// the next contact. It returns either a contact, or the name of the cap that
// blocked dialing, or neither when the queue is empty.
func (d *Dialer) takeContact(now time.Time, active int) (contact, blockedBy string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ledger.advance(now)

	if active >= d.cfg.MaxConcurrentCalls {
		return "", "concurrent"
	}
	if d.ledger.attemptsInWindow() >= d.cfg.MaxCallsPerMinute {
		return "", "per_minute"
	}
	if d.ledger.daily() >= d.cfg.MaxCallsPerDay {
		return "", "daily"
	}

	if len(d.queue) == 0 {
		return "", ""
	}
	contact = d.queue[0]
	d.queue = d.queue[1:]
	d.setQueueGauge(len(d.queue))
	return contact, ""
}

// dial places one call. Only an accepted origination is charged against the
// rate ledger; a rejected one is logged and the contact is not requeued.
func (d *Dialer) dial(ctx context.Context, contact string) {
	session := d.store.CreateOutboundSession(contact)

	err := d.provider.PlaceCall(ctx, telephony.CallRequest{
		Contact:   contact,
		SessionID: session.ID,
		CallerID:  d.cfg.DefaultCallerID,
		Timeout:   d.cfg.OriginationTimeout,
	})
	if err != nil {
		d.logger.WithError(err).WithFields(logging.Fields{
			"contact":    contact,
			"session_id": session.ID,
		}).Error("Dial attempt failed")
		d.store.Complete(session.ID)
		d.countOrigination("failed")
		return
	}

	d.mu.Lock()
	d.ledger.record(d.clock())
	d.mu.Unlock()
	d.countOrigination("success")
}

// inWindow reports whether now falls inside the calling window, inclusive on
// both ends. A window whose end precedes its start wraps past midnight.
func (d *Dialer) inWindow(now time.Time) bool {
	current := now.Hour()*60 + now.Minute()
	start := d.cfg.WindowStart.minutes()
	end := d.cfg.WindowEnd.minutes()

	if start <= end {
		return current >= start && current <= end
	}
	return current >= start || current <= end
}

// Stop halts the dialing loop. Safe to call more than once.
func (d *Dialer) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// Stats is a point-in-time view of the dialer for the admin API.
type Stats struct {
	Queued          int    `json:"queued"`
	ActiveCalls     int    `json:"active_calls"`
	CallsLastMinute int    `json:"calls_last_minute"`
	CallsToday      int    `json:"calls_today"`
	InCallingWindow bool   `json:"in_calling_window"`
	WindowStart     string `json:"window_start"`
	WindowEnd       string `json:"window_end"`
	MaxConcurrent   int    `json:"max_concurrent"`
	MaxPerMinute    int    `json:"max_per_minute"`
	MaxPerDay       int    `json:"max_per_day"`
}

// Stats returns current queue depth and rate-limit usage.
func (d *Dialer) Stats() Stats {
	now := d.clock()
	active := d.store.ActiveCount()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.ledger.advance(now)

	return Stats{
		Queued:          len(d.queue),
		ActiveCalls:     active,
		CallsLastMinute: d.ledger.attemptsInWindow(),
		CallsToday:      d.ledger.daily(),
		InCallingWindow: d.inWindow(now),
		WindowStart:     d.cfg.WindowStart.String(),
		WindowEnd:       d.cfg.WindowEnd.String(),
		MaxConcurrent:   d.cfg.MaxConcurrentCalls,
		MaxPerMinute:    d.cfg.MaxCallsPerMinute,
		MaxPerDay:       d.cfg.MaxCallsPerDay,
	}
}

func (d *Dialer) setQueueGauge(depth int) {
	if m := d.cfg.Metrics; m != nil && m.QueuedContacts != nil {
		m.QueuedContacts.WithLabelValues("dialer").Set(float64(depth))
	}
}

func (d *Dialer) countQuotaBlock(reason string) {
	if m := d.cfg.Metrics; m != nil && m.QuotaBlocks != nil {
		m.QuotaBlocks.WithLabelValues(reason).Inc()
	}
}

func (d *Dialer) countOrigination(status string) {
	if m := d.cfg.Metrics; m != nil && m.Originations != nil {
		m.Originations.WithLabelValues(status).Inc()
	}
}

func (d *Dialer) stopped(ctx context.Context) bool {
	select {
	case <-d.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (d *Dialer) sleep(ctx context.Context, interval time.Duration) {
	select {
	case <-time.After(interval):
	case <-d.stopCh:
	case <-ctx.Done():
	}
}
