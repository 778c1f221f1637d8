package ari

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"switchboard/internal/metrics"
	"switchboard/pkg/logging"
)

// ConnState tracks the stream connection lifecycle.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// EventHandler receives each decoded event. Handlers may run for a long time;
// the stream client never waits on them.
type EventHandler func(Event)

// StreamConfig configures the ARI event feed client.
type StreamConfig struct {
	BaseURL        string // e.g. ws://asterisk:8088/ari/events
	AppName        string
	Username       string
	Password       string
	PingInterval   time.Duration // default 20s
	PingTimeout    time.Duration // default 20s
	ReconnectDelay time.Duration // default 1s
	Logger         logging.Logger
	Metrics        *metrics.Metrics
}

// StreamClient maintains one persistent WebSocket connection to the ARI
// event feed and fans events out to the handler. Each event is dispatched on
// its own goroutine so a slow handler for one call never delays delivery for
// another; the reader itself therefore never applies backpressure to the
// server. Any disconnect while running triggers a reconnect after a fixed
// delay, indefinitely, until Stop is called.
type StreamClient struct {
	cfg     StreamConfig
	handler EventHandler
	logger  logging.Logger

	state atomic.Int32

	mu   sync.Mutex
	conn *websocket.Conn

	stopCh   chan struct{}
	stopOnce sync.Once

	dispatches sync.WaitGroup
}

// NewStreamClient creates a stream client delivering events to handler.
func NewStreamClient(cfg StreamConfig, handler EventHandler) *StreamClient {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 20 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &StreamClient{
		cfg:     cfg,
		handler: handler,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
	}
}

// buildURL embeds the application identity and credentials as query
// parameters, the way the ARI events endpoint expects them.
func (c *StreamClient) buildURL() string {
	query := url.Values{}
	query.Set("app", c.cfg.AppName)
	query.Set("api_key", c.cfg.Username+":"+c.cfg.Password)
	return c.cfg.BaseURL + "?" + query.Encode()
}

// Run maintains the connection until Stop is called or ctx is canceled.
// It only returns after the current read loop has unwound.
func (c *StreamClient) Run(ctx context.Context) error {
	for !c.stopped(ctx) {
		c.setState(StateConnecting)

		dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
		conn, resp, err := dialer.DialContext(ctx, c.buildURL(), nil)
		if err != nil {
			if c.stopped(ctx) {
				break
			}
			fields := logging.Fields{"url": c.cfg.BaseURL}
			if resp != nil {
				fields["status"] = resp.StatusCode
			}
			c.logger.WithError(err).WithFields(fields).Warn("Event feed connect failed; retrying")
			c.countReconnect("dial_error")
			c.setState(StateDisconnected)
			c.sleep(ctx, c.cfg.ReconnectDelay)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		c.logger.WithField("app", c.cfg.AppName).Info("Connected to event feed")

		c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.stopped(ctx) {
			break
		}
		c.countReconnect("read_error")
		c.setState(StateDisconnected)
		c.sleep(ctx, c.cfg.ReconnectDelay)
	}

	c.setState(StateDisconnected)
	c.logger.Info("Event feed listener stopped")
	return nil
}

// readLoop reads frames until the connection dies. A write pump keeps the
// connection alive with pings; the read deadline is pushed forward on every
// pong.
func (c *StreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	deadline := c.cfg.PingInterval + c.cfg.PingTimeout

	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingPump(conn, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped(ctx) && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Warn("Event feed connection lost")
			}
			return
		}
		c.dispatch(data)
	}
}

// pingPump sends keepalive pings until the read loop finishes.
func (c *StreamClient) pingPump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingTimeout)); err != nil {
				return
			}
		}
	}
}

// dispatch decodes one frame and hands it to the handler on a fresh
// goroutine. A malformed frame is logged and skipped; a handler panic is
// contained to that one event.
func (c *StreamClient) dispatch(data []byte) {
	evt, err := ParseEvent(data)
	if err != nil {
		c.logger.WithError(err).Error("Failed to decode event frame")
		if m := c.cfg.Metrics; m != nil && m.EventDecodeErrors != nil {
			m.EventDecodeErrors.WithLabelValues("malformed").Inc()
		}
		return
	}

	c.logger.WithField("event_type", evt.Type).Debug("Received event")
	if m := c.cfg.Metrics; m != nil && m.EventsReceived != nil {
		m.EventsReceived.WithLabelValues(evt.Type).Inc()
	}

	c.dispatches.Add(1)
	go func() {
		defer c.dispatches.Done()
		if m := c.cfg.Metrics; m != nil && m.HandlersInFlight != nil {
			m.HandlersInFlight.WithLabelValues("events").Inc()
			defer m.HandlersInFlight.WithLabelValues("events").Dec()
		}
		defer func() {
			if r := recover(); r != nil {
				c.logger.WithFields(logging.Fields{
					"event_type": evt.Type,
					"panic":      r,
				}).Error("Event handler panicked")
				if m := c.cfg.Metrics; m != nil && m.HandlerFailures != nil {
					m.HandlerFailures.WithLabelValues(evt.Type).Inc()
				}
			}
		}()
		c.handler(evt)
	}()
}

// Stop requests shutdown and closes any open connection so the read loop
// unblocks promptly instead of waiting out its deadline. Safe to call more
// than once.
func (c *StreamClient) Stop() {
	c.stopOnce.Do(func() {
		c.setState(StateClosing)
		close(c.stopCh)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
	})
}

// Connected reports whether the feed is currently connected. Used by the
// health checker.
func (c *StreamClient) Connected() bool {
	return c.State() == StateConnected
}

// State returns the current connection state.
func (c *StreamClient) State() ConnState {
	return ConnState(c.state.Load())
}

// WaitDispatched blocks until all in-flight handler invocations return.
// Intended for tests and orderly shutdown; new events keep dispatching while
// the connection is up.
func (c *StreamClient) WaitDispatched() {
	c.dispatches.Wait()
}

func (c *StreamClient) setState(s ConnState) {
	c.state.Store(int32(s))
	if m := c.cfg.Metrics; m != nil && m.FeedConnected != nil {
		v := 0.0
		if s == StateConnected {
			v = 1.0
		}
		m.FeedConnected.WithLabelValues(c.cfg.AppName).Set(v)
	}
}

func (c *StreamClient) countReconnect(reason string) {
	if m := c.cfg.Metrics; m != nil && m.FeedReconnects != nil {
		m.FeedReconnects.WithLabelValues(reason).Inc()
	}
}

func (c *StreamClient) stopped(ctx context.Context) bool {
	select {
	case <-c.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (c *StreamClient) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.stopCh:
	case <-ctx.Done():
	}
}
