package sessions

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/metrics"
	"switchboard/pkg/logging"
)

// Leg identifies one channel's role within a session.
type Leg string

const (
	LegOutbound Leg = "outbound"
	LegInbound  Leg = "inbound"
	LegOperator Leg = "operator"
)

// Direction is how a session entered the system.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Session tracks one logical call and the channels attached to it.
type Session struct {
	ID        string
	Contact   string
	Direction Direction
	CreatedAt time.Time

	mu       sync.Mutex
	channels map[Leg]string
	answered bool
}

// Channel returns the channel ID bound to the given leg, if any.
func (s *Session) Channel(leg Leg) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.channels[leg]
	return id, ok
}

// Answered reports whether any leg of the session reached the Up state.
func (s *Session) Answered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered
}

// Registry is the in-memory index of live sessions, addressable by session ID
// and by any bound channel ID.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byChannel map[string]*Session
	logger    logging.Logger
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty session registry. m may be nil.
func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byChannel: make(map[string]*Session),
		logger:    logger,
		metrics:   m,
	}
}

// CreateOutboundSession registers a new session for a dial attempt to the
// given contact and returns it. The channel is bound later, once the
// application receives the channel from the switch.
func (r *Registry) CreateOutboundSession(contact string) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		Contact:   contact,
		Direction: DirectionOutbound,
		CreatedAt: time.Now(),
		channels:  make(map[Leg]string),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
	r.adjustGauge(DirectionOutbound, 1)

	r.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"contact":    contact,
	}).Info("Created outbound session")
	return session
}

// CreateInboundSession registers a session for a call that arrived from the
// switch, already bound to its originating channel.
func (r *Registry) CreateInboundSession(callerNumber, channelID string) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		Contact:   callerNumber,
		Direction: DirectionInbound,
		CreatedAt: time.Now(),
		channels:  map[Leg]string{LegInbound: channelID},
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.byChannel[channelID] = session
	r.mu.Unlock()
	r.adjustGauge(DirectionInbound, 1)

	r.logger.WithFields(logging.Fields{
		"session_id": session.ID,
		"caller":     callerNumber,
		"channel_id": channelID,
	}).Info("Created inbound session")
	return session
}

// Get looks up a session by ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// GetByChannel looks up the session a channel is bound to.
func (r *Registry) GetByChannel(channelID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[channelID]
	return s, ok
}

// BindChannel attaches a channel to an existing session under the given leg.
func (r *Registry) BindChannel(sessionID string, leg Leg, channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("unknown session %s", sessionID)
	}

	session.mu.Lock()
	session.channels[leg] = channelID
	session.mu.Unlock()
	r.byChannel[channelID] = session
	return nil
}

// MarkAnswered records that the session's channel reached the Up state.
func (r *Registry) MarkAnswered(sessionID string) {
	r.mu.RLock()
	session, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	session.mu.Lock()
	session.answered = true
	session.mu.Unlock()
}

// Complete removes a finished session and all its channel bindings.
func (r *Registry) Complete(sessionID string) {
	r.mu.Lock()
	session, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}

	session.mu.Lock()
	for _, channelID := range session.channels {
		delete(r.byChannel, channelID)
	}
	session.mu.Unlock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.adjustGauge(session.Direction, -1)

	r.logger.WithField("session_id", sessionID).Info("Session completed")
}

func (r *Registry) adjustGauge(direction Direction, delta float64) {
	if r.metrics != nil && r.metrics.ActiveSessions != nil {
		r.metrics.ActiveSessions.WithLabelValues(string(direction)).Add(delta)
	}
}

// ActiveCount returns the number of live sessions. The dialer uses this as
// its concurrency measure.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SessionInfo is a read-only snapshot of one session for the admin API.
type SessionInfo struct {
	ID        string            `json:"id"`
	Contact   string            `json:"contact"`
	Direction Direction         `json:"direction"`
	CreatedAt time.Time         `json:"created_at"`
	Answered  bool              `json:"answered"`
	Channels  map[string]string `json:"channels"`
}

// Snapshot returns a copy of all live sessions.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(r.sessions))
	for _, session := range r.sessions {
		session.mu.Lock()
		channels := make(map[string]string, len(session.channels))
		for leg, id := range session.channels {
			channels[string(leg)] = id
		}
		info := SessionInfo{
			ID:        session.ID,
			Contact:   session.Contact,
			Direction: session.Direction,
			CreatedAt: session.CreatedAt,
			Answered:  session.answered,
			Channels:  channels,
		}
		session.mu.Unlock()
		out = append(out, info)
	}
	return out
}
