package router

import (
	"context"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/ari"
	"switchboard/internal/metrics"
	"switchboard/internal/scenario"
	"switchboard/internal/sessions"
	"switchboard/pkg/kafka"
	"switchboard/pkg/logging"
)

// CallLog records call attempts and outcomes for later inspection.
type CallLog interface {
	RecordAttempt(ctx context.Context, sessionID, contact, direction string, at time.Time) error
	RecordOutcome(ctx context.Context, sessionID, outcome, detail string, at time.Time) error
}

// Publisher pushes call-lifecycle events to the bus.
type Publisher interface {
	PublishCallEvent(ctx context.Context, event *kafka.CallEvent) error
}

// Router translates raw feed events into session updates and scenario hooks.
// Both the publisher and the call log are optional.
type Router struct {
	ctx      context.Context
	registry *sessions.Registry
	scenario scenario.Scenario
	pub      Publisher
	callLog  CallLog
	logger   logging.Logger
	metrics  *metrics.Metrics
}

// New creates a router. ctx bounds the downstream calls hooks make on behalf
// of events, so canceling it during shutdown unblocks any in-flight hook.
func New(ctx context.Context, registry *sessions.Registry, sc scenario.Scenario, pub Publisher, callLog CallLog, logger logging.Logger, m *metrics.Metrics) *Router {
	return &Router{
		ctx:      ctx,
		registry: registry,
		scenario: sc,
		pub:      pub,
		callLog:  callLog,
		logger:   logger,
		metrics:  m,
	}
}

// HandleEvent routes one decoded feed event. It runs on the dispatch
// goroutine for that event.
func (r *Router) HandleEvent(evt ari.Event) {
	switch evt.Type {
	case "StasisStart":
		r.handleStasisStart(evt)
	case "StasisEnd":
		r.handleStasisEnd(evt)
	case "ChannelStateChange":
		r.handleStateChange(evt)
	case "ChannelHangupRequest":
		r.handleHangupRequest(evt)
	case "ChannelDestroyed":
		r.handleDestroyed(evt)
	case "PlaybackFinished":
		r.handlePlaybackFinished(evt)
	case "RecordingFinished":
		r.handleRecordingFinished(evt)
	case "RecordingFailed":
		r.handleRecordingFailed(evt)
	default:
		r.logger.WithField("event_type", evt.Type).Debug("Ignoring event")
	}
}

// handleStasisStart binds dialed channels to their session, or opens a new
// session for calls arriving from outside. The first app argument names the
// leg role; dialed legs carry the session ID as the second argument.
func (r *Router) handleStasisStart(evt ari.Event) {
	var payload ari.StasisStartEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode StasisStart")
		return
	}

	role := ""
	if len(payload.Args) > 0 {
		role = payload.Args[0]
	}

	switch role {
	case "outbound", "operator":
		if len(payload.Args) < 2 {
			r.logger.WithField("channel_id", payload.Channel.ID).Error("Dialed channel missing session argument")
			return
		}
		sessionID := payload.Args[1]
		leg := sessions.LegOutbound
		if role == "operator" {
			leg = sessions.LegOperator
		}
		if err := r.registry.BindChannel(sessionID, leg, payload.Channel.ID); err != nil {
			r.logger.WithError(err).WithField("channel_id", payload.Channel.ID).Error("Failed to bind channel")
			return
		}
		session, _ := r.registry.Get(sessionID)
		r.publish("channel_created", session, payload.Channel.ID)
		if role == "operator" {
			r.scenario.OnOperatorChannelCreated(r.ctx, sessionID, payload.Channel.ID)
		} else {
			r.recordAttempt(session)
			r.scenario.OnOutboundChannelCreated(r.ctx, sessionID, payload.Channel.ID)
		}

	default:
		// No routing arguments means the switch sent us a fresh inbound call.
		session := r.registry.CreateInboundSession(payload.Channel.Caller.Number, payload.Channel.ID)
		r.publish("channel_created", session, payload.Channel.ID)
		r.recordAttempt(session)
		r.scenario.OnInboundChannelCreated(r.ctx, session.ID, payload.Channel.ID)
	}
}

func (r *Router) handleStateChange(evt ari.Event) {
	var payload ari.ChannelStateChangeEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode ChannelStateChange")
		return
	}
	if payload.Channel.State != "Up" {
		return
	}

	session, ok := r.registry.GetByChannel(payload.Channel.ID)
	if !ok {
		return
	}
	r.registry.MarkAnswered(session.ID)
	r.publish("call_answered", session, payload.Channel.ID)
	r.scenario.OnCallAnswered(r.ctx, session.ID, payload.Channel.ID, string(legFor(session, payload.Channel.ID)))
}

func (r *Router) handleHangupRequest(evt ari.Event) {
	var payload ari.ChannelHangupRequestEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode ChannelHangupRequest")
		return
	}
	session, ok := r.registry.GetByChannel(payload.Channel.ID)
	if !ok {
		return
	}
	r.publish("call_hangup", session, payload.Channel.ID)
	r.scenario.OnCallHangup(r.ctx, session.ID, payload.Channel.ID)
}

func (r *Router) handleDestroyed(evt ari.Event) {
	var payload ari.ChannelDestroyedEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode ChannelDestroyed")
		return
	}
	session, ok := r.registry.GetByChannel(payload.Channel.ID)
	if !ok {
		return
	}
	if !session.Answered() {
		r.logger.WithFields(logging.Fields{
			"session_id": session.ID,
			"cause":      payload.CauseTxt,
		}).Info("Call failed before answer")
		r.publish("call_failed", session, payload.Channel.ID)
		r.recordOutcome(session, "failed", payload.CauseTxt)
		r.scenario.OnCallFailed(r.ctx, session.ID, payload.CauseTxt)
	}
}

func (r *Router) handleStasisEnd(evt ari.Event) {
	var payload ari.StasisEndEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode StasisEnd")
		return
	}
	session, ok := r.registry.GetByChannel(payload.Channel.ID)
	if !ok {
		return
	}

	r.publish("call_finished", session, payload.Channel.ID)
	if session.Answered() {
		r.recordOutcome(session, "completed", "")
	}
	r.scenario.OnCallFinished(r.ctx, session.ID)
	r.registry.Complete(session.ID)
}

func (r *Router) handlePlaybackFinished(evt ari.Event) {
	var payload ari.PlaybackFinishedEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode PlaybackFinished")
		return
	}
	channelID := ari.ChannelIDFromTargetURI(payload.Playback.TargetURI)
	session, ok := r.registry.GetByChannel(channelID)
	if !ok {
		return
	}
	r.scenario.OnPlaybackFinished(r.ctx, session.ID, payload.Playback.ID)
}

func (r *Router) handleRecordingFinished(evt ari.Event) {
	var payload ari.RecordingFinishedEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode RecordingFinished")
		return
	}
	channelID := ari.ChannelIDFromTargetURI(payload.Recording.TargetURI)
	session, ok := r.registry.GetByChannel(channelID)
	if !ok {
		return
	}
	r.scenario.OnRecordingFinished(r.ctx, session.ID, payload.Recording.Name)
}

func (r *Router) handleRecordingFailed(evt ari.Event) {
	var payload ari.RecordingFailedEvent
	if err := evt.Decode(&payload); err != nil {
		r.logger.WithError(err).Error("Failed to decode RecordingFailed")
		return
	}
	channelID := ari.ChannelIDFromTargetURI(payload.Recording.TargetURI)
	session, ok := r.registry.GetByChannel(channelID)
	if !ok {
		return
	}
	r.scenario.OnRecordingFailed(r.ctx, session.ID, payload.Recording.Name, payload.Recording.Cause)
}

func (r *Router) publish(eventType string, session *sessions.Session, channelID string) {
	if r.pub == nil || session == nil {
		return
	}
	event := &kafka.CallEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    "switchboard",
		SessionID: session.ID,
		Contact:   session.Contact,
		ChannelID: channelID,
	}
	start := time.Now()
	err := r.pub.PublishCallEvent(r.ctx, event)
	if m := r.metrics; m != nil && m.KafkaMessages != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.KafkaMessages.WithLabelValues(kafka.DefaultTopic, "produce", status).Inc()
		m.KafkaDuration.WithLabelValues("produce").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.logger.WithError(err).WithField("event_type", eventType).Warn("Failed to publish call event")
	}
}

func (r *Router) recordAttempt(session *sessions.Session) {
	if r.callLog == nil || session == nil {
		return
	}
	if err := r.callLog.RecordAttempt(r.ctx, session.ID, session.Contact, string(session.Direction), time.Now()); err != nil {
		r.logger.WithError(err).Warn("Failed to record call attempt")
	}
}

func (r *Router) recordOutcome(session *sessions.Session, outcome, detail string) {
	if r.callLog == nil || session == nil {
		return
	}
	if err := r.callLog.RecordOutcome(r.ctx, session.ID, outcome, detail, time.Now()); err != nil {
		r.logger.WithError(err).Warn("Failed to record call outcome")
	}
}

func legFor(session *sessions.Session, channelID string) sessions.Leg {
	for _, leg := range []sessions.Leg{sessions.LegOutbound, sessions.LegInbound, sessions.LegOperator} {
		if id, ok := session.Channel(leg); ok && id == channelID {
			return leg
		}
	}
	return ""
}
