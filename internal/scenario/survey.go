package scenario

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"switchboard/internal/ari"
	"switchboard/internal/llm"
	"switchboard/internal/speech"
	"switchboard/pkg/logging"
)

// SurveyConfig configures the conversational survey scenario.
type SurveyConfig struct {
	Greeting      string // opening line spoken after answer
	SystemPrompt  string // instruction for the conversation model
	MaxTurns      int    // default 5
	SoundsDir     string // asterisk sounds directory, synthesized audio lands here
	SoundsPrefix  string // media URI subdirectory, e.g. "switchboard"
	RecordingsDir string // where asterisk writes live recordings
	Logger        logging.Logger
}

// SurveyScenario runs a spoken conversation: greet, record the reply,
// transcribe it, ask the model for the next line, speak it, repeat.
type SurveyScenario struct {
	BaseScenario

	cfg    SurveyConfig
	ari    *ari.Client
	tts    speech.Synthesizer
	stt    speech.Transcriber
	chat   *llm.Client
	logger logging.Logger

	mu       sync.Mutex
	talks    map[string]*conversation
	resolver ChannelResolver
}

type conversation struct {
	history []llm.Message
	turns   int
}

// NewSurveyScenario creates the scenario over the given control client and
// speech/model backends.
func NewSurveyScenario(cfg SurveyConfig, ariClient *ari.Client, tts speech.Synthesizer, stt speech.Transcriber, chat *llm.Client) *SurveyScenario {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 5
	}
	if cfg.SoundsPrefix == "" {
		cfg.SoundsPrefix = "switchboard"
	}
	return &SurveyScenario{
		cfg:    cfg,
		ari:    ariClient,
		tts:    tts,
		stt:    stt,
		chat:   chat,
		logger: cfg.Logger,
		talks:  make(map[string]*conversation),
	}
}

// OnInboundChannelCreated answers calls that dialed in.
func (s *SurveyScenario) OnInboundChannelCreated(ctx context.Context, sessionID, channelID string) {
	if err := s.ari.Answer(ctx, channelID); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to answer inbound channel")
	}
}

// OnCallAnswered opens the conversation with the configured greeting.
func (s *SurveyScenario) OnCallAnswered(ctx context.Context, sessionID, channelID, leg string) {
	s.mu.Lock()
	talk := &conversation{}
	if s.cfg.SystemPrompt != "" {
		talk.history = append(talk.history, llm.Message{Role: "system", Content: s.cfg.SystemPrompt})
	}
	talk.history = append(talk.history, llm.Message{Role: "assistant", Content: s.cfg.Greeting})
	s.talks[sessionID] = talk
	s.mu.Unlock()

	s.speak(ctx, sessionID, channelID, s.cfg.Greeting)
}

// OnPlaybackFinished starts recording the caller's reply once our line has
// finished playing.
func (s *SurveyScenario) OnPlaybackFinished(ctx context.Context, sessionID, playbackID string) {
	channelID, ok := s.channelFor(ctx, sessionID)
	if !ok {
		return
	}

	name := fmt.Sprintf("%s-turn-%s", sessionID, uuid.New().String()[:8])
	if err := s.ari.StartRecording(ctx, channelID, name, "wav", 0); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to start reply recording")
	}
}

// OnRecordingFinished transcribes the reply and speaks the model's next line.
func (s *SurveyScenario) OnRecordingFinished(ctx context.Context, sessionID, recordingName string) {
	audio, err := os.ReadFile(filepath.Join(s.cfg.RecordingsDir, recordingName+".wav"))
	if err != nil {
		s.logger.WithError(err).WithField("recording", recordingName).Error("Failed to read reply recording")
		return
	}

	result, err := s.stt.Transcribe(ctx, audio)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Transcription failed")
		return
	}
	text := strings.TrimSpace(result.Text)

	s.mu.Lock()
	talk, ok := s.talks[sessionID]
	turns := 0
	if ok {
		talk.turns++
		turns = talk.turns
		if text != "" {
			talk.history = append(talk.history, llm.Message{Role: "user", Content: text})
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	channelID, found := s.channelFor(ctx, sessionID)
	if !found {
		return
	}

	if turns >= s.cfg.MaxTurns {
		s.logger.WithField("session_id", sessionID).Info("Conversation turn limit reached, hanging up")
		if err := s.ari.Hangup(ctx, channelID, "normal"); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Error("Failed to hang up")
		}
		return
	}

	reply, err := s.chat.Chat(ctx, s.snapshot(sessionID))
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Model reply failed")
		return
	}
	if reply == "" {
		reply = "Thank you for your time. Goodbye."
	}

	s.mu.Lock()
	if talk, ok := s.talks[sessionID]; ok {
		talk.history = append(talk.history, llm.Message{Role: "assistant", Content: reply})
	}
	s.mu.Unlock()

	s.speak(ctx, sessionID, channelID, reply)
}

// OnRecordingFailed logs the failure; the call continues without that reply.
func (s *SurveyScenario) OnRecordingFailed(ctx context.Context, sessionID, recordingName, cause string) {
	s.logger.WithFields(logging.Fields{
		"session_id": sessionID,
		"recording":  recordingName,
		"cause":      cause,
	}).Warn("Reply recording failed")
}

// OnCallFinished drops per-call conversation state.
func (s *SurveyScenario) OnCallFinished(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.talks, sessionID)
	s.mu.Unlock()
}

// OnCallFailed drops state for calls that never connected.
func (s *SurveyScenario) OnCallFailed(ctx context.Context, sessionID, reason string) {
	s.mu.Lock()
	delete(s.talks, sessionID)
	s.mu.Unlock()
}

// speak synthesizes one line into the sounds directory and plays it.
func (s *SurveyScenario) speak(ctx context.Context, sessionID, channelID, text string) {
	audio, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Synthesis failed")
		return
	}

	name := uuid.New().String()
	path := filepath.Join(s.cfg.SoundsDir, s.cfg.SoundsPrefix, name+".wav")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.logger.WithError(err).Error("Failed to create sounds directory")
		return
	}
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		s.logger.WithError(err).Error("Failed to write synthesized audio")
		return
	}

	mediaURI := fmt.Sprintf("sound:%s/%s", s.cfg.SoundsPrefix, name)
	if _, err := s.ari.Play(ctx, channelID, mediaURI); err != nil {
		s.logger.WithError(err).WithField("session_id", sessionID).Error("Playback failed")
	}
}

func (s *SurveyScenario) snapshot(sessionID string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	talk, ok := s.talks[sessionID]
	if !ok {
		return nil
	}
	out := make([]llm.Message, len(talk.history))
	copy(out, talk.history)
	return out
}

// ChannelResolver lets the scenario find the active channel for a session.
// The event router wires this to the session registry.
type ChannelResolver func(ctx context.Context, sessionID string) (string, bool)

// SetChannelResolver installs the session-to-channel lookup.
func (s *SurveyScenario) SetChannelResolver(r ChannelResolver) {
	s.mu.Lock()
	s.resolver = r
	s.mu.Unlock()
}

func (s *SurveyScenario) channelFor(ctx context.Context, sessionID string) (string, bool) {
	s.mu.Lock()
	r := s.resolver
	s.mu.Unlock()
	if r == nil {
		return "", false
	}
	return r(ctx, sessionID)
}
