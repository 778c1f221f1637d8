package ari

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event is one decoded frame from the ARI event feed. The payload is kept
// raw; callers decode into the typed structs below based on Type.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// ParseEvent decodes a raw frame into an Event. The frame must be a JSON
// object carrying at least a "type" field.
func ParseEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Event{}, fmt.Errorf("malformed event frame: %w", err)
	}
	if envelope.Type == "" {
		return Event{}, fmt.Errorf("event frame missing type field")
	}

	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Event{Type: envelope.Type, Raw: raw}, nil
}

// Decode unmarshals the event payload into the given typed struct.
func (e Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// CallerID identifies the party on a channel.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Channel is the ARI representation of one call leg.
type Channel struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Caller CallerID `json:"caller"`
}

// Playback describes a media playback operation on a channel or bridge.
type Playback struct {
	ID        string `json:"id"`
	MediaURI  string `json:"media_uri"`
	TargetURI string `json:"target_uri"`
	State     string `json:"state"`
}

// Recording describes a live recording.
type Recording struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	State     string `json:"state"`
	TargetURI string `json:"target_uri"`
	Cause     string `json:"cause"`
}

// Typed payloads for the event types the engine routes on.

type StasisStartEvent struct {
	Args    []string `json:"args"`
	Channel Channel  `json:"channel"`
}

type StasisEndEvent struct {
	Channel Channel `json:"channel"`
}

type ChannelStateChangeEvent struct {
	Channel Channel `json:"channel"`
}

type ChannelHangupRequestEvent struct {
	Cause   int     `json:"cause"`
	Channel Channel `json:"channel"`
}

type ChannelDestroyedEvent struct {
	Cause    int     `json:"cause"`
	CauseTxt string  `json:"cause_txt"`
	Channel  Channel `json:"channel"`
}

type PlaybackFinishedEvent struct {
	Playback Playback `json:"playback"`
}

type RecordingFinishedEvent struct {
	Recording Recording `json:"recording"`
}

type RecordingFailedEvent struct {
	Recording Recording `json:"recording"`
}

// ChannelIDFromTargetURI extracts the channel ID from a playback or
// recording target URI of the form "channel:<id>".
func ChannelIDFromTargetURI(uri string) string {
	if rest, ok := strings.CutPrefix(uri, "channel:"); ok {
		return rest
	}
	return ""
}
