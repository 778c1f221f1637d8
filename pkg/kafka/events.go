package kafka

import "time"

// CallEvent is the record published to the call-events topic for each
// call-lifecycle transition observed by the engine. Payload carries
// event-specific details only; transcripts are never included.
type CallEvent struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	SessionID     string                 `json:"session_id,omitempty"`
	Contact       string                 `json:"contact,omitempty"`
	ChannelID     string                 `json:"channel_id,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
}

// SchemaVersion for CallEvent records.
const SchemaVersion = "1.0"
