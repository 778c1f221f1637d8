package ari

import "testing"

func TestParseEvent(t *testing.T) {
	evt, err := ParseEvent([]byte(`{"type":"StasisStart","channel":{"id":"chan-1"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.Type != "StasisStart" {
		t.Fatalf("expected StasisStart, got %s", evt.Type)
	}

	var payload StasisStartEvent
	if err := evt.Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.Channel.ID != "chan-1" {
		t.Fatalf("expected chan-1, got %s", payload.Channel.ID)
	}
}

func TestParseEventMalformed(t *testing.T) {
	if _, err := ParseEvent([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := ParseEvent([]byte(`{"channel":{"id":"x"}}`)); err == nil {
		t.Fatal("expected error for frame without type")
	}
}

func TestChannelIDFromTargetURI(t *testing.T) {
	if got := ChannelIDFromTargetURI("channel:abc-123"); got != "abc-123" {
		t.Fatalf("expected abc-123, got %q", got)
	}
	if got := ChannelIDFromTargetURI("bridge:xyz"); got != "" {
		t.Fatalf("expected empty for non-channel URI, got %q", got)
	}
}
