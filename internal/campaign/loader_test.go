package campaign

import (
	"os"
	"path/filepath"
	"testing"

	"switchboard/internal/dialer"
)

const validCampaign = `{
	"name": "spring-survey",
	"contacts": ["5551111", "5552222"],
	"caller_id": "1000",
	"calling_window": {"start": "10:00", "end": "18:30"},
	"limits": {
		"max_concurrent_calls": 2,
		"max_calls_per_minute": 5,
		"max_calls_per_day": 100
	},
	"greeting": "Hello!"
}`

func TestParseValidCampaign(t *testing.T) {
	c, err := Parse([]byte(validCampaign))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "spring-survey" {
		t.Fatalf("unexpected name %q", c.Name)
	}
	if len(c.Contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(c.Contacts))
	}
	if c.Limits.MaxCallsPerMinute != 5 {
		t.Fatalf("unexpected per-minute limit %d", c.Limits.MaxCallsPerMinute)
	}

	start, end, err := c.DialerWindow(dialer.TimeOfDay{}, dialer.TimeOfDay{})
	if err != nil {
		t.Fatalf("window parse failed: %v", err)
	}
	if start != (dialer.TimeOfDay{Hour: 10}) || end != (dialer.TimeOfDay{Hour: 18, Minute: 30}) {
		t.Fatalf("unexpected window %v-%v", start, end)
	}
}

func TestParseRejectsInvalidCampaigns(t *testing.T) {
	cases := map[string]string{
		"not json":        `{broken`,
		"missing limits":  `{"name":"x","contacts":[]}`,
		"bad window":      `{"name":"x","contacts":[],"calling_window":{"start":"25:00","end":"18:00"},"limits":{"max_concurrent_calls":1,"max_calls_per_minute":1,"max_calls_per_day":1}}`,
		"negative cap":    `{"name":"x","contacts":[],"limits":{"max_concurrent_calls":-1,"max_calls_per_minute":1,"max_calls_per_day":1}}`,
		"unknown field":   `{"name":"x","contacts":[],"limits":{"max_concurrent_calls":1,"max_calls_per_minute":1,"max_calls_per_day":1},"surprise":true}`,
		"empty name":      `{"name":"","contacts":[],"limits":{"max_concurrent_calls":1,"max_calls_per_minute":1,"max_calls_per_day":1}}`,
		"partial limits":  `{"name":"x","contacts":[],"limits":{"max_concurrent_calls":1}}`,
	}
	for name, body := range cases {
		if _, err := Parse([]byte(body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign.json")
	if err := os.WriteFile(path, []byte(validCampaign), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Name != "spring-survey" {
		t.Fatalf("unexpected name %q", c.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultWindowWhenUnset(t *testing.T) {
	c, err := Parse([]byte(`{"name":"x","contacts":[],"limits":{"max_concurrent_calls":1,"max_calls_per_minute":1,"max_calls_per_day":1}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defStart := dialer.TimeOfDay{Hour: 9}
	defEnd := dialer.TimeOfDay{Hour: 20}
	start, end, err := c.DialerWindow(defStart, defEnd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start != defStart || end != defEnd {
		t.Fatalf("expected defaults, got %v-%v", start, end)
	}
}
