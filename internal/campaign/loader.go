package campaign

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"switchboard/internal/dialer"
)

//go:embed schema.json
var schemaJSON []byte

// Window is the campaign calling window in local wall-clock time.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Limits are the campaign dialing caps. A zero cap disables dialing.
type Limits struct {
	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	MaxCallsPerMinute  int `json:"max_calls_per_minute"`
	MaxCallsPerDay     int `json:"max_calls_per_day"`
}

// Campaign is one outbound dialing campaign definition.
type Campaign struct {
	Name         string   `json:"name"`
	Contacts     []string `json:"contacts"`
	CallerID     string   `json:"caller_id"`
	Window       *Window  `json:"calling_window"`
	Limits       Limits   `json:"limits"`
	Greeting     string   `json:"greeting"`
	SystemPrompt string   `json:"system_prompt"`
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("campaign.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("campaign schema resource: %v", err))
	}
	schema, err := compiler.Compile("campaign.schema.json")
	if err != nil {
		panic(fmt.Sprintf("campaign schema compile: %v", err))
	}
	return schema
}

// Load reads and validates a campaign definition file.
func Load(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read campaign file: %w", err)
	}
	return Parse(data)
}

// Parse validates campaign JSON against the schema and decodes it.
func Parse(data []byte) (*Campaign, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("campaign is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("campaign failed validation: %w", err)
	}

	var c Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode campaign: %w", err)
	}
	return &c, nil
}

// DialerWindow parses the calling window, defaulting to the given bounds
// when the campaign leaves it unset.
func (c *Campaign) DialerWindow(defaultStart, defaultEnd dialer.TimeOfDay) (dialer.TimeOfDay, dialer.TimeOfDay, error) {
	if c.Window == nil {
		return defaultStart, defaultEnd, nil
	}
	start, err := dialer.ParseTimeOfDay(c.Window.Start)
	if err != nil {
		return dialer.TimeOfDay{}, dialer.TimeOfDay{}, err
	}
	end, err := dialer.ParseTimeOfDay(c.Window.End)
	if err != nil {
		return dialer.TimeOfDay{}, dialer.TimeOfDay{}, err
	}
	return start, end, nil
}
