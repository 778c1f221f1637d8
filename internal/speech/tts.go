package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"switchboard/pkg/clients"
	"switchboard/pkg/logging"
)

// TTSConfig configures the Vira text-to-speech client.
type TTSConfig struct {
	URL            string
	Token          string
	Speaker        string  // default "female"
	Speed          float64 // default 1.0
	Timeout        time.Duration
	MaxConcurrency int
	RetryConfig    *clients.RetryConfig // default retries with a circuit breaker
	Logger         logging.Logger
}

// TTSClient synthesizes speech through the Vira gateway. The gateway returns
// a URL to the rendered file; the client fetches it so callers always get
// audio bytes regardless of backend.
type TTSClient struct {
	cfg        TTSConfig
	httpClient *http.Client
	retry      clients.RetryConfig
	sem        semaphore
	logger     logging.Logger
}

// NewTTSClient creates a synthesis client.
func NewTTSClient(cfg TTSConfig) *TTSClient {
	if cfg.Speaker == "" {
		cfg.Speaker = "female"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	retry := clients.DefaultRetryConfig()
	retry.CircuitBreaker = clients.NewCircuitBreaker(clients.DefaultCircuitBreakerConfig())
	if cfg.RetryConfig != nil {
		retry = *cfg.RetryConfig
	}
	return &TTSClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: clients.DefaultTransport(),
		},
		retry:  retry,
		sem:    newSemaphore(cfg.MaxConcurrency),
		logger: cfg.Logger,
	}
}

type ttsEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Filename string  `json:"filename"`
		URL      string  `json:"url"`
		Duration float64 `json:"duration"`
	} `json:"data"`
}

// Synthesize renders text to WAV audio.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.cfg.Token == "" {
		return nil, fmt.Errorf("synthesis token missing")
	}

	if err := c.sem.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.sem.release()

	payload, err := json.Marshal(map[string]interface{}{
		"text":      text,
		"speaker":   c.cfg.Speaker,
		"speed":     c.cfg.Speed,
		"timestamp": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("gateway-token", c.cfg.Token)
	req.Header.Set("accept", "application/json")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.WithFields(logging.Fields{
			"status_code": resp.StatusCode,
			"response":    string(body),
		}).Error("Synthesis backend returned error")
		return nil, fmt.Errorf("synthesis backend returned %d", resp.StatusCode)
	}

	var envelope ttsEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse synthesis response: %w", err)
	}
	if envelope.Data.URL == "" {
		return nil, fmt.Errorf("synthesis response carried no file URL, status %q", envelope.Status)
	}

	return c.fetch(ctx, envelope.Data.URL)
}

func (c *TTSClient) fetch(ctx context.Context, fileURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("gateway-token", c.cfg.Token)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rendered audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("rendered audio fetch returned %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered audio: %w", err)
	}
	return audio, nil
}
