package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"switchboard/pkg/clients"
	"switchboard/pkg/logging"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the chat-completions client. Any OpenAI-compatible
// endpoint works.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string  // default gpt-4o-mini
	Temperature    float64 // default 0.2
	Timeout        time.Duration
	MaxConcurrency int
	RetryConfig    *clients.RetryConfig // default retries with a circuit breaker
	Logger         logging.Logger
}

// Client calls a chat-completions API to drive conversational scenarios.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      clients.RetryConfig
	sem        chan struct{}
	logger     logging.Logger
}

// NewClient creates a chat client.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	retry := clients.DefaultRetryConfig()
	retry.CircuitBreaker = clients.NewCircuitBreaker(clients.DefaultCircuitBreakerConfig())
	if cfg.RetryConfig != nil {
		retry = *cfg.RetryConfig
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: clients.DefaultTransport(),
		},
		retry:  retry,
		sem:    make(chan struct{}, cfg.MaxConcurrency),
		logger: cfg.Logger,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends the conversation and returns the assistant's reply. A missing
// API key degrades to an empty reply rather than an error so scenarios can
// run without a configured model.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.APIKey == "" {
		c.logger.Warn("Chat API key not configured; returning empty reply")
		return "", nil
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.WithFields(logging.Fields{
			"status_code": resp.StatusCode,
			"response":    string(body),
		}).Error("Chat backend returned error")
		return "", fmt.Errorf("chat backend returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response carried no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
