package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"switchboard/pkg/clients"
	"switchboard/pkg/logging"
)

// OriginationError reports a failed call-origination request.
type OriginationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *OriginationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("origination request failed: %v", e.Err)
	}
	return fmt.Sprintf("origination request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *OriginationError) Unwrap() error { return e.Err }

// Client wraps the ARI REST control API.
type Client struct {
	baseURL     string
	username    string
	password    string
	httpClient  *http.Client
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the ARI control client
type Config struct {
	BaseURL     string // e.g. http://asterisk:8088/ari
	Username    string
	Password    string
	Timeout     time.Duration
	Logger      logging.Logger
	RetryConfig *clients.RetryConfig
}

// NewClient creates a new ARI control client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:     config.BaseURL,
		username:    config.Username,
		password:    config.Password,
		httpClient:  httpClient,
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// OriginateRequest describes one outbound call origination.
type OriginateRequest struct {
	Endpoint string // e.g. PJSIP/5551234@trunk-main
	App      string
	AppArgs  string // application routing metadata, e.g. "outbound,<session-id>"
	CallerID string
	Timeout  time.Duration
}

// Originate requests a new outbound channel. The request is never retried at
// the transport layer: a replayed origination would place a second call.
func (c *Client) Originate(ctx context.Context, or OriginateRequest) (*Channel, error) {
	params := url.Values{}
	params.Set("endpoint", or.Endpoint)
	params.Set("app", or.App)
	params.Set("appArgs", or.AppArgs)
	params.Set("callerId", or.CallerID)
	if or.Timeout > 0 {
		params.Set("timeout", strconv.Itoa(int(or.Timeout.Seconds())))
	}

	endpoint := fmt.Sprintf("%s/channels?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return nil, &OriginationError{Err: err}
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, clients.NoRetryConfig())
	if err != nil {
		return nil, &OriginationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &OriginationError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &OriginationError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var channel Channel
	if err := json.Unmarshal(body, &channel); err != nil {
		return nil, &OriginationError{Err: fmt.Errorf("failed to parse channel response: %w", err)}
	}

	return &channel, nil
}

// Answer answers a ringing channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.post(ctx, fmt.Sprintf("/channels/%s/answer", url.PathEscape(channelID)), nil)
}

// Hangup tears down a channel.
func (c *Client) Hangup(ctx context.Context, channelID, reason string) error {
	params := url.Values{}
	if reason != "" {
		params.Set("reason", reason)
	}

	endpoint := fmt.Sprintf("%s/channels/%s", c.baseURL, url.PathEscape(channelID))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to hang up channel %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp, "hangup")
}

// Play starts media playback on a channel and returns the playback ID.
func (c *Client) Play(ctx context.Context, channelID, mediaURI string) (string, error) {
	params := url.Values{}
	params.Set("media", mediaURI)

	endpoint := fmt.Sprintf("%s/channels/%s/play?%s", c.baseURL, url.PathEscape(channelID), params.Encode())
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, clients.NoRetryConfig())
	if err != nil {
		return "", fmt.Errorf("failed to start playback on %s: %w", channelID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("playback request returned %d: %s", resp.StatusCode, string(body))
	}

	var playback Playback
	if err := json.Unmarshal(body, &playback); err != nil {
		return "", fmt.Errorf("failed to parse playback response: %w", err)
	}
	return playback.ID, nil
}

// StopPlayback cancels an in-progress playback.
func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	endpoint := fmt.Sprintf("%s/playbacks/%s", c.baseURL, url.PathEscape(playbackID))
	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retryConfig)
	if err != nil {
		return fmt.Errorf("failed to stop playback %s: %w", playbackID, err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp, "stop playback")
}

// StartRecording begins a live recording on a channel.
func (c *Client) StartRecording(ctx context.Context, channelID, name, format string, maxSilence time.Duration) error {
	params := url.Values{}
	params.Set("name", name)
	params.Set("format", format)
	params.Set("ifExists", "overwrite")
	if maxSilence > 0 {
		params.Set("maxSilenceSeconds", strconv.Itoa(int(maxSilence.Seconds())))
	}

	return c.post(ctx, fmt.Sprintf("/channels/%s/record?%s", url.PathEscape(channelID), params.Encode()), nil)
}

// StopRecording stops a live recording, finalizing the file.
func (c *Client) StopRecording(ctx context.Context, name string) error {
	return c.post(ctx, fmt.Sprintf("/recordings/live/%s/stop", url.PathEscape(name)), nil)
}

func (c *Client) post(ctx context.Context, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, clients.NoRetryConfig())
	if err != nil {
		return fmt.Errorf("control request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	return c.checkStatus(resp, path)
}

func (c *Client) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode < 400 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"status_code": resp.StatusCode,
			"operation":   op,
			"response":    string(body),
		}).Error("Control API returned error")
	}
	return fmt.Errorf("control API %s returned %d: %s", op, resp.StatusCode, string(body))
}
