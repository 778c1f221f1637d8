package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"switchboard/pkg/clients"
	"switchboard/pkg/logging"
)

// STTConfig configures the Vira speech-to-text client.
type STTConfig struct {
	URL            string
	Token          string // sent as the gateway-token header
	Model          string // language model, default "default"
	Hotwords       []string
	Timeout        time.Duration        // default 30s
	MaxConcurrency int                  // default 10
	RetryConfig    *clients.RetryConfig // default retries with a circuit breaker
	Logger         logging.Logger
}

// STTClient transcribes call recordings through the Vira gateway.
type STTClient struct {
	cfg        STTConfig
	httpClient *http.Client
	retry      clients.RetryConfig
	sem        semaphore
	logger     logging.Logger
}

// NewSTTClient creates a transcription client.
func NewSTTClient(cfg STTConfig) *STTClient {
	if cfg.Model == "" {
		cfg.Model = "default"
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
	return &STTClient{
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

// sttEnvelope mirrors the gateway response. Depending on the gateway version
// the transcript lands at data.text, data.data.text, or inside the nested
// aiResponse result, so all three spots are tried in order.
type sttEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Status    string `json:"status"`
		Text      string `json:"text"`
		RequestID string `json:"requestId"`
		TraceID   string `json:"traceId"`
		Data      struct {
			Text       string `json:"text"`
			RequestID  string `json:"requestId"`
			AIResponse struct {
				Status    string `json:"status"`
				RequestID string `json:"requestId"`
				Result    struct {
					Text string `json:"text"`
				} `json:"result"`
				Meta struct {
					TraceID string `json:"traceId"`
				} `json:"meta"`
			} `json:"aiResponse"`
		} `json:"data"`
	} `json:"data"`
}

func (e *sttEnvelope) toResult() Result {
	nested := e.Data.Data
	ai := nested.AIResponse

	r := Result{}
	r.Text = firstNonEmpty(e.Data.Text, nested.Text, ai.Result.Text)
	r.Status = firstNonEmpty(e.Data.Status, e.Status, ai.Status, "unknown")
	r.RequestID = firstNonEmpty(e.Data.RequestID, nested.RequestID, ai.RequestID)
	r.TraceID = firstNonEmpty(e.Data.TraceID, ai.Meta.TraceID)
	return r
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Transcribe submits WAV audio and returns the transcript. An empty
// transcript with a non-error status is a valid outcome (silence).
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	if c.cfg.Token == "" {
		c.logger.Warn("Transcription token missing; skipping transcription")
		return Result{Status: "unauthorized"}, nil
	}

	if err := c.sem.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer c.sem.release()

	body, contentType, err := c.buildForm(audio)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("gateway-token", c.cfg.Token)
	req.Header.Set("accept", "application/json")

	resp, err := clients.DoWithRetry(ctx, c.httpClient, req, c.retry)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.WithFields(logging.Fields{
			"status_code": resp.StatusCode,
			"response":    string(payload),
		}).Error("Transcription backend returned error")
		return Result{}, fmt.Errorf("transcription backend returned %d", resp.StatusCode)
	}

	var envelope sttEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Result{}, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	result := envelope.toResult()
	if result.Text == "" {
		c.logger.WithField("status", result.Status).Warn("Transcription returned empty text")
	}
	return result, nil
}

func (c *STTClient) buildForm(audio []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}

	fields := [][2]string{
		{"model", c.cfg.Model},
		{"srt", "false"},
		{"inverseNormalizer", "false"},
		{"timestamp", "false"},
		{"spokenPunctuation", "false"},
		{"punctuation", "false"},
		{"numSpeakers", "0"},
		{"diarize", "false"},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	for _, word := range c.cfg.Hotwords {
		if err := w.WriteField("hotwords[]", word); err != nil {
			return nil, "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
