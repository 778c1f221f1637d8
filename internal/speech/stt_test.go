package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"

	"switchboard/pkg/clients"
)

func noRetry() *clients.RetryConfig {
	rc := clients.NoRetryConfig()
	return &rc
}

func newTestSTT(t *testing.T, handler http.HandlerFunc) *STTClient {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := logrustest.NewNullLogger()
	return NewSTTClient(STTConfig{
		URL:    srv.URL,
		Token:  "tok",
		Logger: logger,
	})
}

func TestTranscribeSendsMultipartForm(t *testing.T) {
	client := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("gateway-token"); got != "tok" {
			t.Errorf("missing gateway token, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "default" {
			t.Errorf("unexpected model %q", got)
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("missing audio part: %v", err)
		} else {
			data, _ := io.ReadAll(file)
			if string(data) != "RIFF-fake" {
				t.Errorf("unexpected audio payload %q", data)
			}
			file.Close()
		}
		w.Write([]byte(`{"status":"ok","data":{"text":"hello there","requestId":"req-1"}}`))
	})

	result, err := client.Transcribe(context.Background(), []byte("RIFF-fake"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello there" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.RequestID != "req-1" {
		t.Fatalf("unexpected request ID %q", result.RequestID)
	}
}

func TestTranscribeNestedFallbacks(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		wantText string
	}{
		{
			name:     "top level text",
			body:     `{"data":{"text":"top"}}`,
			wantText: "top",
		},
		{
			name:     "nested data text",
			body:     `{"data":{"data":{"text":"nested"}}}`,
			wantText: "nested",
		},
		{
			name:     "ai response result",
			body:     `{"data":{"data":{"aiResponse":{"status":"done","result":{"text":"deep"}}}}}`,
			wantText: "deep",
		},
		{
			name:     "empty everywhere",
			body:     `{"status":"ok","data":{}}`,
			wantText: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestSTT(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tc.body))
			})
			result, err := client.Transcribe(context.Background(), []byte("wav"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Text != tc.wantText {
				t.Fatalf("expected %q, got %q", tc.wantText, result.Text)
			}
		})
	}
}

func TestTranscribeWithoutTokenSkips(t *testing.T) {
	logger, _ := logrustest.NewNullLogger()
	client := NewSTTClient(STTConfig{URL: "http://unused", Logger: logger})

	result, err := client.Transcribe(context.Background(), []byte("wav"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "unauthorized" {
		t.Fatalf("expected unauthorized status, got %q", result.Status)
	}
}

func TestTranscribeBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	logger, _ := logrustest.NewNullLogger()
	client := NewSTTClient(STTConfig{URL: srv.URL, Token: "tok", RetryConfig: noRetry(), Logger: logger})

	if _, err := client.Transcribe(context.Background(), []byte("wav")); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestTranscribeBreakerFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	logger, _ := logrustest.NewNullLogger()
	retry := clients.NoRetryConfig()
	retry.CircuitBreaker = clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})
	client := NewSTTClient(STTConfig{URL: srv.URL, Token: "tok", RetryConfig: &retry, Logger: logger})

	if _, err := client.Transcribe(context.Background(), []byte("wav")); err == nil {
		t.Fatal("expected error while the backend is failing")
	}
	if _, err := client.Transcribe(context.Background(), []byte("wav")); err == nil {
		t.Fatal("expected fast failure from the open breaker")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected the open breaker to stop requests, backend saw %d", got)
	}
}
