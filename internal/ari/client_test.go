package ari

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger, _ := logrustest.NewNullLogger()
	client := NewClient(Config{
		BaseURL:  srv.URL,
		Username: "ari-user",
		Password: "ari-pass",
		Logger:   logger,
	})
	return client, srv
}

func TestOriginate(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Method != "POST" || r.URL.Path != "/channels" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ari-user" || pass != "ari-pass" {
			t.Error("missing or wrong basic auth")
		}
		q := r.URL.Query()
		if q.Get("endpoint") != "PJSIP/5551234@trunk" {
			t.Errorf("unexpected endpoint %q", q.Get("endpoint"))
		}
		if q.Get("appArgs") != "outbound,sess-1" {
			t.Errorf("unexpected appArgs %q", q.Get("appArgs"))
		}
		if q.Get("timeout") != "30" {
			t.Errorf("unexpected timeout %q", q.Get("timeout"))
		}
		w.Write([]byte(`{"id":"chan-9","state":"Down"}`))
	}))

	channel, err := client.Originate(context.Background(), OriginateRequest{
		Endpoint: "PJSIP/5551234@trunk",
		App:      "switchboard",
		AppArgs:  "outbound,sess-1",
		CallerID: "1000",
		Timeout:  30 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channel.ID != "chan-9" {
		t.Fatalf("expected chan-9, got %s", channel.ID)
	}
	if requests.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", requests.Load())
	}
}

func TestOriginateFailureIsNotRetried(t *testing.T) {
	var requests atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "allocation failed", http.StatusInternalServerError)
	}))

	_, err := client.Originate(context.Background(), OriginateRequest{
		Endpoint: "PJSIP/1@trunk",
		App:      "switchboard",
	})
	if err == nil {
		t.Fatal("expected error")
	}

	var origErr *OriginationError
	if !errors.As(err, &origErr) {
		t.Fatalf("expected OriginationError, got %T", err)
	}
	if origErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", origErr.StatusCode)
	}
	// A replayed origination would place a second call.
	if requests.Load() != 1 {
		t.Fatalf("expected exactly 1 request, got %d", requests.Load())
	}
}

func TestPlayReturnsPlaybackID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/channels/chan-1/play" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("media") != "sound:switchboard/abc" {
			t.Errorf("unexpected media %q", r.URL.Query().Get("media"))
		}
		w.Write([]byte(`{"id":"pb-1","state":"queued"}`))
	}))

	id, err := client.Play(context.Background(), "chan-1", "sound:switchboard/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "pb-1" {
		t.Fatalf("expected pb-1, got %s", id)
	}
}

func TestAnswerAndHangup(t *testing.T) {
	var answered, hungUp bool
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/channels/chan-1/answer":
			answered = true
		case r.Method == "DELETE" && r.URL.Path == "/channels/chan-1":
			if r.URL.Query().Get("reason") != "normal" {
				t.Errorf("unexpected reason %q", r.URL.Query().Get("reason"))
			}
			hungUp = true
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.Answer(context.Background(), "chan-1"); err != nil {
		t.Fatalf("answer failed: %v", err)
	}
	if err := client.Hangup(context.Background(), "chan-1", "normal"); err != nil {
		t.Fatalf("hangup failed: %v", err)
	}
	if !answered || !hungUp {
		t.Fatal("expected both control calls to reach the server")
	}
}

func TestControlErrorSurfacesStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such channel", http.StatusNotFound)
	}))

	if err := client.Answer(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
