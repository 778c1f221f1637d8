package ari

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

type feedServer struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	dials  atomic.Int32
	frames chan []byte
}

func newFeedServer(t *testing.T) (*feedServer, *httptest.Server) {
	fs := &feedServer{t: t, frames: make(chan []byte, 16)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.dials.Add(1)
		conn, err := fs.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.mu.Unlock()

		for frame := range fs.frames {
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return fs, srv
}

func (fs *feedServer) dropAll() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, conn := range fs.conns {
		conn.Close()
	}
	fs.conns = nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestStreamClient(t *testing.T, url string, handler EventHandler) *StreamClient {
	logger, _ := logrustest.NewNullLogger()
	return NewStreamClient(StreamConfig{
		BaseURL:        url,
		AppName:        "testapp",
		Username:       "user",
		Password:       "pass",
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         logger,
	}, handler)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStreamClientBuildURL(t *testing.T) {
	c := newTestStreamClient(t, "ws://host:8088/ari/events", nil)
	url := c.buildURL()
	if !strings.Contains(url, "app=testapp") {
		t.Fatalf("missing app parameter: %s", url)
	}
	if !strings.Contains(url, "api_key=user%3Apass") {
		t.Fatalf("missing credentials parameter: %s", url)
	}
}

func TestStreamClientDeliversEvents(t *testing.T) {
	fs, srv := newFeedServer(t)

	var received atomic.Int32
	client := newTestStreamClient(t, wsURL(srv), func(evt Event) {
		if evt.Type == "ChannelStateChange" {
			received.Add(1)
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(context.Background())
	}()

	waitFor(t, 2*time.Second, client.Connected)
	fs.frames <- []byte(`{"type":"ChannelStateChange","channel":{"id":"c1","state":"Up"}}`)
	waitFor(t, 2*time.Second, func() bool { return received.Load() == 1 })

	client.Stop()
	<-done
}

func TestStreamClientSkipsMalformedFrames(t *testing.T) {
	fs, srv := newFeedServer(t)

	var received atomic.Int32
	client := newTestStreamClient(t, wsURL(srv), func(evt Event) {
		received.Add(1)
	})

	go client.Run(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, client.Connected)
	fs.frames <- []byte(`{broken`)
	fs.frames <- []byte(`{"missing":"type"}`)
	fs.frames <- []byte(`{"type":"StasisEnd","channel":{"id":"c1"}}`)

	waitFor(t, 2*time.Second, func() bool { return received.Load() == 1 })
}

func TestStreamClientDispatchDoesNotBlockReader(t *testing.T) {
	fs, srv := newFeedServer(t)

	block := make(chan struct{})
	var fast atomic.Int32
	client := newTestStreamClient(t, wsURL(srv), func(evt Event) {
		if evt.Type == "StasisStart" {
			<-block
			return
		}
		fast.Add(1)
	})

	go client.Run(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, client.Connected)
	fs.frames <- []byte(`{"type":"StasisStart","channel":{"id":"c1"}}`)
	fs.frames <- []byte(`{"type":"StasisEnd","channel":{"id":"c1"}}`)

	// The second event must be handled while the first handler is stuck.
	waitFor(t, 2*time.Second, func() bool { return fast.Load() == 1 })
	close(block)
	client.WaitDispatched()
}

func TestStreamClientReconnects(t *testing.T) {
	fs, srv := newFeedServer(t)

	client := newTestStreamClient(t, wsURL(srv), func(Event) {})
	go client.Run(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, client.Connected)
	if fs.dials.Load() != 1 {
		t.Fatalf("expected one dial, got %d", fs.dials.Load())
	}

	fs.dropAll()
	waitFor(t, 2*time.Second, func() bool { return fs.dials.Load() >= 2 && client.Connected() })
}

func TestStreamClientStopEndsRun(t *testing.T) {
	_, srv := newFeedServer(t)

	client := newTestStreamClient(t, wsURL(srv), func(Event) {})
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(context.Background())
	}()

	waitFor(t, 2*time.Second, client.Connected)
	client.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if client.Connected() {
		t.Fatal("client still reports connected after stop")
	}

	// Stop is idempotent.
	client.Stop()
}

func TestStreamClientHandlerPanicIsContained(t *testing.T) {
	fs, srv := newFeedServer(t)

	var after atomic.Int32
	client := newTestStreamClient(t, wsURL(srv), func(evt Event) {
		if evt.Type == "StasisStart" {
			panic("boom")
		}
		after.Add(1)
	})

	go client.Run(context.Background())
	defer client.Stop()

	waitFor(t, 2*time.Second, client.Connected)
	fs.frames <- []byte(`{"type":"StasisStart","channel":{"id":"c1"}}`)
	fs.frames <- []byte(`{"type":"StasisEnd","channel":{"id":"c1"}}`)

	waitFor(t, 2*time.Second, func() bool { return after.Load() == 1 && client.Connected() })
}
