package transport_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/promptflux-stt/internal/session"
	"github.com/MrWong99/promptflux-stt/internal/transport"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt/mock"
)

const waitFor = 3 * time.Second

// stubCapture hands out a fixed recording.
type stubCapture struct {
	mu        sync.Mutex
	recording bool
}

func (s *stubCapture) BeginRecording() {
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()
}

func (s *stubCapture) StopRecording() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recording = false
	return []float32{0.1, -0.1, 0.2}
}

func (s *stubCapture) DiscardRecording() { s.StopRecording() }
func (s *stubCapture) RecentAudio(int) []float32 { return []float32{} }
func (s *stubCapture) SampleRate() int { return 16000 }

type connCounter struct{ open atomic.Int64 }

func (c *connCounter) ClientConnected(context.Context) { c.open.Add(1) }
func (c *connCounter) ClientDisconnected(context.Context) { c.open.Add(-1) }

type harness struct {
	srv     *transport.Server
	http    *httptest.Server
	coord   *session.Coordinator
	engine  *mock.Transcriber
	metrics *connCounter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	engine := &mock.Transcriber{Results: []stt.Result{{Text: "hello world", AvgLogprob: -0.25}}}
	coord := session.NewCoordinator(&stubCapture{}, engine, session.Config{Language: "auto", Tunables: session.DefaultTunables()})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = coord.Run(ctx)
	}()

	metrics := &connCounter{}
	srv := transport.NewServer(coord, transport.WithMetrics(metrics))
	hs := httptest.NewServer(srv)
	t.Cleanup(func() {
		closeCtx, done := context.WithTimeout(context.Background(), waitFor)
		defer done()
		_ = srv.Close(closeCtx)
		hs.Close()
		cancel()
		<-runDone
	})
	return &harness{srv: srv, http: hs, coord: coord, engine: engine, metrics: metrics}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	expectEvent(t, conn, session.EventReady)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("Write(%q): %v", msg, err)
	}
}

func expectEvent(t *testing.T, conn *websocket.Conn, want session.EventType) session.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read waiting for %s: %v", want, err)
	}
	var ev session.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if ev.Type != want {
		t.Fatalf("got %s (%s), want %s", ev.Type, data, want)
	}
	return ev
}

func TestServer_StartStopResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, `{"type":"START","reason":"hotkey"}`)
	send(t, conn, `{"type":"STOP","language":"de"}`)

	ev := expectEvent(t, conn, session.EventResult)
	if ev.Text != "hello world" {
		t.Errorf("text = %q, want hello world", ev.Text)
	}
	if ev.Meta.AvgLogprob != -0.25 {
		t.Errorf("meta = %+v, want avg_logprob -0.25", ev.Meta)
	}
	if req, ok := h.engine.LastCall(); !ok || req.Language != "de" {
		t.Errorf("engine request = %+v, want language de", req)
	}
}

func TestServer_ProtocolErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, " stop ")
	if ev := expectEvent(t, conn, session.EventError); ev.Code != session.CodeNotRecording {
		t.Errorf("code = %s, want %s", ev.Code, session.CodeNotRecording)
	}

	send(t, conn, `{"type":"DANCE"}`)
	ev := expectEvent(t, conn, session.EventError)
	if ev.Code != session.CodeUnknown || !strings.Contains(ev.Message, "DANCE") {
		t.Errorf("error = %+v, want UNKNOWN mentioning DANCE", ev)
	}

	// The connection stays usable after protocol errors.
	send(t, conn, "START")
	send(t, conn, "STOP")
	expectEvent(t, conn, session.EventResult)
}

func TestServer_BroadcastsResult(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	a := h.dial(t)
	b := h.dial(t)

	send(t, a, "START")
	send(t, a, "STOP")
	expectEvent(t, a, session.EventResult)
	expectEvent(t, b, session.EventResult)
}

func TestServer_TracksConnections(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.dial(t)

	if n := h.srv.Clients(); n != 1 {
		t.Errorf("Clients() = %d, want 1", n)
	}
	if n := h.metrics.open.Load(); n != 1 {
		t.Errorf("connected gauge = %d, want 1", n)
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	deadline := time.Now().Add(waitFor)
	for h.srv.Clients() != 0 || h.metrics.open.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, gauge = %d after disconnect", h.srv.Clients(), h.metrics.open.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := h.coord.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if st.Clients != 0 {
		t.Errorf("session clients = %d, want 0", st.Clients)
	}
}

func TestServer_CloseSendsGoingAway(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	conn := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	// The peer must be reading to answer the close handshake.
	readErr := make(chan error, 1)
	go func() {
		_, _, err := conn.Read(ctx)
		readErr <- err
	}()

	if err := h.srv.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := <-readErr
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Errorf("close status = %v (%v), want going away", got, err)
	}
	if n := h.srv.Clients(); n != 0 {
		t.Errorf("Clients() = %d after Close, want 0", n)
	}
}
