package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/promptflux-stt/internal/session"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

const waitFor = 3 * time.Second

// fakeCapture serves RecentAudio from a settable level and records
// recording calls.
type fakeCapture struct {
	mu        sync.Mutex
	rate      int
	level     float32
	recording bool
	recorded  []float32
	begins    int
	discards  int
}

func newFakeCapture() *fakeCapture { return &fakeCapture{rate: 1000} }

func (f *fakeCapture) SetLevel(v float32) {
	f.mu.Lock()
	f.level = v
	f.mu.Unlock()
}

func (f *fakeCapture) BeginRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins++
	f.recording = true
	f.recorded = []float32{0.1, 0.2, 0.3}
}

func (f *fakeCapture) StopRecording() []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.recording {
		return []float32{}
	}
	f.recording = false
	return f.recorded
}

func (f *fakeCapture) DiscardRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	f.recording = false
}

func (f *fakeCapture) RecentAudio(windowMs int) []float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float32, windowMs*f.rate/1000)
	for i := range out {
		out[i] = f.level
	}
	return out
}

func (f *fakeCapture) SampleRate() int { return f.rate }

func (f *fakeCapture) counts() (begins, discards int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins, f.discards
}

// fakeClient buffers every event it is sent.
type fakeClient struct {
	id     string
	events chan session.Event
	err    error
}

func newClient(id string) *fakeClient {
	return &fakeClient{id: id, events: make(chan session.Event, 32)}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(_ context.Context, ev session.Event) error {
	if c.err != nil {
		return c.err
	}
	c.events <- ev
	return nil
}

func (c *fakeClient) expect(t *testing.T, typ session.EventType) session.Event {
	t.Helper()
	select {
	case ev := <-c.events:
		if ev.Type != typ {
			t.Fatalf("client %s got %+v, want %s", c.id, ev, typ)
		}
		return ev
	case <-time.After(waitFor):
		t.Fatalf("client %s: timed out waiting for %s", c.id, typ)
		return session.Event{}
	}
}

func (c *fakeClient) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-c.events:
		t.Fatalf("client %s got unexpected %+v", c.id, ev)
	case <-time.After(d):
	}
}

// fastTunables shortens the monitor cadence; the clamped minimums still
// apply to silence, grace and wake polling.
func fastTunables() session.Tunables {
	tun := session.DefaultTunables()
	tun.SilencePoll = 10 * time.Millisecond
	tun.SilenceWindow = 20 * time.Millisecond
	tun.Silence = 0
	tun.StartGrace = 0
	tun.WakePoll = 0
	return tun
}

func run(t *testing.T, capture session.Capture, engine stt.Transcriber, cfg session.Config, opts ...session.Option) *session.Coordinator {
	t.Helper()
	return runStarted(t, session.NewCoordinator(capture, engine, cfg, opts...))
}

// runStarted runs c until the test ends.
func runStarted(t *testing.T, c *session.Coordinator) *session.Coordinator {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(waitFor):
			t.Error("Run did not return after cancel")
		}
	})
	return c
}

func attach(t *testing.T, c *session.Coordinator, id string) *fakeClient {
	t.Helper()
	cl := newClient(id)
	c.Attach(cl)
	cl.expect(t, session.EventReady)
	return cl
}

func snapshot(t *testing.T, c *session.Coordinator) session.Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	st, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return st
}

var errSend = errors.New("connection closed")
