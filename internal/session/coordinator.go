// Package session implements the recording and wake-word state machine that
// sits between connected clients, the audio capture and the transcription
// engine.
//
// A [Coordinator] is an actor: one goroutine started by [Coordinator.Run]
// owns every piece of session state and handles typed events from a single
// channel. Client commands, the silence monitor, the wake-word loop and the
// transcription workers never touch that state; they only send events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/promptflux-stt/internal/observe"
	"github.com/MrWong99/promptflux-stt/internal/wake"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// ErrStopped is returned by calls that need the actor after Run has
// returned.
var ErrStopped = errors.New("session: coordinator stopped")

// Capture is the part of the audio capture the coordinator drives.
// *capture.Capture satisfies it.
type Capture interface {
	BeginRecording()
	StopRecording() []float32
	DiscardRecording()
	RecentAudio(windowMs int) []float32
	SampleRate() int
}

// Client is one connected session client.
type Client interface {
	// ID is unique among attached clients.
	ID() string
	// Send delivers ev. It must not block for long; an error detaches the
	// client.
	Send(ctx context.Context, ev Event) error
}

// Metrics receives coordinator measurements. observe.Metrics implements it.
type Metrics interface {
	RecordTranscription(ctx context.Context, purpose string, d time.Duration, err error)
	RecordEvent(ctx context.Context, event string)
	RecordWakeScore(ctx context.Context, score float64, accepted bool)
	SetSessionState(ctx context.Context, state string)
}

// State is the recording state.
type State int

const (
	Idle State = iota
	Recording
	Transcribing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is a point-in-time view of the coordinator.
type Status struct {
	State       State     `json:"state"`
	Clients     int       `json:"clients"`
	InFlight    int       `json:"transcriptions_in_flight"`
	WakeEnabled bool      `json:"wake_enabled"`
	WakeWord    string    `json:"wake_word,omitempty"`
	LastWake    time.Time `json:"last_wake,omitzero"`
}

// Config configures a [Coordinator].
type Config struct {
	// Language is the default transcription language; "auto" or empty
	// means auto-detection.
	Language string

	// WakeLoop runs the background wake-word detector. It requires a
	// non-empty Tunables.WakeWord.
	WakeLoop bool

	Tunables Tunables
}

// Option customises a [Coordinator].
type Option func(*Coordinator)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics records measurements to m.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithErrorReporter forwards transcription failures to fn.
func WithErrorReporter(fn func(ctx context.Context, err error)) Option {
	return func(c *Coordinator) { c.report = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator serialises all session state changes through one goroutine.
// Its exported methods are safe for concurrent use.
type Coordinator struct {
	capture Capture
	engine  stt.Transcriber
	cfg     Config
	log     *slog.Logger
	metrics Metrics
	report  func(context.Context, error)
	now     func() time.Time

	events   chan event
	loopDone chan struct{}
	quit     chan struct{}
	quitOnce sync.Once
	runOnce  sync.Once
	workers  sync.WaitGroup

	// Owned by the actor goroutine.
	state         State
	clients       map[string]Client
	order         []string
	tun           Tunables
	matcher       *wake.Matcher
	lastWake      time.Time
	recGen        uint64
	txGen         uint64
	inFlight      int
	monitorCancel context.CancelFunc
}

// NewCoordinator returns a coordinator for capture and engine. engine is
// wrapped with [stt.Guard]. An invalid wake phrase disables the wake loop
// with a warning.
func NewCoordinator(capture Capture, engine stt.Transcriber, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		capture:  capture,
		engine:   stt.Guard(engine),
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
		events:   make(chan event, 64),
		loopDone: make(chan struct{}),
		quit:     make(chan struct{}),
		clients:  make(map[string]Client),
		tun:      cfg.Tunables,
	}
	for _, o := range opts {
		o(c)
	}
	if cfg.WakeLoop {
		m, err := cfg.Tunables.matcher()
		if err != nil {
			c.log.Warn("wake-word detection disabled", "err", err)
			c.cfg.WakeLoop = false
		}
		c.matcher = m
	}
	return c
}

// Run processes events until ctx is cancelled or a client sends QUIT. Before
// returning it cancels the silence monitor and the wake loop and waits for
// every background goroutine, so the capture may be closed afterwards. Run
// must be called at most once.
func (c *Coordinator) Run(ctx context.Context) error {
	err := errors.New("session: Run called twice")
	c.runOnce.Do(func() { err = c.run(ctx) })
	return err
}

func (c *Coordinator) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.loopDone)
		cancel()
		c.cancelMonitor()
		c.workers.Wait()
	}()

	if c.cfg.WakeLoop {
		c.log.Info("wake-word listener enabled",
			"wake_word", c.matcher.Phrase(),
			"threshold", c.matcher.Threshold(),
		)
		c.spawn(func() { c.wakeLoop(ctx) })
	}
	c.setState(ctx, Idle)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.quit:
			return nil
		case ev := <-c.events:
			ev.apply(ctx, c)
		}
	}
}

// Done is closed when a client sends QUIT.
func (c *Coordinator) Done() <-chan struct{} { return c.quit }

// Attach registers cl and sends it READY.
func (c *Coordinator) Attach(cl Client) { c.send(attachEvent{client: cl}) }

// Detach removes the client with the given ID. When the last client leaves
// any recording is discarded and the state returns to Idle.
func (c *Coordinator) Detach(id string) { c.send(detachEvent{id: id}) }

// Dispatch handles cmd sent by the client with the given ID.
func (c *Coordinator) Dispatch(id string, cmd Command) {
	c.send(commandEvent{client: id, cmd: cmd})
}

// Reload replaces the tunables. A changed wake phrase, threshold or phonetic
// setting rebuilds the matcher; an invalid phrase keeps the previous one.
func (c *Coordinator) Reload(t Tunables) { c.send(reloadEvent{tun: t}) }

// Snapshot returns the current status.
func (c *Coordinator) Snapshot(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if !c.sendCtx(ctx, snapshotEvent{reply: reply}) {
		if err := ctx.Err(); err != nil {
			return Status{}, err
		}
		return Status{}, ErrStopped
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.loopDone:
		return Status{}, ErrStopped
	}
}

func (c *Coordinator) send(ev event) { c.sendCtx(context.Background(), ev) }

func (c *Coordinator) sendCtx(ctx context.Context, ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.loopDone:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) spawn(fn func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

// ---- actor-side handlers ----

func (c *Coordinator) setState(ctx context.Context, s State) {
	c.state = s
	if c.metrics != nil {
		c.metrics.SetSessionState(ctx, s.String())
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, id string, cmd Command) {
	switch cmd := cmd.(type) {
	case Start:
		c.start(ctx, cmd)
	case Stop:
		c.stop(ctx, id, cmd)
	case Quit:
		c.log.Info("quit requested", "client", id)
		c.cancelMonitor()
		c.quitOnce.Do(func() { close(c.quit) })
	case Unknown:
		c.sendTo(ctx, id, Error(CodeUnknown, fmt.Sprintf("Unsupported message: %q", cmd.Raw)))
	}
}

func (c *Coordinator) start(ctx context.Context, cmd Start) {
	if c.state == Recording {
		c.log.Debug("start ignored, already recording")
		return
	}
	c.recGen++
	c.setState(ctx, Recording)
	c.capture.BeginRecording()
	c.cancelMonitor()
	if cmd.Reason == "wake" || cmd.Reason == "tap" {
		c.startMonitor(ctx, c.recGen)
	}
	c.log.Info("recording started", "reason", cmd.Reason)
}

func (c *Coordinator) stop(ctx context.Context, id string, cmd Stop) {
	if c.state != Recording {
		c.sendTo(ctx, id, Error(CodeNotRecording, "no recording in progress"))
		return
	}
	c.cancelMonitor()
	c.setState(ctx, Transcribing)
	samples := c.capture.StopRecording()

	lang := c.cfg.Language
	if cmd.Language != "" {
		lang = cmd.Language
	}
	req := stt.Request{
		Samples:    samples,
		SampleRate: c.capture.SampleRate(),
		Language:   stt.NormalizeLanguage(lang),
	}
	c.txGen++
	gen := c.txGen
	c.inFlight++
	c.log.Info("recording stopped, transcribing",
		"samples", len(samples),
		"language", lang,
	)
	c.spawn(func() {
		res, err := c.transcribe(ctx, "recording", req)
		c.send(transcriptionDone{client: id, gen: gen, res: res, err: err})
	})
}

func (c *Coordinator) finishTranscription(ctx context.Context, ev transcriptionDone) {
	c.inFlight--
	if c.state == Transcribing && c.txGen == ev.gen {
		c.setState(ctx, Idle)
	}
	if ev.err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Error("transcription failed", "client", ev.client, "err", ev.err)
		if c.report != nil {
			c.report(ctx, ev.err)
		}
		c.sendTo(ctx, ev.client, Error(CodeTranscriptionFailed, ev.err.Error()))
		return
	}
	c.log.Info("transcription complete",
		"chars", len(ev.res.Text),
		"avg_logprob", ev.res.AvgLogprob,
		"duration", ev.res.Duration,
	)
	c.broadcast(ctx, Result(ev.res.Text, ev.res.AvgLogprob, ev.res.Duration))
}

func (c *Coordinator) transcribe(ctx context.Context, purpose string, req stt.Request) (stt.Result, error) {
	ctx, span := observe.StartSpan(ctx, "session.transcribe", trace.WithAttributes(
		attribute.String("purpose", purpose),
		attribute.Int("samples", len(req.Samples)),
		attribute.String("language", req.Language),
	))
	defer span.End()

	start := time.Now()
	res, err := c.engine.Transcribe(ctx, req)
	if c.metrics != nil {
		c.metrics.RecordTranscription(ctx, purpose, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (c *Coordinator) attach(ctx context.Context, cl Client) {
	id := cl.ID()
	if _, dup := c.clients[id]; !dup {
		c.order = append(c.order, id)
	}
	c.clients[id] = cl
	c.log.Info("client connected", "client", id, "clients", len(c.clients))
	c.sendTo(ctx, id, Ready())
}

func (c *Coordinator) detach(ctx context.Context, id string) {
	if _, ok := c.clients[id]; !ok {
		return
	}
	delete(c.clients, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.log.Info("client disconnected", "client", id, "clients", len(c.clients))
	if len(c.clients) > 0 {
		return
	}
	c.cancelMonitor()
	if c.state == Recording {
		c.capture.DiscardRecording()
	}
	if c.state != Idle {
		c.log.Info("last client left, session reset", "state", c.state)
	}
	c.setState(ctx, Idle)
}

func (c *Coordinator) sendTo(ctx context.Context, id string, ev Event) {
	cl, ok := c.clients[id]
	if !ok {
		return
	}
	if err := cl.Send(ctx, ev); err != nil {
		c.log.Warn("send failed, detaching client", "client", id, "event", ev.Type, "err", err)
		c.detach(ctx, id)
		return
	}
	if c.metrics != nil {
		c.metrics.RecordEvent(ctx, string(ev.Type))
	}
}

func (c *Coordinator) broadcast(ctx context.Context, ev Event) {
	for _, id := range append([]string(nil), c.order...) {
		c.sendTo(ctx, id, ev)
	}
}

func (c *Coordinator) status() Status {
	st := Status{
		State:       c.state,
		Clients:     len(c.clients),
		InFlight:    c.inFlight,
		WakeEnabled: c.cfg.WakeLoop,
		LastWake:    c.lastWake,
	}
	if c.matcher != nil {
		st.WakeWord = c.matcher.Phrase()
	}
	return st
}

func (c *Coordinator) reload(t Tunables) {
	if c.cfg.WakeLoop && t.wakeChanged(c.tun) {
		m, err := t.matcher()
		if err != nil {
			c.log.Warn("wake-word reload rejected, keeping previous phrase", "err", err)
			t.WakeWord, t.WakeThreshold, t.Phonetic = c.tun.WakeWord, c.tun.WakeThreshold, c.tun.Phonetic
		} else {
			c.matcher = m
		}
	}
	c.tun = t
	c.log.Info("session tunables reloaded")
}
