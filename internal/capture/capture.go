// Package capture owns the live audio stream: it resolves the configured
// device, opens it through an [audio.Backend], and keeps a rolling mono
// buffer at the target sample rate that serves pre-roll, wake-word windows and
// whole recordings.
//
// The backend callback is the only producer. It converts each block outside
// the lock and holds the mutex only for the ring write and the accumulator
// append, so readers never stall the driver for longer than a copy.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// Source selects what is captured.
type Source string

const (
	// SourceMicrophone captures a physical input device.
	SourceMicrophone Source = "microphone"
	// SourceSystemAudio captures the system render mix.
	SourceSystemAudio Source = "system-audio"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceMicrophone || s == SourceSystemAudio
}

// Config holds the capture parameters.
type Config struct {
	// SampleRate is the target rate in Hz of every buffered sample.
	SampleRate int
	// Channels is the channel count requested from microphones.
	Channels int
	// PreRollMs is the audio kept ahead of a recording's start.
	PreRollMs int
	// WakeWindowMs is the longest window the wake loop reads.
	WakeWindowMs int

	Source            Source
	InputDevice       string
	SystemAudioDevice string

	// PreferHostAPI narrows system-audio resolution to a host API, e.g.
	// "WASAPI". Microphone resolution ignores it.
	PreferHostAPI string
}

// Capacity returns the ring capacity in samples for cfg.
func (cfg Config) Capacity() int {
	return max(1, max(cfg.PreRollMs, cfg.WakeWindowMs)*cfg.SampleRate/1000)
}

// Option is a functional option for [New].
type Option func(*Capture)

// WithLogger sets the logger used for stream events. Defaults to
// [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Capture) { c.log = l }
}

// WithBlockObserver registers fn to be called with the length of every
// converted block, after it was buffered. fn runs on the driver's callback
// thread and must not block.
func WithBlockObserver(fn func(samples int)) Option {
	return func(c *Capture) { c.onBlock = fn }
}

// Capture is a running (or startable) capture stream with its buffers. All
// methods are safe for concurrent use.
type Capture struct {
	backend audio.Backend
	cfg     Config
	log     *slog.Logger
	onBlock func(int)
	conv    *audio.Converter

	mu        sync.Mutex
	ring      *Ring
	recording bool
	prefix    []float32
	blocks    [][]float32

	startMu sync.Mutex
	stream  audio.Stream
	device  string
	running atomic.Bool
	closed  atomic.Bool
}

// New returns an unstarted Capture over backend.
func New(backend audio.Backend, cfg Config, opts ...Option) *Capture {
	if cfg.Source == "" {
		cfg.Source = SourceMicrophone
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	c := &Capture{
		backend: backend,
		cfg:     cfg,
		log:     slog.Default(),
		ring:    NewRing(cfg.Capacity()),
		conv:    audio.NewConverter(float64(cfg.SampleRate), float64(cfg.SampleRate)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start resolves the configured device and starts streaming. A microphone is
// opened at the target rate, then at the device's default rate. System audio
// goes through [OpenLoopback]. Start fails if the capture is already running
// or closed.
func (c *Capture) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	if c.closed.Load() {
		return errors.New("capture: start after close")
	}
	if c.stream != nil {
		return errors.New("capture: already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("capture: start: %w", err)
	}

	var (
		s   audio.Stream
		err error
	)
	switch c.cfg.Source {
	case SourceSystemAudio:
		s, err = OpenLoopback(c.backend, LoopbackTarget{
			DeviceSpec:    c.cfg.SystemAudioDevice,
			PreferHostAPI: c.cfg.PreferHostAPI,
			SampleRate:    float64(c.cfg.SampleRate),
			OnOpen:        c.adopt,
		}, c.process)
		c.device = "system audio"
		if c.cfg.SystemAudioDevice != "" {
			c.device += " (" + c.cfg.SystemAudioDevice + ")"
		}
	case SourceMicrophone:
		s, err = c.openMicrophone()
	default:
		err = fmt.Errorf("capture: unknown source %q", c.cfg.Source)
	}
	if err != nil {
		return err
	}

	c.stream = s
	c.running.Store(true)
	c.log.Info("audio capture started",
		"backend", c.backend.Name(),
		"source", string(c.cfg.Source),
		"device", c.device,
		"target_rate", c.cfg.SampleRate,
		"negotiated_rate", s.SampleRate(),
		"channels", s.Channels(),
		"buffer_samples", c.ring.Cap(),
	)
	return nil
}

func (c *Capture) openMicrophone() (audio.Stream, error) {
	devs, err := c.backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	in, err := Resolve(devs, c.cfg.InputDevice, Requirement{NeedInput: true})
	if err != nil {
		return nil, fmt.Errorf("capture: input device: %w", err)
	}
	c.device = in.String()

	channels := max(1, min(c.cfg.Channels, in.MaxInputChannels))
	attempts := rateAttempts(c.backend, in, float64(c.cfg.SampleRate), channels, "microphone", c.process)
	s, diags := tryInOrder(attempts, c.adopt)
	if s == nil {
		return nil, fmt.Errorf("capture: open %s: %s", in.String(), joinDiagnostics(diags))
	}
	return s, nil
}

// adopt records an opened stream's negotiated rate before it starts.
func (c *Capture) adopt(s audio.Stream) {
	c.conv.SetSourceRate(s.SampleRate())
}

// process is the backend callback. A panic while handling one block is
// logged and the block dropped; the stream keeps running.
func (c *Capture) process(interleaved []float32, channels int) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("capture: dropped audio block", "panic", r)
		}
	}()
	if len(interleaved) == 0 {
		return
	}
	block := c.conv.Convert(interleaved, channels)

	c.mu.Lock()
	c.ring.Write(block)
	if c.recording {
		c.blocks = append(c.blocks, block)
	}
	c.mu.Unlock()

	if c.onBlock != nil {
		c.onBlock(len(block))
	}
}

// BeginRecording freezes the most recent PreRollMs of audio as the recording
// prefix and starts accumulating new blocks. A second call restarts the
// recording.
func (c *Capture) BeginRecording() {
	n := c.cfg.PreRollMs * c.cfg.SampleRate / 1000
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefix = c.ring.Latest(n)
	c.blocks = nil
	c.recording = true
}

// StopRecording ends the recording and returns the prefix followed by every
// block received since [Capture.BeginRecording], in arrival order. It returns
// an empty slice when no recording is active.
func (c *Capture) StopRecording() []float32 {
	c.mu.Lock()
	prefix, blocks, was := c.prefix, c.blocks, c.recording
	c.prefix, c.blocks, c.recording = nil, nil, false
	c.mu.Unlock()

	if !was {
		return []float32{}
	}
	total := len(prefix)
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]float32, 0, total)
	out = append(out, prefix...)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}

// DiscardRecording drops an active recording without returning it.
func (c *Capture) DiscardRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefix, c.blocks, c.recording = nil, nil, false
}

// RecentAudio returns a copy of the most recent windowMs of audio, or fewer
// samples when less is buffered. It never returns nil.
func (c *Capture) RecentAudio(windowMs int) []float32 {
	n := windowMs * c.cfg.SampleRate / 1000
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ring.Latest(n)
}

// Recording reports whether a recording is active.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// SampleRate returns the target rate of buffered audio.
func (c *Capture) SampleRate() int { return c.cfg.SampleRate }

// NegotiatedRate returns the device rate of the running stream.
func (c *Capture) NegotiatedRate() float64 { return c.conv.SourceRate() }

// Source returns the configured capture source.
func (c *Capture) Source() Source { return c.cfg.Source }

// Device returns a description of the opened device, or "" before Start.
func (c *Capture) Device() string {
	c.startMu.Lock()
	defer c.startMu.Unlock()
	return c.device
}

// Running reports whether the stream has started and not been closed.
func (c *Capture) Running() bool { return c.running.Load() }

// Close stops the stream. It is idempotent and safe to call without Start.
func (c *Capture) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.startMu.Lock()
	defer c.startMu.Unlock()
	c.running.Store(false)
	if c.stream == nil {
		return nil
	}
	if err := c.stream.Close(); err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	c.log.Info("audio capture stopped", "device", c.device)
	return nil
}
