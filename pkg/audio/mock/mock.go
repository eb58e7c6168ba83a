// Package mock provides an in-memory [audio.Backend] for unit tests.
//
// The mock records every Open/OpenLoopback call, fails modes or devices on
// request, and lets tests push blocks through the most recently started
// stream's callback with [Backend.Feed], standing in for the driver's
// real-time thread.
//
// Typical usage:
//
//	b := &mock.Backend{
//	    DevicesResult: []audio.Descriptor{{Index: 0, Name: "Mic", MaxInputChannels: 1, IsDefaultInput: true}},
//	}
//	c := capture.New(b, cfg)
//	_ = c.Start(ctx)
//	b.Feed(samples)
package mock

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// OpenCall records a single Open or OpenLoopback invocation.
type OpenCall struct {
	// Loopback is true for OpenLoopback calls.
	Loopback bool
	// Mode is the loopback mode; meaningless when Loopback is false.
	Mode audio.LoopbackMode
	// Cfg is the requested stream configuration.
	Cfg audio.StreamConfig
}

// Backend is a mock implementation of [audio.Backend].
type Backend struct {
	mu sync.Mutex

	// NameResult is returned by Name. Defaults to "mock".
	NameResult string

	// DevicesResult is returned by Devices.
	DevicesResult []audio.Descriptor

	// DevicesErr, if non-nil, is returned by Devices.
	DevicesErr error

	// FailModes lists loopback modes that fail with audio.ErrUnsupported.
	FailModes map[audio.LoopbackMode]bool

	// FailDevices lists device indices whose Open fails.
	FailDevices map[int]bool

	// FailRates lists sample rates that Open rejects.
	FailRates map[float64]bool

	// NegotiatedRate, if non-zero, overrides the rate reported by opened
	// streams.
	NegotiatedRate float64

	// StartErr, if non-nil, is returned by Stream.Start.
	StartErr error

	// OpenCalls records every Open and OpenLoopback call in order.
	OpenCalls []OpenCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	streams []*Stream
}

var _ audio.Backend = (*Backend)(nil)

// Name returns NameResult or "mock".
func (b *Backend) Name() string {
	if b.NameResult != "" {
		return b.NameResult
	}
	return "mock"
}

// Devices returns a copy of DevicesResult, DevicesErr.
func (b *Backend) Devices() ([]audio.Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DevicesErr != nil {
		return nil, b.DevicesErr
	}
	out := make([]audio.Descriptor, len(b.DevicesResult))
	copy(out, b.DevicesResult)
	return out, nil
}

// SetDevices replaces the device list. Thread-safe.
func (b *Backend) SetDevices(devs []audio.Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DevicesResult = devs
}

// Open records the call and returns a Stream unless the device or rate is
// listed as failing.
func (b *Backend) Open(cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, OpenCall{Cfg: cfg})
	if b.FailDevices[cfg.Device.Index] {
		return nil, fmt.Errorf("mock: device %d unavailable", cfg.Device.Index)
	}
	if b.FailRates[cfg.SampleRate] {
		return nil, fmt.Errorf("mock: invalid sample rate %v", cfg.SampleRate)
	}
	return b.newStream(cfg, cb), nil
}

// OpenLoopback records the call and returns a Stream unless mode is listed
// in FailModes.
func (b *Backend) OpenLoopback(mode audio.LoopbackMode, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OpenCalls = append(b.OpenCalls, OpenCall{Loopback: true, Mode: mode, Cfg: cfg})
	if b.FailModes[mode] {
		return nil, fmt.Errorf("mock: %s: %w", mode, audio.ErrUnsupported)
	}
	return b.newStream(cfg, cb), nil
}

// Close records the call.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CloseCallCount++
	return nil
}

// Feed delivers interleaved samples to the most recently started stream, as
// the driver's callback thread would. It returns an error when no stream is
// running.
func (b *Backend) Feed(interleaved []float32) error {
	b.mu.Lock()
	var s *Stream
	for i := len(b.streams) - 1; i >= 0; i-- {
		if b.streams[i].running() {
			s = b.streams[i]
			break
		}
	}
	b.mu.Unlock()
	if s == nil {
		return errors.New("mock: no running stream")
	}
	s.cb(interleaved, s.channels)
	return nil
}

// Streams returns every stream opened so far. Thread-safe.
func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Stream, len(b.streams))
	copy(out, b.streams)
	return out
}

// OpenCallCount returns the number of Open and OpenLoopback calls.
func (b *Backend) OpenCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.OpenCalls)
}

// newStream must be called with b.mu held.
func (b *Backend) newStream(cfg audio.StreamConfig, cb audio.Callback) *Stream {
	rate := cfg.SampleRate
	if b.NegotiatedRate != 0 {
		rate = b.NegotiatedRate
	}
	channels := cfg.Channels
	if channels <= 0 {
		channels = 1
	}
	s := &Stream{Cfg: cfg, cb: cb, rate: rate, channels: channels, startErr: b.StartErr}
	b.streams = append(b.streams, s)
	return s
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mu sync.Mutex

	// Cfg is the configuration the stream was opened with.
	Cfg audio.StreamConfig

	cb       audio.Callback
	rate     float64
	channels int
	startErr error
	started  bool
	closed   int
}

var _ audio.Stream = (*Stream)(nil)

// Start marks the stream as running.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

// SampleRate returns the negotiated rate.
func (s *Stream) SampleRate() float64 { return s.rate }

// Channels returns the negotiated channel count.
func (s *Stream) Channels() int { return s.channels }

// Close stops the stream. Safe to call repeatedly.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	s.closed++
	return nil
}

// CloseCallCount returns how many times Close was called.
func (s *Stream) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
