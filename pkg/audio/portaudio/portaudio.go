// Package portaudio implements [audio.Backend] on top of PortAudio via the
// github.com/gordonklaus/portaudio CGO bindings. libportaudio and its headers
// must be available at build time (pkg-config portaudio-2.0).
//
// Device indices follow PortAudio's global enumeration order and host API
// names are PortAudio's ("Windows WASAPI", "MME", "ALSA", "Core Audio", …).
// PortAudio has no portable loopback capture, so every loopback mode returns
// [audio.ErrUnsupported] and system-audio capture falls back to physical
// capture devices such as Stereo Mix or a monitor source.
package portaudio

import (
	"errors"
	"fmt"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// Backend is a PortAudio-backed [audio.Backend].
type Backend struct {
	closeOnce sync.Once
}

var _ audio.Backend = (*Backend)(nil)

// New initialises PortAudio. Call [Backend.Close] to terminate it.
func New() (*Backend, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return &Backend{}, nil
}

// Name returns "portaudio".
func (b *Backend) Name() string { return "portaudio" }

// Devices enumerates PortAudio devices across all host APIs.
func (b *Backend) Devices() ([]audio.Descriptor, error) {
	_, devs, err := b.devices()
	return devs, err
}

func (b *Backend) devices() ([]*pa.DeviceInfo, []audio.Descriptor, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, nil, fmt.Errorf("portaudio: enumerate devices: %w", err)
	}
	defIn, _ := pa.DefaultInputDevice()
	defOut, _ := pa.DefaultOutputDevice()

	out := make([]audio.Descriptor, 0, len(infos))
	for i, info := range infos {
		d := audio.Descriptor{
			Index:             i,
			Name:              info.Name,
			MaxInputChannels:  info.MaxInputChannels,
			MaxOutputChannels: info.MaxOutputChannels,
			DefaultSampleRate: info.DefaultSampleRate,
			IsDefaultInput:    sameDevice(info, defIn),
			IsDefaultOutput:   sameDevice(info, defOut),
		}
		if info.HostApi != nil {
			d.HostAPI = info.HostApi.Name
		}
		out = append(out, d)
	}
	return infos, out, nil
}

// Open opens an interleaved float32 input stream on cfg.Device.
func (b *Backend) Open(cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	infos, _, err := b.devices()
	if err != nil {
		return nil, err
	}
	if cfg.Device.Index < 0 || cfg.Device.Index >= len(infos) {
		return nil, fmt.Errorf("portaudio: device index %d out of range", cfg.Device.Index)
	}
	info := infos[cfg.Device.Index]
	channels := max(1, cfg.Channels)

	params := pa.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = cfg.SampleRate
	params.FramesPerBuffer = pa.FramesPerBufferUnspecified

	s := &stream{channels: channels, requested: cfg.SampleRate}
	raw, err := pa.OpenStream(params, func(in []float32) {
		cb(in, channels)
	})
	if err != nil {
		return nil, fmt.Errorf("portaudio: open %q at %.0f Hz: %w", info.Name, cfg.SampleRate, err)
	}
	s.raw = raw
	return s, nil
}

// OpenLoopback always fails: PortAudio exposes no loopback capture.
func (b *Backend) OpenLoopback(mode audio.LoopbackMode, cfg audio.StreamConfig, _ audio.Callback) (audio.Stream, error) {
	return nil, fmt.Errorf("portaudio: %s on %q: %w", mode, cfg.Device.Name, audio.ErrUnsupported)
}

// Close terminates PortAudio. Safe to call more than once.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = pa.Terminate()
	})
	return err
}

func sameDevice(a, b *pa.DeviceInfo) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		return true
	}
	if a.Name != b.Name || (a.HostApi == nil) != (b.HostApi == nil) {
		return false
	}
	return a.HostApi == nil || a.HostApi.Name == b.HostApi.Name
}

type stream struct {
	raw       *pa.Stream
	channels  int
	requested float64

	mu        sync.Mutex
	started   bool
	closeOnce sync.Once
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.raw.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	s.started = true
	return nil
}

func (s *stream) SampleRate() float64 {
	if info := s.raw.Info(); info != nil && info.SampleRate > 0 {
		return info.SampleRate
	}
	return s.requested
}

func (s *stream) Channels() int { return s.channels }

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		var stopErr error
		if s.started {
			stopErr = s.raw.Stop()
		}
		err = errors.Join(stopErr, s.raw.Close())
	})
	return err
}
