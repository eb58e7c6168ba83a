// Package malgo implements [audio.Backend] on top of miniaudio via the
// github.com/gen2brain/malgo CGO bindings.
//
// Unlike PortAudio, miniaudio exposes WASAPI loopback capture natively, so on
// Windows system audio can be captured straight from an output device. On
// other platforms the loopback modes return [audio.ErrUnsupported] and the
// capture component falls back to physical capture devices (e.g. PulseAudio
// monitor sources).
//
// Capture and playback devices are merged into one index space: capture
// devices first, in miniaudio's enumeration order, followed by playback
// devices.
package malgo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	ma "github.com/gen2brain/malgo"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// hostAPI pairs a miniaudio backend with the host API name reported in
// device descriptors.
type hostAPI struct {
	backend ma.Backend
	name    string
}

// platformHostAPIs returns the miniaudio backends to try, in order.
func platformHostAPIs() []hostAPI {
	switch runtime.GOOS {
	case "windows":
		return []hostAPI{{ma.BackendWasapi, "Windows WASAPI"}, {ma.BackendDsound, "Windows DirectSound"}}
	case "darwin":
		return []hostAPI{{ma.BackendCoreaudio, "Core Audio"}}
	default:
		return []hostAPI{{ma.BackendPulseaudio, "PulseAudio"}, {ma.BackendAlsa, "ALSA"}, {ma.BackendJack, "JACK"}}
	}
}

// Backend is a miniaudio-backed [audio.Backend].
type Backend struct {
	ctx     *ma.AllocatedContext
	hostAPI string

	closeOnce sync.Once
}

var _ audio.Backend = (*Backend)(nil)

// New initialises a miniaudio context on the first host API that works on
// this platform.
func New() (*Backend, error) {
	var errs []error
	for _, h := range platformHostAPIs() {
		ctx, err := ma.InitContext([]ma.Backend{h.backend}, ma.ContextConfig{}, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		slog.Debug("malgo context initialised", "host_api", h.name)
		return &Backend{ctx: ctx, hostAPI: h.name}, nil
	}
	return nil, fmt.Errorf("malgo: init context: %w", errors.Join(errs...))
}

// Name returns "malgo".
func (b *Backend) Name() string { return "malgo" }

// device is an enumerated miniaudio device with its direction.
type device struct {
	id   ma.DeviceID
	kind ma.DeviceType
}

// Devices enumerates capture devices followed by playback devices.
func (b *Backend) Devices() ([]audio.Descriptor, error) {
	_, descs, err := b.enumerate()
	return descs, err
}

func (b *Backend) enumerate() ([]device, []audio.Descriptor, error) {
	captures, err := b.ctx.Devices(ma.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("malgo: enumerate capture devices: %w", err)
	}
	playbacks, err := b.ctx.Devices(ma.Playback)
	if err != nil {
		return nil, nil, fmt.Errorf("malgo: enumerate playback devices: %w", err)
	}

	var (
		devs  []device
		descs []audio.Descriptor
	)
	add := func(info ma.DeviceInfo, kind ma.DeviceType) {
		channels, rate := b.formatOf(kind, info)
		d := audio.Descriptor{
			Index:             len(descs),
			Name:              info.Name(),
			HostAPI:           b.hostAPI,
			DefaultSampleRate: rate,
		}
		if kind == ma.Capture {
			d.MaxInputChannels = channels
			d.IsDefaultInput = info.IsDefault != 0
		} else {
			d.MaxOutputChannels = channels
			d.IsDefaultOutput = info.IsDefault != 0
		}
		devs = append(devs, device{id: info.ID, kind: kind})
		descs = append(descs, d)
	}
	for _, info := range captures {
		add(info, ma.Capture)
	}
	for _, info := range playbacks {
		add(info, ma.Playback)
	}
	return devs, descs, nil
}

// formatOf queries the detailed device info for the widest channel count and
// its sample rate. Drivers that report no native formats are assumed stereo.
func (b *Backend) formatOf(kind ma.DeviceType, info ma.DeviceInfo) (int, float64) {
	detail, err := b.ctx.DeviceInfo(kind, info.ID, ma.Shared)
	if err != nil {
		detail = info
	}
	channels, rate := 0, 0.0
	for i := 0; i < int(detail.FormatCount) && i < len(detail.Formats); i++ {
		f := detail.Formats[i]
		if int(f.Channels) > channels {
			channels = int(f.Channels)
			rate = float64(f.SampleRate)
		}
	}
	if channels == 0 {
		channels = 2
	}
	return channels, rate
}

// lookup resolves a descriptor index back to the miniaudio device.
func (b *Backend) lookup(index int) (device, error) {
	devs, _, err := b.enumerate()
	if err != nil {
		return device{}, err
	}
	if index < 0 || index >= len(devs) {
		return device{}, fmt.Errorf("malgo: device index %d out of range", index)
	}
	return devs[index], nil
}

// Open opens a float32 capture stream on an input device.
func (b *Backend) Open(cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	dev, err := b.lookup(cfg.Device.Index)
	if err != nil {
		return nil, err
	}
	if dev.kind != ma.Capture {
		return nil, fmt.Errorf("malgo: device %q is not a capture device", cfg.Device.Name)
	}
	dc := ma.DefaultDeviceConfig(ma.Capture)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Alsa.NoMMap = 1
	return b.start(dev, dc, max(1, cfg.Channels), cb)
}

// OpenLoopback opens a WASAPI loopback stream on an output device. Other host
// APIs return [audio.ErrUnsupported].
func (b *Backend) OpenLoopback(mode audio.LoopbackMode, cfg audio.StreamConfig, cb audio.Callback) (audio.Stream, error) {
	if !audio.IsWASAPI(b.hostAPI) {
		return nil, fmt.Errorf("malgo: %s on %s: %w", mode, b.hostAPI, audio.ErrUnsupported)
	}
	dev, err := b.lookup(cfg.Device.Index)
	if err != nil {
		return nil, err
	}
	if dev.kind != ma.Playback {
		return nil, fmt.Errorf("malgo: device %q is not a playback device", cfg.Device.Name)
	}

	dc := ma.DefaultDeviceConfig(ma.Loopback)
	channels := max(1, cfg.Channels)
	switch mode {
	case audio.LoopbackDirect:
		dc.SampleRate = uint32(cfg.SampleRate)
	case audio.LoopbackExtended:
		// Native mix format; the capture component resamples.
		dc.SampleRate = 0
		dc.Wasapi.NoAutoConvertSRC = 1
		dc.Wasapi.NoAutoStreamRouting = 1
	case audio.LoopbackShared:
		dc.SampleRate = 0
		dc.Capture.ShareMode = ma.Shared
	default:
		return nil, fmt.Errorf("malgo: loopback mode %d: %w", mode, audio.ErrUnsupported)
	}
	return b.start(dev, dc, channels, cb)
}

func (b *Backend) start(dev device, dc ma.DeviceConfig, channels int, cb audio.Callback) (audio.Stream, error) {
	s := &stream{id: dev.id}
	dc.Capture.Format = ma.FormatF32
	dc.Capture.Channels = uint32(channels)
	dc.Capture.DeviceID = s.id.Pointer()
	s.channels = channels

	d, err := ma.InitDevice(b.ctx.Context, dc, ma.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			s.deliver(input, frames, cb)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("malgo: init device: %w", err)
	}
	s.dev = d
	if rate := d.SampleRate(); rate > 0 {
		s.rate = float64(rate)
	} else {
		s.rate = float64(dc.SampleRate)
	}
	return s, nil
}

// Close releases the miniaudio context. Safe to call more than once.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.ctx.Uninit()
		b.ctx.Free()
	})
	return err
}

type stream struct {
	id       ma.DeviceID
	dev      *ma.Device
	rate     float64
	channels int

	// buf is reused across callbacks; miniaudio calls Data from one thread.
	buf []float32

	closeOnce sync.Once
}

func (s *stream) deliver(input []byte, frames uint32, cb audio.Callback) {
	n := int(frames) * s.channels
	if n*4 > len(input) {
		n = len(input) / 4
	}
	if cap(s.buf) < n {
		s.buf = make([]float32, n)
	}
	buf := s.buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	cb(buf, s.channels)
}

func (s *stream) Start() error {
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("malgo: start device: %w", err)
	}
	return nil
}

func (s *stream) SampleRate() float64 { return s.rate }

func (s *stream) Channels() int { return s.channels }

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.dev.Uninit()
	})
	return nil
}
