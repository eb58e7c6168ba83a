// Package audio defines the device abstraction promptflux-stt captures from,
// plus the float32 sample helpers shared by the capture path.
//
// The two primary abstractions are:
//
//   - [Backend]: enumerates host devices and opens callback-driven capture
//     streams on them, including loopback streams of output devices.
//   - [Stream]: an open capture stream that delivers interleaved float32
//     blocks to a [Callback] on the backend's real-time thread.
//
// Implementations live in adapter packages (audio/portaudio, audio/malgo) and
// a scripted test double lives in audio/mock.
package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned by a [Backend] when the requested operation (for
// example a particular loopback mode) is not available on this host or driver.
var ErrUnsupported = errors.New("audio: operation not supported by backend")

// Descriptor is a host-enumerated audio device. Descriptors are read-only
// snapshots; backends build a fresh set on every [Backend.Devices] call.
type Descriptor struct {
	// Index is the device's position in the backend's enumeration order. It is
	// the value users pass as a numeric device spec.
	Index int

	// Name is the display name reported by the driver.
	Name string

	// HostAPI is the name of the host API the device belongs to, for example
	// "Windows WASAPI", "MME", "ALSA" or "Core Audio".
	HostAPI string

	MaxInputChannels  int
	MaxOutputChannels int

	// DefaultSampleRate is the device's preferred sample rate in Hz. Zero when
	// the driver does not report one.
	DefaultSampleRate float64

	IsDefaultInput  bool
	IsDefaultOutput bool
}

// HasInput reports whether the device can capture audio.
func (d Descriptor) HasInput() bool { return d.MaxInputChannels > 0 }

// HasOutput reports whether the device can render audio.
func (d Descriptor) HasOutput() bool { return d.MaxOutputChannels > 0 }

// String returns "index: name (host api)".
func (d Descriptor) String() string {
	return fmt.Sprintf("%d: %s (%s)", d.Index, d.Name, d.HostAPI)
}

// StreamConfig describes the capture stream to open.
type StreamConfig struct {
	// Device is the device to open. For loopback modes this is the output
	// device whose render mix should be captured.
	Device Descriptor

	// SampleRate is the requested rate in Hz. The negotiated rate may differ;
	// see [Stream.SampleRate].
	SampleRate float64

	// Channels is the requested channel count.
	Channels int
}

// Callback receives one block of interleaved float32 samples with the given
// channel count. It runs on the backend's real-time thread: it must not block,
// and the slice is only valid for the duration of the call.
type Callback func(interleaved []float32, channels int)

// LoopbackMode selects how a backend opens a loopback stream of an output
// device. Modes are tried by the capture component in declaration order.
type LoopbackMode int

const (
	// LoopbackDirect opens the output device as a loopback-capable input.
	LoopbackDirect LoopbackMode = iota

	// LoopbackExtended opens the loopback through the backend's extended,
	// host-API-specific stream settings.
	LoopbackExtended

	// LoopbackShared opens a permissive shared-mode stream with automatic
	// format conversion as the last native attempt.
	LoopbackShared
)

// String returns a short label used in diagnostics.
func (m LoopbackMode) String() string {
	switch m {
	case LoopbackDirect:
		return "loopback"
	case LoopbackExtended:
		return "loopback-extended"
	case LoopbackShared:
		return "shared-auto-convert"
	default:
		return "unknown"
	}
}

// Stream is an open capture stream. Implementations must make Close safe to
// call more than once.
type Stream interface {
	// Start begins delivering blocks to the stream's callback.
	Start() error

	// SampleRate returns the negotiated sample rate in Hz.
	SampleRate() float64

	// Channels returns the negotiated channel count of delivered blocks.
	Channels() int

	// Close stops the stream and releases its driver resources.
	Close() error
}

// Backend is the abstraction over a host audio library.
//
// Implementations must be safe for concurrent use. Devices never caches: the
// device topology may change between calls.
type Backend interface {
	// Name returns the registry name of the backend, e.g. "portaudio".
	Name() string

	// Devices enumerates all devices currently known to the host.
	Devices() ([]Descriptor, error)

	// Open opens a capture stream on an input-capable device. The stream is
	// created stopped; call [Stream.Start].
	Open(cfg StreamConfig, cb Callback) (Stream, error)

	// OpenLoopback opens a capture stream mirroring the render mix of the
	// output device in cfg.Device. Backends return [ErrUnsupported] (possibly
	// wrapped) for modes they cannot provide.
	OpenLoopback(mode LoopbackMode, cfg StreamConfig, cb Callback) (Stream, error)

	// Close releases the backend. Streams opened from it must be closed first.
	Close() error
}
