package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
)

// ErrLoopbackUnavailable is returned when every system-audio strategy fails.
var ErrLoopbackUnavailable = errors.New("capture: system-audio capture could not start")

// maxDiagnostics bounds how many attempt failures are reported.
const maxDiagnostics = 4

// attempt is one way of obtaining a running stream.
type attempt struct {
	label string
	open  func() (audio.Stream, error)
}

// tryInOrder runs attempts until one yields a started stream. onOpen, if
// non-nil, sees each opened stream before it starts. Failed attempts
// contribute "label: error" diagnostics, returned alongside.
func tryInOrder(attempts []attempt, onOpen func(audio.Stream)) (audio.Stream, []string) {
	var diags []string
	for _, a := range attempts {
		s, err := a.open()
		if err == nil {
			if onOpen != nil {
				onOpen(s)
			}
			if err = s.Start(); err == nil {
				slog.Debug("capture stream started", "strategy", a.label, "rate", s.SampleRate())
				return s, diags
			}
			_ = s.Close()
		}
		slog.Debug("capture strategy failed", "strategy", a.label, "err", err)
		diags = append(diags, fmt.Sprintf("%s: %v", a.label, err))
	}
	return nil, diags
}

// joinDiagnostics joins the most recent maxDiagnostics entries with " | ".
func joinDiagnostics(diags []string) string {
	if len(diags) == 0 {
		return "no additional diagnostics"
	}
	if len(diags) > maxDiagnostics {
		diags = diags[len(diags)-maxDiagnostics:]
	}
	return strings.Join(diags, " | ")
}

// LoopbackTarget describes the system-audio source to capture.
type LoopbackTarget struct {
	// DeviceSpec selects the output device to mirror, or the physical
	// capture device to fall back to. Index, name or blank.
	DeviceSpec string

	// PreferHostAPI restricts the output device (and fallback candidates) to
	// a host API, e.g. "WASAPI". Blank accepts any host API.
	PreferHostAPI string

	// SampleRate is the target rate in Hz.
	SampleRate float64

	// OnOpen, if non-nil, is called with every opened stream before it is
	// started, e.g. to record its negotiated rate.
	OnOpen func(audio.Stream)
}

// OpenLoopback starts a stream carrying the system render mix. Strategies
// run in order until one starts:
//
//  1. a loopback stream on the output device,
//  2. the backend's extended loopback settings,
//  3. a shared, auto-converting loopback stream,
//  4. a physical input device likely to carry system audio (Stereo Mix,
//     virtual cables, monitor sources), at the target rate and then at the
//     device's default rate.
//
// Strategies 1-3 are skipped when no output device resolves or it is not on
// the preferred host API. If all fail the error wraps [ErrLoopbackUnavailable]
// with the last few diagnostics. It never returns a nil stream with a nil
// error.
func OpenLoopback(backend audio.Backend, target LoopbackTarget, cb audio.Callback) (audio.Stream, error) {
	devs, err := backend.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	var (
		attempts []attempt
		diags    []string
	)
	out, err := Resolve(devs, target.DeviceSpec, Requirement{NeedOutput: true, PreferHostAPI: target.PreferHostAPI})
	switch {
	case err != nil:
		diags = append(diags, fmt.Sprintf("output device: %v", err))
	case target.PreferHostAPI != "" && !strings.Contains(strings.ToLower(out.HostAPI), strings.ToLower(target.PreferHostAPI)):
		diags = append(diags, fmt.Sprintf("output device %q is on %q, loopback requires %s", out.Name, out.HostAPI, target.PreferHostAPI))
	default:
		cfg := audio.StreamConfig{
			Device:     out,
			SampleRate: target.SampleRate,
			Channels:   clampChannels(out.MaxOutputChannels),
		}
		for _, mode := range []audio.LoopbackMode{audio.LoopbackDirect, audio.LoopbackExtended, audio.LoopbackShared} {
			attempts = append(attempts, attempt{
				label: mode.String(),
				open: func() (audio.Stream, error) {
					return backend.OpenLoopback(mode, cfg, cb)
				},
			})
		}
	}

	in, haveFallback := pickSystemCapture(devs, target)
	if haveFallback {
		slog.Debug("system-audio input fallback candidate", "device", in.String())
		attempts = append(attempts, rateAttempts(backend, in, target.SampleRate, clampChannels(in.MaxInputChannels), "input capture fallback", cb)...)
	}

	s, failed := tryInOrder(attempts, target.OnOpen)
	if s != nil {
		return s, nil
	}
	diags = append(diags, failed...)
	if !haveFallback {
		diags = append(diags, "input capture fallback: no suitable input device")
	}
	return nil, fmt.Errorf("%w: select a real input-capture device (Stereo Mix, virtual cable, Voicemeeter Out) for system audio. Details: %s",
		ErrLoopbackUnavailable, joinDiagnostics(diags))
}

// rateAttempts opens in at the target rate, then at its default rate when
// that differs.
func rateAttempts(backend audio.Backend, in audio.Descriptor, target float64, channels int, label string, cb audio.Callback) []attempt {
	rates := []float64{target}
	if def := math.Round(in.DefaultSampleRate); def > 0 && def != target {
		rates = append(rates, def)
	}
	attempts := make([]attempt, 0, len(rates))
	for _, rate := range rates {
		cfg := audio.StreamConfig{
			Device:     in,
			SampleRate: rate,
			Channels:   channels,
		}
		attempts = append(attempts, attempt{
			label: fmt.Sprintf("%s device %d @ %.0fHz", label, in.Index, rate),
			open: func() (audio.Stream, error) {
				return backend.Open(cfg, cb)
			},
		})
	}
	return attempts
}

// pickSystemCapture ranks input devices on the preferred host API: an
// explicitly specified device first, then exact and substring name matches,
// then devices whose names suggest a system mix. A numeric spec that does not
// name a suitable input device disables the fallback.
func pickSystemCapture(devs []audio.Descriptor, target LoopbackTarget) (audio.Descriptor, bool) {
	onHost := func(d audio.Descriptor) bool {
		return target.PreferHostAPI == "" ||
			strings.Contains(strings.ToLower(d.HostAPI), strings.ToLower(target.PreferHostAPI))
	}
	var inputs []audio.Descriptor
	for _, d := range devs {
		if d.HasInput() && onHost(d) {
			inputs = append(inputs, d)
		}
	}

	spec := ParseSpec(target.DeviceSpec)
	if spec.IsIndex {
		for _, d := range inputs {
			if d.Index == spec.Index {
				return d, true
			}
		}
		return audio.Descriptor{}, false
	}
	if spec.Set {
		if d, ok := matchName(inputs, spec.Name); ok {
			return d, true
		}
	}
	for _, d := range inputs {
		if audio.LooksLikeSystemCapture(d.Name) {
			return d, true
		}
	}
	return audio.Descriptor{}, false
}

// clampChannels limits a device channel count to mono or stereo.
func clampChannels(n int) int {
	return max(1, min(2, n))
}
