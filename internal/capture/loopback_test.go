package capture_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/promptflux-stt/internal/capture"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/audio/mock"
)

func noop([]float32, int) {}

func windowsDevices() []audio.Descriptor {
	return []audio.Descriptor{
		{Index: 0, Name: "Microphone", HostAPI: "Windows WASAPI", MaxInputChannels: 2, DefaultSampleRate: 48000, IsDefaultInput: true},
		{Index: 1, Name: "Stereo Mix (Realtek)", HostAPI: "Windows WASAPI", MaxInputChannels: 2, DefaultSampleRate: 44100},
		{Index: 2, Name: "Speakers", HostAPI: "Windows WASAPI", MaxOutputChannels: 8, DefaultSampleRate: 48000, IsDefaultOutput: true},
		{Index: 3, Name: "Speakers", HostAPI: "MME", MaxOutputChannels: 2, DefaultSampleRate: 44100},
	}
}

func TestOpenLoopback_DirectFirst(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{DevicesResult: windowsDevices()}

	s, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if len(b.OpenCalls) != 1 {
		t.Fatalf("OpenCalls = %d, want 1", len(b.OpenCalls))
	}
	call := b.OpenCalls[0]
	if !call.Loopback || call.Mode != audio.LoopbackDirect {
		t.Errorf("first call = %+v, want direct loopback", call)
	}
	if call.Cfg.Device.Index != 2 {
		t.Errorf("loopback device = %d, want WASAPI output 2", call.Cfg.Device.Index)
	}
	if call.Cfg.Channels != 2 {
		t.Errorf("channels = %d, want clamped to 2", call.Cfg.Channels)
	}
}

func TestOpenLoopback_StrategyOrder(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{
		DevicesResult: windowsDevices(),
		FailModes: map[audio.LoopbackMode]bool{
			audio.LoopbackDirect:   true,
			audio.LoopbackExtended: true,
		},
	}
	s, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	want := []audio.LoopbackMode{audio.LoopbackDirect, audio.LoopbackExtended, audio.LoopbackShared}
	if len(b.OpenCalls) != len(want) {
		t.Fatalf("OpenCalls = %d, want %d", len(b.OpenCalls), len(want))
	}
	for i, m := range want {
		if b.OpenCalls[i].Mode != m {
			t.Errorf("call %d mode = %s, want %s", i, b.OpenCalls[i].Mode, m)
		}
	}
}

func TestOpenLoopback_FallsBackToStereoMix(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{
		DevicesResult: windowsDevices(),
		FailModes: map[audio.LoopbackMode]bool{
			audio.LoopbackDirect:   true,
			audio.LoopbackExtended: true,
			audio.LoopbackShared:   true,
		},
		FailRates: map[float64]bool{16000: true},
	}
	s, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	last := b.OpenCalls[len(b.OpenCalls)-1]
	if last.Loopback || last.Cfg.Device.Index != 1 {
		t.Fatalf("last call = %+v, want input capture on Stereo Mix", last)
	}
	if last.Cfg.SampleRate != 44100 {
		t.Errorf("fallback rate = %v, want device default 44100", last.Cfg.SampleRate)
	}
	if s.SampleRate() != 44100 {
		t.Errorf("stream rate = %v, want 44100", s.SampleRate())
	}
}

func TestOpenLoopback_ExplicitInputDeviceSpec(t *testing.T) {
	t.Parallel()
	// Index 1 is an input device: no output resolves, so only the input
	// fallback is tried.
	b := &mock.Backend{DevicesResult: windowsDevices()}
	s, err := capture.OpenLoopback(b, capture.LoopbackTarget{DeviceSpec: "1", PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if len(b.OpenCalls) != 1 || b.OpenCalls[0].Loopback || b.OpenCalls[0].Cfg.Device.Index != 1 {
		t.Fatalf("OpenCalls = %+v, want one input open on device 1", b.OpenCalls)
	}
}

func TestOpenLoopback_TotalFailure(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{
		DevicesResult: windowsDevices(),
		FailModes: map[audio.LoopbackMode]bool{
			audio.LoopbackDirect:   true,
			audio.LoopbackExtended: true,
			audio.LoopbackShared:   true,
		},
		FailDevices: map[int]bool{1: true},
	}
	s, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if s != nil {
		t.Fatal("expected nil stream on failure")
	}
	if !errors.Is(err, capture.ErrLoopbackUnavailable) {
		t.Fatalf("err = %v, want ErrLoopbackUnavailable", err)
	}
	msg := err.Error()
	if !strings.Contains(msg, "Stereo Mix") {
		t.Errorf("error %q should suggest an input-capture device", msg)
	}
	details := msg[strings.Index(msg, "Details: ")+len("Details: "):]
	if n := len(strings.Split(details, " | ")); n != 4 {
		t.Errorf("diagnostics = %d (%q), want the last 4", n, details)
	}
	if strings.Contains(details, "loopback: ") {
		t.Errorf("oldest diagnostic should be dropped: %q", details)
	}
}

func TestOpenLoopback_HostAPIMismatchWithoutFallback(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{DevicesResult: []audio.Descriptor{
		{Index: 0, Name: "Built-in Mic", HostAPI: "ALSA", MaxInputChannels: 1},
		{Index: 1, Name: "Built-in Audio", HostAPI: "ALSA", MaxOutputChannels: 2, IsDefaultOutput: true},
	}}
	_, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if !errors.Is(err, capture.ErrLoopbackUnavailable) {
		t.Fatalf("err = %v, want ErrLoopbackUnavailable", err)
	}
	if !strings.Contains(err.Error(), "requires WASAPI") || !strings.Contains(err.Error(), "no suitable input device") {
		t.Errorf("err = %q, want host API and fallback diagnostics", err)
	}
	if b.OpenCallCount() != 0 {
		t.Errorf("OpenCalls = %d, want 0", b.OpenCallCount())
	}
}

func TestOpenLoopback_StartFailureClosesStream(t *testing.T) {
	t.Parallel()
	b := &mock.Backend{
		DevicesResult: windowsDevices(),
		StartErr:      errors.New("device busy"),
	}
	_, err := capture.OpenLoopback(b, capture.LoopbackTarget{PreferHostAPI: "WASAPI", SampleRate: 16000}, noop)
	if !errors.Is(err, capture.ErrLoopbackUnavailable) {
		t.Fatalf("err = %v, want ErrLoopbackUnavailable", err)
	}
	for i, s := range b.Streams() {
		if s.CloseCallCount() != 1 {
			t.Errorf("stream %d closed %d times, want 1", i, s.CloseCallCount())
		}
	}
}
