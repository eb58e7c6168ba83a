package app

import (
	"time"

	"github.com/MrWong99/promptflux-stt/internal/capture"
	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/internal/session"
)

// Tunables converts the trigger configuration into session heuristics.
// Zero values keep the session defaults.
func Tunables(t config.TriggerConfig) session.Tunables {
	out := session.DefaultTunables()
	out.WakeWord = t.WakeWord
	out.Phonetic = t.PhoneticMatch

	if t.WakeThreshold > 0 {
		out.WakeThreshold = t.WakeThreshold
	}
	if t.WakePrompt != "" {
		out.WakePrompt = t.WakePrompt
	}
	if t.SilenceThreshold > 0 {
		out.SilenceThreshold = t.SilenceThreshold
	}
	setMs(&out.WakePoll, t.WakePollMs)
	setMs(&out.WakeCooldown, t.WakeCooldownMs)
	setMs(&out.WakeWindow, t.WakeBufferMs)
	setMs(&out.Silence, t.SilenceMs)
	setMs(&out.StartGrace, t.StartGraceMs)
	setMs(&out.SilencePoll, t.SilencePollMs)
	setMs(&out.SilenceWindow, t.SilenceWindowMs)
	return out
}

func setMs(d *time.Duration, ms int) {
	if ms > 0 {
		*d = time.Duration(ms) * time.Millisecond
	}
}

// WakeLoopEnabled reports whether cfg runs the background wake-word
// detector: wake-word mode with a phrase on microphone capture.
func WakeLoopEnabled(cfg *config.Config) bool {
	return cfg.Trigger.Mode == config.TriggerWakeWord &&
		cfg.Trigger.WakeWord != "" &&
		capture.Source(cfg.Audio.CaptureSource) == capture.SourceMicrophone
}

// captureConfig maps the audio section onto the capture parameters. The ring
// must hold the longest wake probe window.
func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		SampleRate:        cfg.Audio.SampleRate,
		Channels:          cfg.Audio.Channels,
		PreRollMs:         cfg.Audio.PreBufferMs,
		WakeWindowMs:      int(Tunables(cfg.Trigger).WakeWindow / time.Millisecond),
		Source:            capture.Source(cfg.Audio.CaptureSource),
		InputDevice:       cfg.Audio.InputDevice,
		SystemAudioDevice: cfg.Audio.SystemAudioDevice,
		PreferHostAPI:     cfg.Audio.PreferHostAPI,
	}
}
