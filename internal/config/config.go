// Package config provides the configuration schema, loader and engine/backend
// registry for the promptflux speech-capture service.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// TriggerMode selects how recordings are started by the client.
type TriggerMode string

const (
	// TriggerHoldToTalk starts on key down and stops on key up.
	TriggerHoldToTalk TriggerMode = "hold-to-talk"
	// TriggerTap toggles recording with one key press each.
	TriggerTap TriggerMode = "tap"
	// TriggerWakeWord runs the background wake-word detector.
	TriggerWakeWord TriggerMode = "wake-word"
)

// IsValid reports whether m is a recognised trigger mode.
func (m TriggerMode) IsValid() bool {
	switch m {
	case TriggerHoldToTalk, TriggerTap, TriggerWakeWord:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded with
// [Load].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Engine  EngineConfig  `yaml:"engine"`
	Trigger TriggerConfig `yaml:"trigger"`
	MCP     MCPConfig     `yaml:"mcp"`
	Sentry  SentryConfig  `yaml:"sentry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	LogLevel LogLevel `yaml:"log_level"`

	// Metrics exposes Prometheus metrics at /metrics.
	Metrics bool `yaml:"metrics"`
}

// AudioConfig configures the capture device and buffer.
type AudioConfig struct {
	// Backend selects the registered audio backend, e.g. "portaudio".
	Backend string `yaml:"backend"`

	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	PreBufferMs int `yaml:"pre_buffer_ms"`

	// CaptureSource is "microphone" or "system-audio".
	CaptureSource string `yaml:"capture_source"`

	// InputDevice and SystemAudioDevice are device indices or names. Empty
	// selects the OS default.
	InputDevice       string `yaml:"input_device"`
	SystemAudioDevice string `yaml:"system_audio_device"`

	// PreferHostAPI narrows system-audio device resolution, e.g. "WASAPI".
	// The microphone is resolved without it.
	PreferHostAPI string `yaml:"prefer_host_api"`
}

// EngineEntry configures one transcription engine. Name selects the factory
// registered in the [Registry].
type EngineEntry struct {
	Name string `yaml:"name"`

	// Model is a whisper model name ("small", "base.en") or a path to a
	// ggml .bin file for the native engine, the model identifier for remote
	// engines.
	Model    string `yaml:"model"`
	ModelDir string `yaml:"model_dir"`

	// ComputeType selects the model quantisation for the native engine:
	// "int8" prefers a q8_0 model file next to the plain one.
	ComputeType string `yaml:"compute_type"`

	Threads uint `yaml:"threads"`

	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// Timeout bounds a single remote request. Zero uses the engine default.
	Timeout time.Duration `yaml:"timeout"`
}

// EngineConfig configures the primary engine, its fallbacks and the
// circuit breaker wrapped around each of them.
type EngineConfig struct {
	EngineEntry `yaml:",inline"`

	// Language is the default transcription language. "auto" detects it.
	Language string `yaml:"language"`

	Fallbacks []EngineEntry `yaml:"fallbacks"`

	CircuitBreaker BreakerConfig `yaml:"circuit_breaker"`
}

// Entries returns the primary engine followed by the fallbacks. Fallbacks
// without a model directory inherit the primary's.
func (e EngineConfig) Entries() []EngineEntry {
	out := make([]EngineEntry, 0, 1+len(e.Fallbacks))
	out = append(out, e.EngineEntry)
	for _, fb := range e.Fallbacks {
		if fb.ModelDir == "" {
			fb.ModelDir = e.ModelDir
		}
		out = append(out, fb)
	}
	return out
}

// BreakerConfig configures the per-engine circuit breaker.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TriggerConfig holds the trigger mode and the silence and wake-word
// heuristics. Everything except Mode is hot-reloadable.
type TriggerConfig struct {
	Mode TriggerMode `yaml:"mode"`

	WakeWord       string  `yaml:"wake_word"`
	WakeThreshold  float64 `yaml:"wake_threshold"`
	WakePollMs     int     `yaml:"wake_poll_ms"`
	WakeCooldownMs int     `yaml:"wake_cooldown_ms"`
	WakeBufferMs   int     `yaml:"wake_buffer_ms"`

	// WakePrompt is the engine prompt for wake probes; %s is replaced with
	// the wake word.
	WakePrompt    string `yaml:"wake_prompt"`
	PhoneticMatch bool   `yaml:"phonetic_match"`

	SilenceMs        int     `yaml:"silence_ms"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	StartGraceMs     int     `yaml:"start_grace_ms"`
	SilencePollMs    int     `yaml:"silence_poll_ms"`
	SilenceWindowMs  int     `yaml:"silence_window_ms"`
}

// MCPConfig exposes the MCP control endpoint.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SentryConfig enables error reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}
