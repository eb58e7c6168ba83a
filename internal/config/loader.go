package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Known registry names. [Validate] warns about names outside these lists
// since a caller may register additional factories.
var (
	KnownEngines  = []string{"whisper-native", "whisper", "openai"}
	KnownBackends = []string{"portaudio", "malgo"}
)

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     9876,
			LogLevel: LogInfo,
			Metrics:  true,
		},
		Audio: AudioConfig{
			Backend:       "portaudio",
			SampleRate:    16000,
			Channels:      1,
			PreBufferMs:   500,
			CaptureSource: "microphone",
		},
		Engine: EngineConfig{
			EngineEntry: EngineEntry{
				Name:        "whisper-native",
				Model:       "small",
				ModelDir:    defaultModelDir(),
				ComputeType: "int8",
			},
			Language: "auto",
			CircuitBreaker: BreakerConfig{
				MaxFailures:  5,
				ResetTimeout: 30 * time.Second,
			},
		},
		Trigger: TriggerConfig{
			Mode:             TriggerHoldToTalk,
			WakeThreshold:    0.72,
			WakePollMs:       700,
			WakeCooldownMs:   2500,
			WakeBufferMs:     1800,
			WakePrompt:       "Wake word: %s.",
			SilenceMs:        1200,
			SilenceThreshold: 0.0035,
			StartGraceMs:     800,
			SilencePollMs:    180,
			SilenceWindowMs:  250,
		},
		MCP: MCPConfig{Path: "/mcp"},
	}
}

func defaultModelDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "models"
	}
	return filepath.Join(dir, "promptflux", "models")
}

// Load reads the YAML file at path over [Default], applies PROMPTFLUX_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns [Default] with environment overrides applied and
// validated. It is used when no config file exists.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// envVar binds environment names to a config field. The first name is the
// canonical one; the rest are accepted aliases.
type envVar struct {
	names []string
	set   func(cfg *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func float(field func(*Config) *float64) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		*field(cfg) = f
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*field(cfg) = b
		return nil
	}
}

var envVars = []envVar{
	{[]string{"PROMPTFLUX_HOST", "PROMPTFLUX_STT_HOST"}, str(func(c *Config) *string { return &c.Server.Host })},
	{[]string{"PROMPTFLUX_PORT", "PROMPTFLUX_STT_PORT"}, integer(func(c *Config) *int { return &c.Server.Port })},
	{[]string{"PROMPTFLUX_LOG_LEVEL"}, func(c *Config, v string) error {
		c.Server.LogLevel = LogLevel(strings.ToLower(strings.TrimSpace(v)))
		return nil
	}},
	{[]string{"PROMPTFLUX_AUDIO_BACKEND"}, str(func(c *Config) *string { return &c.Audio.Backend })},
	{[]string{"PROMPTFLUX_SAMPLE_RATE"}, integer(func(c *Config) *int { return &c.Audio.SampleRate })},
	{[]string{"PROMPTFLUX_CHANNELS"}, integer(func(c *Config) *int { return &c.Audio.Channels })},
	{[]string{"PROMPTFLUX_PRE_BUFFER_MS"}, integer(func(c *Config) *int { return &c.Audio.PreBufferMs })},
	{[]string{"PROMPTFLUX_CAPTURE_SOURCE"}, func(c *Config, v string) error {
		c.Audio.CaptureSource = strings.ToLower(strings.TrimSpace(v))
		return nil
	}},
	{[]string{"PROMPTFLUX_INPUT_DEVICE"}, str(func(c *Config) *string { return &c.Audio.InputDevice })},
	{[]string{"PROMPTFLUX_SYSTEM_AUDIO_DEVICE"}, str(func(c *Config) *string { return &c.Audio.SystemAudioDevice })},
	{[]string{"PROMPTFLUX_PREFER_HOST_API"}, str(func(c *Config) *string { return &c.Audio.PreferHostAPI })},
	{[]string{"PROMPTFLUX_ENGINE"}, str(func(c *Config) *string { return &c.Engine.Name })},
	{[]string{"PROMPTFLUX_MODEL", "PROMPTFLUX_MODEL_NAME"}, str(func(c *Config) *string { return &c.Engine.Model })},
	{[]string{"PROMPTFLUX_MODEL_DIR"}, str(func(c *Config) *string { return &c.Engine.ModelDir })},
	{[]string{"PROMPTFLUX_COMPUTE_TYPE"}, str(func(c *Config) *string { return &c.Engine.ComputeType })},
	{[]string{"PROMPTFLUX_ENGINE_URL"}, str(func(c *Config) *string { return &c.Engine.BaseURL })},
	{[]string{"PROMPTFLUX_API_KEY"}, str(func(c *Config) *string { return &c.Engine.APIKey })},
	{[]string{"PROMPTFLUX_LANGUAGE", "PROMPTFLUX_TRANSCRIPTION_LANGUAGE"}, str(func(c *Config) *string { return &c.Engine.Language })},
	{[]string{"PROMPTFLUX_TRIGGER_MODE"}, func(c *Config, v string) error {
		c.Trigger.Mode = TriggerMode(strings.ToLower(strings.TrimSpace(v)))
		return nil
	}},
	{[]string{"PROMPTFLUX_WAKE_WORD"}, str(func(c *Config) *string { return &c.Trigger.WakeWord })},
	{[]string{"PROMPTFLUX_WAKE_THRESHOLD", "PROMPTFLUX_WAKE_MATCH_THRESHOLD"}, float(func(c *Config) *float64 { return &c.Trigger.WakeThreshold })},
	{[]string{"PROMPTFLUX_WAKE_POLL_MS"}, integer(func(c *Config) *int { return &c.Trigger.WakePollMs })},
	{[]string{"PROMPTFLUX_WAKE_COOLDOWN_MS"}, integer(func(c *Config) *int { return &c.Trigger.WakeCooldownMs })},
	{[]string{"PROMPTFLUX_WAKE_BUFFER_MS"}, integer(func(c *Config) *int { return &c.Trigger.WakeBufferMs })},
	{[]string{"PROMPTFLUX_WAKE_PROMPT"}, str(func(c *Config) *string { return &c.Trigger.WakePrompt })},
	{[]string{"PROMPTFLUX_WAKE_PHONETIC"}, boolean(func(c *Config) *bool { return &c.Trigger.PhoneticMatch })},
	{[]string{"PROMPTFLUX_SILENCE_MS", "PROMPTFLUX_WAKE_SILENCE_MS"}, integer(func(c *Config) *int { return &c.Trigger.SilenceMs })},
	{[]string{"PROMPTFLUX_SILENCE_THRESHOLD", "PROMPTFLUX_WAKE_SILENCE_RMS_THRESHOLD"}, float(func(c *Config) *float64 { return &c.Trigger.SilenceThreshold })},
	{[]string{"PROMPTFLUX_START_GRACE_MS", "PROMPTFLUX_WAKE_SILENCE_START_GRACE_MS"}, integer(func(c *Config) *int { return &c.Trigger.StartGraceMs })},
	{[]string{"PROMPTFLUX_SILENCE_POLL_MS"}, integer(func(c *Config) *int { return &c.Trigger.SilencePollMs })},
	{[]string{"PROMPTFLUX_SILENCE_WINDOW_MS"}, integer(func(c *Config) *int { return &c.Trigger.SilenceWindowMs })},
	{[]string{"PROMPTFLUX_SENTRY_DSN"}, str(func(c *Config) *string { return &c.Sentry.DSN })},
}

// ApplyEnv overrides cfg fields from the environment through lookup
// (usually [os.LookupEnv]). Canonical names win over aliases. Unparsable
// values are collected into one joined error.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		for _, name := range ev.names {
			v, ok := lookup(name)
			if !ok {
				continue
			}
			if err := ev.set(cfg, v); err != nil {
				errs = append(errs, fmt.Errorf("config: %s=%q: %w", name, v, err))
			}
			break
		}
	}
	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	// Audio
	validateName("audio.backend", cfg.Audio.Backend, KnownBackends)
	if cfg.Audio.Backend == "" {
		errs = append(errs, errors.New("audio.backend is required"))
	}
	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be at least 1", cfg.Audio.Channels))
	}
	if cfg.Audio.PreBufferMs < 0 {
		errs = append(errs, fmt.Errorf("audio.pre_buffer_ms %d must not be negative", cfg.Audio.PreBufferMs))
	}
	switch cfg.Audio.CaptureSource {
	case "microphone", "system-audio":
	default:
		errs = append(errs, fmt.Errorf("audio.capture_source %q is invalid; valid values: microphone, system-audio", cfg.Audio.CaptureSource))
	}

	// Engines
	for i, e := range cfg.Engine.Entries() {
		prefix := "engine"
		if i > 0 {
			prefix = fmt.Sprintf("engine.fallbacks[%d]", i-1)
		}
		errs = append(errs, validateEngine(prefix, e)...)
	}
	if cfg.Engine.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("engine.circuit_breaker.max_failures %d must not be negative", cfg.Engine.CircuitBreaker.MaxFailures))
	}
	if cfg.Engine.CircuitBreaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.circuit_breaker.reset_timeout %s must not be negative", cfg.Engine.CircuitBreaker.ResetTimeout))
	}

	// Trigger
	t := cfg.Trigger
	if !t.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("trigger.mode %q is invalid; valid values: hold-to-talk, tap, wake-word", t.Mode))
	}
	if t.Mode == TriggerWakeWord && strings.TrimSpace(t.WakeWord) == "" {
		slog.Warn("trigger.mode is wake-word but trigger.wake_word is empty; wake-word detection disabled")
	}
	if t.Mode == TriggerWakeWord && cfg.Audio.CaptureSource != "microphone" {
		slog.Warn("wake-word detection only runs on microphone capture", "capture_source", cfg.Audio.CaptureSource)
	}
	if t.WakeThreshold <= 0 || t.WakeThreshold > 1 {
		errs = append(errs, fmt.Errorf("trigger.wake_threshold %.2f is out of range (0, 1]", t.WakeThreshold))
	}
	if t.SilenceThreshold < 0 {
		errs = append(errs, fmt.Errorf("trigger.silence_threshold %v must not be negative", t.SilenceThreshold))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"trigger.wake_poll_ms", t.WakePollMs},
		{"trigger.wake_cooldown_ms", t.WakeCooldownMs},
		{"trigger.wake_buffer_ms", t.WakeBufferMs},
		{"trigger.silence_ms", t.SilenceMs},
		{"trigger.start_grace_ms", t.StartGraceMs},
		{"trigger.silence_poll_ms", t.SilencePollMs},
		{"trigger.silence_window_ms", t.SilenceWindowMs},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

func validateEngine(prefix string, e EngineEntry) []error {
	var errs []error
	if e.Name == "" {
		return append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	validateName(prefix+".name", e.Name, KnownEngines)
	switch e.Name {
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required for whisper-native", prefix))
		}
		switch e.ComputeType {
		case "", "int8", "float16", "float32":
		default:
			errs = append(errs, fmt.Errorf("%s.compute_type %q is invalid; valid values: int8, float16, float32", prefix, e.ComputeType))
		}
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for whisper", prefix))
		}
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for openai", prefix))
		}
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, e.Timeout))
	}
	return errs
}

// validateName logs a warning if name is non-empty and not in known.
func validateName(field, name string, known []string) {
	if name == "" || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown registry name; may be a typo or a custom registration",
		"field", field,
		"name", name,
		"known", known,
	)
}
