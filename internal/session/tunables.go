package session

import (
	"strings"
	"time"

	"github.com/MrWong99/promptflux-stt/internal/wake"
)

// Tunables are the heuristics that may change while the service runs.
type Tunables struct {
	// SilenceThreshold is the RMS level at or below which audio counts as
	// silence.
	SilenceThreshold float64
	// Silence is how long audio must stay silent after speech before
	// AUTO_STOP is sent.
	Silence time.Duration
	// StartGrace holds off the silence timer after a recording starts.
	StartGrace time.Duration
	// SilencePoll and SilenceWindow are the monitor cadence and RMS window.
	SilencePoll   time.Duration
	SilenceWindow time.Duration

	WakeWord      string
	WakeThreshold float64
	Phonetic      bool
	WakePoll      time.Duration
	WakeCooldown  time.Duration
	// WakeWindow is how much recent audio each wake probe transcribes.
	WakeWindow time.Duration
	// WakePrompt is the initial prompt for wake probes; "%s" is replaced by
	// the wake phrase.
	WakePrompt string
}

// DefaultTunables returns the built-in heuristics.
func DefaultTunables() Tunables {
	return Tunables{
		SilenceThreshold: 0.0035,
		Silence:          1200 * time.Millisecond,
		StartGrace:       800 * time.Millisecond,
		SilencePoll:      180 * time.Millisecond,
		SilenceWindow:    250 * time.Millisecond,
		WakeThreshold:    0.72,
		WakePoll:         700 * time.Millisecond,
		WakeCooldown:     2500 * time.Millisecond,
		WakeWindow:       1800 * time.Millisecond,
		WakePrompt:       "Wake word: %s.",
	}
}

const (
	minSilenceLevel = 0.0008
	minSilence      = 400 * time.Millisecond
	minStartGrace   = 300 * time.Millisecond
	minMonitorTick  = 10 * time.Millisecond
	minWakePoll     = 250 * time.Millisecond
	minWakeCooldown = 500 * time.Millisecond

	// minWakeAudio is the fraction of a second of audio a wake probe needs.
	minWakeAudio = 0.6
)

// silenceLimits are the clamped monitor thresholds.
type silenceLimits struct {
	silence  float64
	speech   float64
	required time.Duration
	grace    time.Duration
	poll     time.Duration
	windowMs int
}

func (t Tunables) silenceLimits() silenceLimits {
	silence := max(minSilenceLevel, t.SilenceThreshold)
	return silenceLimits{
		silence: silence,
		// Hysteresis keeps small fluctuations from flipping speech and silence.
		speech:   max(silence*1.25, silence+0.0012),
		required: max(minSilence, t.Silence),
		grace:    max(minStartGrace, t.StartGrace),
		poll:     max(minMonitorTick, t.SilencePoll),
		windowMs: int(max(minMonitorTick, t.SilenceWindow).Milliseconds()),
	}
}

func (t Tunables) wakePoll() time.Duration     { return max(minWakePoll, t.WakePoll) }
func (t Tunables) wakeCooldown() time.Duration { return max(minWakeCooldown, t.WakeCooldown) }

func (t Tunables) matcher() (*wake.Matcher, error) {
	return wake.New(t.WakeWord, t.WakeThreshold, wake.WithPhonetic(t.Phonetic))
}

func (t Tunables) wakeChanged(old Tunables) bool {
	return t.WakeWord != old.WakeWord || t.WakeThreshold != old.WakeThreshold || t.Phonetic != old.Phonetic
}

func (t Tunables) prompt(phrase string) string {
	return strings.Replace(t.WakePrompt, "%s", phrase, 1)
}
