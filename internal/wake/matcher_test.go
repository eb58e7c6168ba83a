package wake_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/promptflux-stt/internal/wake"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, norm, compact, skeleton string
	}{
		{"Hey, Jarvis!", "hey jarvis", "heyjarvis", "hyjrvs"},
		{"  LA-VART  ", "la vart", "lavart", "lvrt"},
		{"Computer 3000", "computer 3000", "computer3000", "cmptr3000"},
		{"¿Qué?", "qu", "qu", "q"},
		{"...", "", "", ""},
	}
	for _, tt := range tests {
		if got := wake.Normalize(tt.in); got != tt.norm {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.norm)
		}
		if got := wake.Compact(tt.in); got != tt.compact {
			t.Errorf("Compact(%q) = %q, want %q", tt.in, got, tt.compact)
		}
		if got := wake.Skeleton(tt.in); got != tt.skeleton {
			t.Errorf("Skeleton(%q) = %q, want %q", tt.in, got, tt.skeleton)
		}
	}
}

func TestScore_Identity(t *testing.T) {
	t.Parallel()
	for _, phrase := range []string{"jarvis", "hey computer", "Okay Lavart", "x"} {
		m := wake.Score(phrase, phrase)
		if m.Score != 1 {
			t.Errorf("Score(%q, %q) = %v, want 1", phrase, phrase, m.Score)
		}
		if m.Candidate != wake.Compact(phrase) {
			t.Errorf("Candidate = %q, want %q", m.Candidate, wake.Compact(phrase))
		}
	}
}

func TestScore_Empty(t *testing.T) {
	t.Parallel()
	for _, tc := range [][2]string{{"jarvis", ""}, {"jarvis", "  ?! "}, {"", "jarvis"}} {
		if m := wake.Score(tc[0], tc[1]); m.Score != 0 || m.Candidate != "" {
			t.Errorf("Score(%q, %q) = %+v, want zero", tc[0], tc[1], m)
		}
	}
}

func TestScore_VowelDrop(t *testing.T) {
	t.Parallel()
	tests := []struct{ phrase, heard string }{
		{"lavart", "lvrt"},
		{"hey computer", "hy cmptr"},
		{"jarvis", "jrvs"},
	}
	for _, tt := range tests {
		if m := wake.Score(tt.phrase, tt.heard); m.Score < 0.90 {
			t.Errorf("Score(%q, %q) = %v, want >= 0.90", tt.phrase, tt.heard, m.Score)
		}
	}
}

func TestScore_SplitAndEmbedded(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		phrase   string
		heard    string
		min      float64
		wantCand string
	}{
		{"split single word", "lavart", "la vart", 1, "lavart"},
		{"embedded in sentence", "jarvis", "ok so jarvis what time is it", 1, "jarvis"},
		{"near miss in sentence", "lavart", "um la vard please", 0.8, "lavard"},
		{"multi-word near miss", "hey computer", "hey compuder open", 0.8, "heycompuder"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := wake.Score(tt.phrase, tt.heard)
			if m.Score < tt.min {
				t.Errorf("Score = %v, want >= %v", m.Score, tt.min)
			}
			if m.Candidate != tt.wantCand {
				t.Errorf("Candidate = %q, want %q", m.Candidate, tt.wantCand)
			}
		})
	}
}

func TestScore_LengthRatioFilter(t *testing.T) {
	t.Parallel()
	// Every candidate window is far longer than 1.8x the phrase.
	if m := wake.Score("abc", "zzzzzzzzzzzz"); m.Score != 0 {
		t.Errorf("Score = %+v, want 0 for out-of-range candidate lengths", m)
	}
}

func TestScore_PartialPhraseIsNotExact(t *testing.T) {
	t.Parallel()
	m := wake.Score("hey jarvis", "jarvis")
	if m.Score >= 1 {
		t.Errorf("Score = %+v, want below 1 when the transcript holds only part of the phrase", m)
	}
	if m.Candidate != "jarvis" {
		t.Errorf("Candidate = %q, want %q", m.Candidate, "jarvis")
	}
	if m := wake.Score("jarvis", "hey jarvis"); m.Score != 1 {
		t.Errorf("Score(phrase inside transcript) = %+v, want 1", m)
	}
}

func TestScore_SkeletonNeedsLengthWindow(t *testing.T) {
	t.Parallel()
	// "cmptr" keeps 5 of 8 letters, inside the length window.
	if m := wake.Score("computer", "cmptr"); m.Score < 0.90 {
		t.Errorf("Score(computer, cmptr) = %+v, want >= 0.90", m)
	}
	// "lx" keeps 2 of 5 letters, below the minimum length ratio, so the
	// matching skeleton never applies.
	if m := wake.Score("alexa", "lx"); m.Score != 0 {
		t.Errorf("Score(alexa, lx) = %+v, want 0", m)
	}
}

func TestScore_Unrelated(t *testing.T) {
	t.Parallel()
	if m := wake.Score("jarvis", "the weather is nice"); m.Score >= 0.72 {
		t.Errorf("Score = %+v, want below default threshold", m)
	}
}

func TestEffectiveThreshold(t *testing.T) {
	t.Parallel()
	tests := []struct {
		threshold float64
		phrase    string
		want      float64
	}{
		{0.72, "hey", 0.90},
		{0.95, "hey", 0.95},
		{0.72, "jarvis", 0.84},
		{0.72, "computer", 0.72},
		{0.10, "computer", 0.55},
		{1.50, "computer", 0.99},
		{0.72, "hi  bo", 0.90},
	}
	for _, tt := range tests {
		got := wake.EffectiveThreshold(tt.threshold, tt.phrase)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EffectiveThreshold(%v, %q) = %v, want %v", tt.threshold, tt.phrase, got, tt.want)
		}
	}
}

func TestMatcher(t *testing.T) {
	t.Parallel()

	if _, err := wake.New("  !! ", 0.7); !errors.Is(err, wake.ErrEmptyPhrase) {
		t.Fatalf("New(empty) err = %v, want ErrEmptyPhrase", err)
	}

	m, err := wake.New("  Hey Computer ", 0.72)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.Phrase() != "hey computer" {
		t.Errorf("Phrase() = %q, want %q", m.Phrase(), "hey computer")
	}
	if _, ok := m.Accept("hey computer turn on the lights"); !ok {
		t.Error("Accept rejected an exact phrase")
	}
	if _, ok := m.Accept("hy cmptr"); !ok {
		t.Error("Accept rejected a vowel-dropped phrase")
	}
	if match, ok := m.Accept("good morning everyone"); ok {
		t.Errorf("Accept accepted unrelated speech: %+v", match)
	}
	if _, ok := m.Accept(""); ok {
		t.Error("Accept accepted an empty transcript")
	}
}

func TestMatcher_PhoneticFloor(t *testing.T) {
	t.Parallel()
	// "nite" and "knight" share a Double Metaphone code but differ by more
	// than a vowel.
	plain, err := wake.New("knight", 0.85)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	phonetic, err := wake.New("knight", 0.85, wake.WithPhonetic(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m, ok := plain.Accept("nite"); ok {
		t.Errorf("plain matcher accepted %+v", m)
	}
	if m, ok := phonetic.Accept("nite"); !ok {
		t.Errorf("phonetic matcher rejected %+v", m)
	}
}
