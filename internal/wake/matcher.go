// Package wake scores noisy speech-to-text transcripts against a configured
// wake phrase.
//
// ASR output for short phrases is unreliable about spacing and vowels, so the
// matcher compares compact (space-free) forms of the phrase and of token
// windows of the transcript:
//
//  1. Phrase and transcript are normalised to lowercase ASCII words.
//  2. A plain substring hit on the normalised or compact forms scores 1.0.
//  3. Otherwise candidate windows of the transcript are compared with the
//     phrase by Levenshtein ratio. Candidates whose consonant skeleton equals
//     the phrase's skeleton score at least 0.90, and with phonetic matching
//     enabled a shared Double Metaphone code scores at least 0.85.
//
// Short phrases are prone to false positives and get a raised acceptance
// threshold; see [EffectiveThreshold].
package wake

import (
	"errors"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	minLengthRatio = 0.55
	maxLengthRatio = 1.8

	skeletonFloor = 0.90
	phoneticFloor = 0.85

	minThreshold = 0.55
	maxThreshold = 0.99
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)
	vowels   = regexp.MustCompile(`[aeiou]`)
)

// Match is the best candidate found in a transcript.
type Match struct {
	// Score is in [0, 1].
	Score float64
	// Candidate is the compact transcript window that produced Score.
	Candidate string
}

// Normalize lowercases s, collapses every run of characters outside [a-z0-9]
// into one space and trims the result.
func Normalize(s string) string {
	return strings.Join(strings.Fields(nonAlnum.ReplaceAllString(strings.ToLower(s), " ")), " ")
}

// Compact returns the normalised form of s without spaces.
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Skeleton returns the compact form of s with the vowels a, e, i, o and u
// removed.
func Skeleton(s string) string {
	return vowels.ReplaceAllString(Compact(s), "")
}

// Score returns the best similarity between phrase and any candidate window
// of transcript. Either input normalising to empty scores 0.
func Score(phrase, transcript string) Match {
	return score(phrase, transcript, false)
}

func score(phrase, transcript string, phonetic bool) Match {
	wakeNorm := Normalize(phrase)
	spokenNorm := Normalize(transcript)
	if wakeNorm == "" || spokenNorm == "" {
		return Match{}
	}

	wakeCompact := strings.ReplaceAll(wakeNorm, " ", "")
	spokenCompact := strings.ReplaceAll(spokenNorm, " ", "")
	// Only the phrase inside the transcript is an exact hit. A transcript
	// that covers part of the phrase ("jarvis" for "hey jarvis") is scored
	// by edit distance like any other candidate.
	if strings.Contains(spokenNorm, wakeNorm) || strings.Contains(spokenCompact, wakeCompact) {
		return Match{Score: 1, Candidate: wakeCompact}
	}

	target := float64(max(1, len(wakeCompact)))
	wakeSkeleton := vowels.ReplaceAllString(wakeCompact, "")
	var wakeCodes [2]string
	if phonetic {
		wakeCodes[0], wakeCodes[1] = matchr.DoubleMetaphone(wakeCompact)
	}

	var best Match
	for _, cand := range candidates(spokenNorm, len(strings.Fields(wakeNorm))) {
		ratio := float64(len(cand)) / target
		// The length window also gates the skeleton floor, so a heavily
		// vowel-dropped form of a vowel-rich phrase ("lx" for "alexa") is
		// rejected before its skeleton is compared.
		if ratio < minLengthRatio || ratio > maxLengthRatio {
			continue
		}
		s := similarity(wakeCompact, cand)
		if wakeSkeleton != "" && wakeSkeleton == vowels.ReplaceAllString(cand, "") {
			s = max(s, skeletonFloor)
		}
		if phonetic && sharesCode(wakeCodes, cand) {
			s = max(s, phoneticFloor)
		}
		if s > best.Score {
			best = Match{Score: s, Candidate: cand}
		}
	}
	return best
}

// candidates returns the distinct compact windows of the normalised
// transcript worth comparing with a phrase of wakeTokens words. The whole
// compact transcript is always included. Single-word phrases are often split
// by ASR ("la vart"), so they are compared with joins of up to three
// neighbouring tokens; longer phrases with windows of one token fewer to one
// token more than the phrase.
func candidates(spokenNorm string, wakeTokens int) []string {
	tokens := strings.Fields(spokenNorm)
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(c string) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	add(strings.Join(tokens, ""))

	if wakeTokens <= 1 {
		for i := range tokens {
			var b strings.Builder
			for j := i; j < min(len(tokens), i+3); j++ {
				b.WriteString(tokens[j])
				add(b.String())
			}
		}
		return out
	}

	for size := max(1, wakeTokens-1); size <= min(len(tokens), wakeTokens+1); size++ {
		for start := 0; start+size <= len(tokens); start++ {
			add(strings.Join(tokens[start:start+size], ""))
		}
	}
	return out
}

// similarity is 1 - levenshtein(a, b) / max(len(a), len(b)).
func similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(matchr.Levenshtein(a, b))/float64(longest)
}

func sharesCode(codes [2]string, cand string) bool {
	p, s := matchr.DoubleMetaphone(cand)
	for _, c := range []string{p, s} {
		if c != "" && (c == codes[0] || c == codes[1]) {
			return true
		}
	}
	return false
}

// EffectiveThreshold clamps threshold to [0.55, 0.99] and raises it to 0.90
// for phrases of at most four compact characters and to 0.84 for at most six.
func EffectiveThreshold(threshold float64, phrase string) float64 {
	t := min(maxThreshold, max(minThreshold, threshold))
	switch n := len(Compact(phrase)); {
	case n <= 4:
		t = max(t, 0.90)
	case n <= 6:
		t = max(t, 0.84)
	}
	return t
}

// ErrEmptyPhrase is returned by [New] when the phrase has no letters or
// digits.
var ErrEmptyPhrase = errors.New("wake: phrase is empty after normalisation")

// Option is a functional option for [New].
type Option func(*Matcher)

// WithPhonetic enables the Double Metaphone score floor.
func WithPhonetic(enabled bool) Option {
	return func(m *Matcher) { m.phonetic = enabled }
}

// Matcher accepts transcripts that match a fixed wake phrase. It is
// read-only after construction and safe for concurrent use.
type Matcher struct {
	phrase    string
	threshold float64
	phonetic  bool
}

// New returns a Matcher for phrase. The phrase is trimmed and lowercased;
// threshold is adjusted with [EffectiveThreshold].
func New(phrase string, threshold float64, opts ...Option) (*Matcher, error) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if Normalize(phrase) == "" {
		return nil, ErrEmptyPhrase
	}
	m := &Matcher{phrase: phrase, threshold: EffectiveThreshold(threshold, phrase)}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Phrase returns the trimmed, lowercased wake phrase.
func (m *Matcher) Phrase() string { return m.phrase }

// Threshold returns the effective acceptance threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Accept scores transcript and reports whether the score reaches the
// threshold.
func (m *Matcher) Accept(transcript string) (Match, bool) {
	match := score(m.phrase, transcript, m.phonetic)
	return match, match.Score >= m.threshold && match.Score > 0
}
