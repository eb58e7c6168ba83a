// Package stt defines the Transcriber interface for batch speech-to-text
// engines.
//
// A Transcriber receives a complete utterance of mono float32 PCM and returns
// its text with confidence and timing metadata. Engines live in
// subpackages: whisper (whisper.cpp bindings or a whisper-server over HTTP)
// and openai (the OpenAI transcription API).
//
// Implementations must be safe for concurrent use: the session coordinator
// may run a wake-word probe while a recording is being transcribed.
package stt

import (
	"context"
	"strings"
	"time"
)

// LanguageAuto requests language auto-detection.
const LanguageAuto = "auto"

// Request is one utterance to transcribe.
type Request struct {
	// Samples is mono audio in [-1, 1].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Language is an ISO 639-1 code such as "en". Empty or "auto" lets the
	// engine detect the language.
	Language string

	// Prompt is an optional initial prompt biasing recognition, e.g. towards
	// a wake phrase.
	Prompt string
}

// Result is the outcome of one transcription.
type Result struct {
	// Text is the trimmed transcript. It may be empty when no speech was
	// recognised.
	Text string

	// AvgLogprob is the mean log probability over the recognised segments,
	// or 0 when the engine does not report one.
	AvgLogprob float64

	// Duration is the wall-clock time spent in the engine.
	Duration time.Duration
}

// Transcriber is the abstraction over any batch STT engine.
type Transcriber interface {
	// Transcribe returns the transcript of req. Empty input yields a zero
	// Result without invoking the underlying engine.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// TranscriberFunc adapts a function to the [Transcriber] interface.
type TranscriberFunc func(ctx context.Context, req Request) (Result, error)

// Transcribe calls f(ctx, req).
func (f TranscriberFunc) Transcribe(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// NormalizeLanguage trims and lowercases lang. Blank values and "auto" map to
// "", meaning auto-detection.
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == LanguageAuto {
		return ""
	}
	return lang
}

// Guard wraps t so that empty requests short-circuit to a zero Result and
// the language is normalised with [NormalizeLanguage] before t sees it.
func Guard(t Transcriber) Transcriber {
	return guard{next: t}
}

type guard struct {
	next Transcriber
}

func (g guard) Transcribe(ctx context.Context, req Request) (Result, error) {
	if len(req.Samples) == 0 {
		return Result{}, nil
	}
	req.Language = NormalizeLanguage(req.Language)
	return g.next.Transcribe(ctx, req)
}
