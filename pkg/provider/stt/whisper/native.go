// This file contains the Native engine backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// Compile-time assertion that Native satisfies stt.Transcriber.
var _ stt.Transcriber = (*Native)(nil)

// modelRate is the only input rate whisper.cpp accepts.
const modelRate = 16000

// Native implements stt.Transcriber using whisper.cpp Go bindings (CGO). The
// model is loaded once and shared; every call runs on its own whisper
// context, so concurrent calls do not interfere.
type Native struct {
	model    whisperlib.Model
	path     string
	language string
	threads  uint
}

// NativeOption is a functional option for configuring a Native engine.
type NativeOption func(*Native)

// WithNativeLanguage sets the default language used when a request carries
// none. Defaults to auto-detection.
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = stt.NormalizeLanguage(lang) }
}

// WithNativeThreads sets the number of inference threads. Zero keeps the
// whisper.cpp default.
func WithNativeThreads(threads uint) NativeOption {
	return func(n *Native) { n.threads = threads }
}

// ModelPath resolves a model name against dir. A name that already points to
// a .bin file is used as is (joined to dir when relative); any other name
// such as "small" or "base.en" maps to dir/ggml-<name>.bin.
func ModelPath(dir, name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, ".bin") {
		name = "ggml-" + name + ".bin"
	}
	if filepath.IsAbs(name) || dir == "" {
		return name
	}
	return filepath.Join(dir, name)
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the engine is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{model: model, path: modelPath}
	for _, o := range opts {
		o(n)
	}
	slog.Info("whisper model loaded", "path", modelPath, "multilingual", model.IsMultilingual())
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over req. Audio at other rates is
// resampled to 16 kHz first. AvgLogprob is the mean over segments of each
// segment's mean token log probability.
func (n *Native) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	start := time.Now()

	samples := req.Samples
	if req.SampleRate > 0 && req.SampleRate != modelRate {
		samples = audio.Resample(samples, float64(req.SampleRate), modelRate)
	}

	// A context is not thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := stt.NormalizeLanguage(req.Language)
	if lang == "" {
		lang = n.language
	}
	if lang == "" {
		lang = stt.LanguageAuto
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "err", err)
	}
	if req.Prompt != "" {
		wctx.SetInitialPrompt(req.Prompt)
	}
	if n.threads > 0 {
		wctx.SetThreads(n.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts    []string
		logprobs []float64
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		var (
			sum   float64
			count int
		)
		for _, tok := range segment.Tokens {
			if tok.P > 0 {
				sum += math.Log(float64(tok.P))
				count++
			}
		}
		if count > 0 {
			logprobs = append(logprobs, sum/float64(count))
		}
	}

	return stt.Result{
		Text:       strings.Join(parts, " "),
		AvgLogprob: mean(logprobs),
		Duration:   time.Since(start),
	}, nil
}

// mean returns the arithmetic mean of v, or 0 for an empty slice.
func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
