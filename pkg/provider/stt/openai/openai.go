// Package openai provides a speech-to-text engine backed by the OpenAI audio
// transcription API, or any server implementing the same endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// Compile-time assertion that Engine implements stt.Transcriber.
var _ stt.Transcriber = (*Engine)(nil)

// Engine implements stt.Transcriber using the OpenAI API.
type Engine struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

// config holds optional configuration for the engine.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the language used when a request carries none.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs an Engine for model, e.g. "whisper-1" or
// "gpt-4o-mini-transcribe".
func New(apiKey, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = string(oai.AudioModelWhisper1)
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Engine{
		client:   oai.NewClient(reqOpts...),
		model:    oai.AudioModel(model),
		language: stt.NormalizeLanguage(cfg.language),
	}, nil
}

// Transcribe uploads req as a WAV file. whisper-1 is asked for verbose JSON
// and AvgLogprob averages its segments; other models are asked for token
// log probabilities, which are averaged instead.
func (e *Engine) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	start := time.Now()

	wav := audio.EncodeWAV(req.Samples, req.SampleRate)
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: e.model,
	}
	lang := stt.NormalizeLanguage(req.Language)
	if lang == "" {
		lang = e.language
	}
	if lang != "" {
		params.Language = oai.String(lang)
	}
	if req.Prompt != "" {
		params.Prompt = oai.String(req.Prompt)
	}
	verbose := e.model == oai.AudioModelWhisper1
	if verbose {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
	} else {
		params.ResponseFormat = oai.AudioResponseFormatJSON
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	res, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("openai: transcribe: %w", err)
	}

	var logprob float64
	if verbose {
		logprob = segmentLogprob(res.RawJSON())
	} else if len(res.Logprobs) > 0 {
		var sum float64
		for _, lp := range res.Logprobs {
			sum += lp.Logprob
		}
		logprob = sum / float64(len(res.Logprobs))
	}

	return stt.Result{
		Text:       strings.TrimSpace(res.Text),
		AvgLogprob: logprob,
		Duration:   time.Since(start),
	}, nil
}

// segmentLogprob averages the avg_logprob of every segment in a
// verbose_json body. Malformed or segment-free bodies yield 0.
func segmentLogprob(raw string) float64 {
	var body struct {
		Segments []struct {
			AvgLogprob float64 `json:"avg_logprob"`
		} `json:"segments"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil || len(body.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range body.Segments {
		sum += s.AvgLogprob
	}
	return sum / float64(len(body.Segments))
}
