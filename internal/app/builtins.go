package app

import (
	"net/http"
	"os"
	"strings"

	"github.com/MrWong99/promptflux-stt/internal/config"
	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/audio/malgo"
	"github.com/MrWong99/promptflux-stt/pkg/audio/portaudio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt/openai"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt/whisper"
)

// RegisterBuiltins wires every audio backend and transcription engine that
// ships with promptflux into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── Audio backends ────────────────────────────────────────────────────────

	reg.RegisterBackend("portaudio", func() (audio.Backend, error) {
		b, err := portaudio.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	reg.RegisterBackend("malgo", func() (audio.Backend, error) {
		b, err := malgo.New()
		if err != nil {
			return nil, err
		}
		return b, nil
	})

	// ── Engines ───────────────────────────────────────────────────────────────

	reg.RegisterEngine("whisper-native", func(e config.EngineEntry) (stt.Transcriber, error) {
		var opts []whisper.NativeOption
		if e.Threads > 0 {
			opts = append(opts, whisper.WithNativeThreads(e.Threads))
		}
		n, err := whisper.NewNative(NativeModelPath(e), opts...)
		if err != nil {
			return nil, err
		}
		return n, nil
	})

	reg.RegisterEngine("whisper", func(e config.EngineEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if e.Timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: e.Timeout}))
		}
		s, err := whisper.NewServer(e.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	reg.RegisterEngine("openai", func(e config.EngineEntry) (stt.Transcriber, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		if e.Timeout > 0 {
			opts = append(opts, openai.WithTimeout(e.Timeout))
		}
		o, err := openai.New(e.APIKey, e.Model, opts...)
		if err != nil {
			return nil, err
		}
		return o, nil
	})
}

// NativeModelPath resolves the model file of a whisper-native entry. With
// compute type int8 a quantised ggml-<model>-q8_0.bin next to the plain file
// is preferred when it exists.
func NativeModelPath(e config.EngineEntry) string {
	plain := whisper.ModelPath(e.ModelDir, e.Model)
	if e.ComputeType != "int8" || strings.HasSuffix(strings.TrimSpace(e.Model), ".bin") {
		return plain
	}
	quant := whisper.ModelPath(e.ModelDir, strings.TrimSpace(e.Model)+"-q8_0")
	if _, err := os.Stat(quant); err == nil {
		return quant
	}
	return plain
}
