// Package whisper provides whisper.cpp-backed speech-to-text engines.
//
// [Native] runs inference in-process through the whisper.cpp CGO bindings.
// [Server] talks to a running whisper-server binary, which exposes a REST
// API at POST /inference: every utterance is encoded as a 16-bit WAV file
// and uploaded as multipart/form-data.
//
// Usage:
//
//	s, err := whisper.NewServer("http://localhost:8080", whisper.WithLanguage("en"))
//	res, err := s.Transcribe(ctx, stt.Request{Samples: pcm, SampleRate: 16000})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/promptflux-stt/pkg/audio"
	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

// Compile-time assertion that Server implements stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// maxErrorBody bounds how much of a failed response is quoted in errors.
const maxErrorBody = 512

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with. This is the default.
func WithModel(model string) Option {
	return func(s *Server) { s.model = model }
}

// WithLanguage sets the language used when a request carries none. Defaults
// to auto-detection.
func WithLanguage(lang string) Option {
	return func(s *Server) { s.language = stt.NormalizeLanguage(lang) }
}

// WithHTTPClient replaces the HTTP client. Defaults to a client with a
// two-minute timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Server) { s.httpClient = c }
}

// Server implements stt.Transcriber backed by a whisper.cpp HTTP server.
// It is safe for concurrent use.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer creates a Server that connects to the whisper.cpp HTTP server at
// serverURL (e.g., "http://localhost:8080"). serverURL must be non-empty.
func NewServer(serverURL string, opts ...Option) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// inferenceResponse is the verbose_json body of POST /inference. Older
// servers return only text.
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe encodes req as WAV and POSTs it to the /inference endpoint.
func (s *Server) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Samples) == 0 {
		return stt.Result{}, nil
	}
	start := time.Now()

	body, contentType, err := s.form(req)
	if err != nil {
		return stt.Result{}, err
	}

	endpoint := s.serverURL + "/inference"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return stt.Result{}, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var parsed inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	var logprobs []float64
	for _, seg := range parsed.Segments {
		if seg.AvgLogprob != nil {
			logprobs = append(logprobs, *seg.AvgLogprob)
		}
	}
	return stt.Result{
		Text:       strings.TrimSpace(parsed.Text),
		AvgLogprob: mean(logprobs),
		Duration:   time.Since(start),
	}, nil
}

// form builds the multipart body: the WAV file plus optional hint fields.
func (s *Server) form(req stt.Request) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(req.Samples, req.SampleRate)); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	lang := stt.NormalizeLanguage(req.Language)
	if lang == "" {
		lang = s.language
	}
	if lang == "" {
		lang = stt.LanguageAuto
	}
	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"language", lang},
		{"model", s.model},
		{"prompt", req.Prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
