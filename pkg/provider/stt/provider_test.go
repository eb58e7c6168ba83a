package stt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/promptflux-stt/pkg/provider/stt"
)

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":       "",
		"   ":    "",
		"auto":   "",
		" AUTO ": "",
		"en":     "en",
		" De ":   "de",
	}
	for in, want := range tests {
		if got := stt.NormalizeLanguage(in); got != want {
			t.Errorf("NormalizeLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGuard_EmptyInputSkipsEngine(t *testing.T) {
	t.Parallel()
	called := false
	g := stt.Guard(stt.TranscriberFunc(func(context.Context, stt.Request) (stt.Result, error) {
		called = true
		return stt.Result{Text: "unexpected"}, nil
	}))

	res, err := g.Transcribe(context.Background(), stt.Request{SampleRate: 16000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("engine was invoked for empty input")
	}
	if res != (stt.Result{}) {
		t.Errorf("Result = %+v, want zero", res)
	}
}

func TestGuard_NormalizesLanguage(t *testing.T) {
	t.Parallel()
	var got stt.Request
	wantErr := errors.New("engine failure")
	g := stt.Guard(stt.TranscriberFunc(func(_ context.Context, req stt.Request) (stt.Result, error) {
		got = req
		return stt.Result{Text: "hi", Duration: time.Second}, wantErr
	}))

	res, err := g.Transcribe(context.Background(), stt.Request{Samples: []float32{0.1}, Language: " Auto", Prompt: "p"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if got.Language != "" || got.Prompt != "p" || len(got.Samples) != 1 {
		t.Errorf("engine saw %+v, want normalised language and untouched fields", got)
	}
	if res.Text != "hi" {
		t.Errorf("Result.Text = %q, want %q", res.Text, "hi")
	}
}
