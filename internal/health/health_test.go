package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type flag struct{ v atomic.Bool }

func (f *flag) Running() bool { return f.v.Load() }
func (f *flag) Healthy() bool { return f.v.Load() }

func readyz(t *testing.T, h *Handler) (int, result) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Status != "ok" {
		t.Errorf("body = %+v, %v; want status ok", body, err)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	pass := Checker{Name: "a", Check: func(context.Context) error { return nil }}
	fail := Checker{Name: "b", Check: func(context.Context) error { return errors.New("device gone") }}

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{"no checkers", nil, http.StatusOK, "ok", nil},
		{"all pass", []Checker{pass}, http.StatusOK, "ok", map[string]string{"a": "ok"}},
		{"one fails", []Checker{pass, fail}, http.StatusServiceUnavailable, "fail",
			map[string]string{"a": "ok", "b": "fail: device gone"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := readyz(t, New(tt.checkers...))
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("got %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			for k, want := range tt.wantChecks {
				if got := body.Checks[k]; got != want {
					t.Errorf("check %s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestReadyz_CheckerSeesDeadline(t *testing.T) {
	t.Parallel()
	var hasDeadline bool
	h := New(Checker{Name: "d", Check: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}})
	readyz(t, h)
	if !hasDeadline {
		t.Error("checker context has no deadline")
	}
}

func TestDomainCheckers(t *testing.T) {
	t.Parallel()
	var capture, engines flag
	h := New(CaptureRunning(&capture), EnginesAvailable(&engines))

	code, body := readyz(t, h)
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before start", code)
	}
	if body.Checks["capture"] != "fail: audio stream not running" {
		t.Errorf("capture = %q", body.Checks["capture"])
	}
	if body.Checks["engines"] != "fail: all transcription engines unavailable" {
		t.Errorf("engines = %q", body.Checks["engines"])
	}

	capture.v.Store(true)
	engines.v.Store(true)
	if code, body := readyz(t, h); code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v, want ready", code, body)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New().Register(mux)
	for _, p := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", p, rec.Code)
		}
	}
}
