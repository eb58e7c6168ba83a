package observe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
)

type captureTransport struct {
	mu     sync.Mutex
	events []*sentry.Event
}

func (c *captureTransport) Flush(time.Duration) bool { return true }
func (c *captureTransport) Configure(sentry.ClientOptions) {}
func (c *captureTransport) Close() {}

func (c *captureTransport) SendEvent(e *sentry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureTransport) Events() []*sentry.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*sentry.Event(nil), c.events...)
}

func TestNewReporter_EmptyDSN(t *testing.T) {
	r, err := NewReporter(ReporterConfig{})
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	if r != nil {
		t.Fatalf("reporter = %v, want nil for empty DSN", r)
	}
	// A nil reporter drops reports.
	r.Report(context.Background(), errors.New("ignored"))
	r.Flush(time.Millisecond)
}

func TestNewReporter_InvalidDSN(t *testing.T) {
	if _, err := NewReporter(ReporterConfig{DSN: "not a dsn"}); err == nil {
		t.Fatal("expected error for invalid DSN")
	}
}

func TestReporter_Report(t *testing.T) {
	useTestTracer(t)
	tr := &captureTransport{}
	r, err := NewReporter(ReporterConfig{
		DSN:         "https://public@sentry.example.com/1",
		Environment: "test",
		Transport:   tr,
	})
	if err != nil {
		t.Fatalf("NewReporter: %v", err)
	}

	ctx, span := StartSpan(context.Background(), "report")
	defer span.End()
	r.Report(ctx, errors.New("engine exploded"))
	r.Report(ctx, nil)
	r.Flush(time.Second)

	events := tr.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if len(e.Exception) == 0 || e.Exception[len(e.Exception)-1].Value != "engine exploded" {
		t.Errorf("exception = %+v, want engine exploded", e.Exception)
	}
	if got := e.Tags["trace_id"]; got != CorrelationID(ctx) {
		t.Errorf("trace_id tag = %q, want %q", got, CorrelationID(ctx))
	}
	if e.Environment != "test" {
		t.Errorf("environment = %q, want test", e.Environment)
	}
}
