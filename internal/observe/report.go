package observe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// ReporterConfig configures error reporting to Sentry.
type ReporterConfig struct {
	// DSN of the Sentry project. Reporting is disabled when empty.
	DSN         string
	Environment string
	Release     string

	// Transport overrides the HTTP transport. Tests use it to capture
	// events.
	Transport sentry.Transport
}

// Reporter forwards unexpected errors to Sentry. A nil *Reporter is valid and
// drops every report.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter returns a Reporter for cfg, or nil when cfg.DSN is empty.
func NewReporter(cfg ReporterConfig) (*Reporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		Transport:   cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("observe: init sentry: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Report captures err with the trace ID of ctx as a tag. It is safe for
// concurrent use.
func (r *Reporter) Report(ctx context.Context, err error) {
	if r == nil || err == nil {
		return
	}
	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		if cid := CorrelationID(ctx); cid != "" {
			scope.SetTag("trace_id", cid)
		}
		hub.CaptureException(err)
	})
}

// Flush waits up to timeout for buffered events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil {
		return
	}
	if !r.hub.Flush(timeout) {
		slog.Warn("sentry flush timed out", "timeout", timeout)
	}
}
