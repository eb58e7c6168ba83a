// Package observe provides the service's observability primitives:
// OpenTelemetry metrics exported for Prometheus, tracing helpers, HTTP
// middleware and optional Sentry error reporting.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/promptflux-stt"

// Metrics holds all OpenTelemetry metric instruments for the service.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks engine latency. Attributes: purpose
	// ("recording" or "wake"), status.
	TranscriptionDuration metric.Float64Histogram

	// Events counts outbound session events by type.
	Events metric.Int64Counter

	// WakeScores records the best wake-phrase score of each probe.
	// Attribute: accepted.
	WakeScores metric.Float64Histogram

	// SessionState is the current state: 0 idle, 1 recording,
	// 2 transcribing.
	SessionState metric.Int64Gauge

	// ConnectedClients tracks the number of attached session clients.
	ConnectedClients metric.Int64UpDownCounter

	// CapturedSamples counts mono samples written to the capture buffer.
	CapturedSamples metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// engine, to.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for batch
// transcription of a few seconds of speech.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

var scoreBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.7, 0.8, 0.84, 0.9, 0.95, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("promptflux.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("promptflux.session.events",
		metric.WithDescription("Session events delivered to clients by type."),
	); err != nil {
		return nil, err
	}
	if met.WakeScores, err = m.Float64Histogram("promptflux.wake.score",
		metric.WithDescription("Best wake-phrase similarity per probe."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionState, err = m.Int64Gauge("promptflux.session.state",
		metric.WithDescription("Recording state: 0 idle, 1 recording, 2 transcribing."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedClients, err = m.Int64UpDownCounter("promptflux.clients",
		metric.WithDescription("Number of connected session clients."),
	); err != nil {
		return nil, err
	}
	if met.CapturedSamples, err = m.Int64Counter("promptflux.capture.samples",
		metric.WithDescription("Mono samples written to the capture buffer."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("promptflux.engine.breaker_transitions",
		metric.WithDescription("Circuit breaker state changes by engine and target state."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("promptflux.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTranscription records one engine call.
func (m *Metrics) RecordTranscription(ctx context.Context, purpose string, d time.Duration, err error) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("status", status(err)),
		),
	)
}

// RecordEvent counts one delivered session event.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordWakeScore records the score of one wake probe.
func (m *Metrics) RecordWakeScore(ctx context.Context, score float64, accepted bool) {
	m.WakeScores.Record(ctx, score, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}

// SetSessionState records the state named by state ("idle", "recording" or
// "transcribing").
func (m *Metrics) SetSessionState(ctx context.Context, state string) {
	var v int64
	switch state {
	case "recording":
		v = 1
	case "transcribing":
		v = 2
	}
	m.SessionState.Record(ctx, v)
}

// ClientConnected increments the connected client count.
func (m *Metrics) ClientConnected(ctx context.Context) { m.ConnectedClients.Add(ctx, 1) }

// ClientDisconnected decrements the connected client count.
func (m *Metrics) ClientDisconnected(ctx context.Context) { m.ConnectedClients.Add(ctx, -1) }

// RecordCapturedSamples counts n buffered samples. It is called from the
// audio callback and does not take a context.
func (m *Metrics) RecordCapturedSamples(n int) {
	m.CapturedSamples.Add(context.Background(), int64(n))
}

// RecordBreakerTransition counts a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(engine, to string) {
	m.BreakerTransitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("to", to),
		),
	)
}
