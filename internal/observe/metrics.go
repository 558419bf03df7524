// Package observe provides application-wide observability primitives for
// Tapscribe: OpenTelemetry metrics, tracing, structured logging helpers, and
// HTTP middleware for the debug server.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the debug server's /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// meterName is the instrumentation scope name used for all Tapscribe metrics.
const meterName = "github.com/tapscribe/tapscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// RecognitionDuration tracks per-segment speech recognition latency.
	// Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	RecognitionDuration metric.Float64Histogram

	// SessionDuration tracks how long each push-to-talk session spent
	// recording.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks debug endpoint request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsEmitted counts speech segments cut from the capture stream.
	SegmentsEmitted metric.Int64Counter

	// RecognitionErrors counts failed recognitions. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("reason", ...)
	RecognitionErrors metric.Int64Counter

	// FramesDropped counts capture frames discarded because the pipeline
	// fell behind the device.
	FramesDropped metric.Int64Counter

	// Sessions counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...) — "completed", "empty", or "aborted"
	Sessions metric.Int64Counter

	// --- Gauges ---

	// RecordingActive tracks whether a capture session is currently live.
	RecordingActive metric.Int64UpDownCounter
}

// recognitionBuckets defines histogram bucket boundaries (in seconds) for
// per-segment recognition latency, which ranges from tens of milliseconds
// for a local model to tens of seconds when a remote call times out.
var recognitionBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// recording durations. A dictated sentence takes a few seconds; a dictated
// paragraph can take minutes.
var sessionBuckets = []float64{
	1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("tapscribe.recognition.duration",
		metric.WithDescription("Latency of per-segment speech recognition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recognitionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("tapscribe.session.duration",
		metric.WithDescription("Recording duration of finished sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("tapscribe.http.request.duration",
		metric.WithDescription("Debug endpoint request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsEmitted, err = m.Int64Counter("tapscribe.segments.emitted",
		metric.WithDescription("Total speech segments cut from the capture stream."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("tapscribe.recognition.errors",
		metric.WithDescription("Total failed recognitions by provider and reason."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tapscribe.frames.dropped",
		metric.WithDescription("Total capture frames dropped by the ingest queue."),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("tapscribe.sessions",
		metric.WithDescription("Total finished sessions by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RecordingActive, err = m.Int64UpDownCounter("tapscribe.recording.active",
		metric.WithDescription("Whether a capture session is currently recording."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordRecognition records one recognition attempt: latency with provider
// and status attributes, plus an error counter increment when err is set.
// Timeouts and unreachable engines are counted under their own reasons so a
// slow backend is distinguishable from a dead one.
func (m *Metrics) RecordRecognition(ctx context.Context, provider string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RecognitionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, stt.ErrTimeout):
			reason = "timeout"
		case errors.Is(err, stt.ErrUnavailable):
			reason = "unavailable"
		}
		m.RecognitionErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("provider", provider),
				attribute.String("reason", reason),
			),
		)
	}
}

// RecordSession records one finished session with its outcome and how long
// it spent recording.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, recorded time.Duration) {
	m.Sessions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.SessionDuration.Record(ctx, recorded.Seconds())
}

// AddSegmentsEmitted adds to the emitted-segment counter.
func (m *Metrics) AddSegmentsEmitted(ctx context.Context, n int64) {
	m.SegmentsEmitted.Add(ctx, n)
}

// AddFramesDropped adds to the dropped-frame counter.
func (m *Metrics) AddFramesDropped(ctx context.Context, n int64) {
	m.FramesDropped.Add(ctx, n)
}

// RecordingStarted marks a capture session as live.
func (m *Metrics) RecordingStarted(ctx context.Context) {
	m.RecordingActive.Add(ctx, 1)
}

// RecordingStopped marks the capture session as finished.
func (m *Metrics) RecordingStopped(ctx context.Context) {
	m.RecordingActive.Add(ctx, -1)
}
