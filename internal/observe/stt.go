package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tapscribe/tapscribe/pkg/audio"
	"github.com/tapscribe/tapscribe/pkg/provider/stt"
)

// InstrumentedProvider wraps an [stt.Provider] so that every Transcribe call
// is traced and its latency and failures land in [Metrics]. The dispatch
// workers stay oblivious to telemetry; wrapping the provider at assembly
// time is the single instrumentation point for the whole recognition path.
type InstrumentedProvider struct {
	next    stt.Provider
	metrics *Metrics
}

var _ stt.Provider = (*InstrumentedProvider)(nil)

// InstrumentProvider wraps next with tracing and metrics recording.
func InstrumentProvider(next stt.Provider, m *Metrics) *InstrumentedProvider {
	return &InstrumentedProvider{next: next, metrics: m}
}

// Name reports the wrapped provider's name.
func (p *InstrumentedProvider) Name() string { return p.next.Name() }

// Ping forwards health probes to the wrapped provider. Providers without a
// probe of their own are assumed healthy.
func (p *InstrumentedProvider) Ping(ctx context.Context) error {
	if pinger, ok := p.next.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// Transcribe delegates to the wrapped provider inside a span and records
// the attempt's latency and outcome.
func (p *InstrumentedProvider) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	ctx, span := StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.String("provider", p.next.Name()),
			attribute.Int("segment.sequence", seg.Sequence),
			attribute.Float64("segment.seconds", seg.Duration.Seconds()),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := p.next.Transcribe(ctx, seg)
	p.metrics.RecordRecognition(ctx, p.next.Name(), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("transcript.chars", len(text)))
	return text, nil
}
