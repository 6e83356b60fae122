// Package observe provides application-wide observability primitives for
// Medscribe: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Medscribe metrics.
const meterName = "github.com/medscribe/medscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ASRDuration tracks recognition latency per utterance.
	ASRDuration metric.Float64Histogram

	// ValidationDuration tracks transcript validation latency.
	ValidationDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksReceived counts inbound audio chunks across all sessions.
	ChunksReceived metric.Int64Counter

	// PCMBytesDecoded counts PCM bytes produced by the stream reconstructor.
	PCMBytesDecoded metric.Int64Counter

	// SpeechSegments counts gate openings, i.e. detected speech segments.
	SpeechSegments metric.Int64Counter

	// Validations counts validated transcripts. Use with attribute:
	//   attribute.Bool("valid", ...)
	Validations metric.Int64Counter

	// CorrectionsApplied counts phonetic corrections applied to transcripts.
	CorrectionsApplied metric.Int64Counter

	// HallucinationsDetected counts transcripts with at least one
	// hallucination pattern match.
	HallucinationsDetected metric.Int64Counter

	// LowConfidenceFlags counts transcripts flagged for human review.
	LowConfidenceFlags metric.Int64Counter

	// --- Error counters ---

	// DecodeErrors counts sessions whose decoder entered the errored state.
	DecodeErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live dictation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for dictation-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ASRDuration, err = m.Float64Histogram("medscribe.asr.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ValidationDuration, err = m.Float64Histogram("medscribe.validation.duration",
		metric.WithDescription("Latency of transcript validation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksReceived, err = m.Int64Counter("medscribe.audio.chunks",
		metric.WithDescription("Total inbound audio chunks across all sessions."),
	); err != nil {
		return nil, err
	}
	if met.PCMBytesDecoded, err = m.Int64Counter("medscribe.audio.pcm_bytes",
		metric.WithDescription("Total PCM bytes produced by the stream reconstructor."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.SpeechSegments, err = m.Int64Counter("medscribe.vad.speech_segments",
		metric.WithDescription("Total detected speech segments (gate openings)."),
	); err != nil {
		return nil, err
	}
	if met.Validations, err = m.Int64Counter("medscribe.validation.total",
		metric.WithDescription("Total validated transcripts by validity."),
	); err != nil {
		return nil, err
	}
	if met.CorrectionsApplied, err = m.Int64Counter("medscribe.validation.corrections",
		metric.WithDescription("Total phonetic corrections applied to transcripts."),
	); err != nil {
		return nil, err
	}
	if met.HallucinationsDetected, err = m.Int64Counter("medscribe.validation.hallucinations",
		metric.WithDescription("Total transcripts with hallucination pattern matches."),
	); err != nil {
		return nil, err
	}
	if met.LowConfidenceFlags, err = m.Int64Counter("medscribe.validation.low_confidence",
		metric.WithDescription("Total transcripts flagged for human review."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("medscribe.decode.errors",
		metric.WithDescription("Total sessions whose decoder entered the errored state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("medscribe.active_sessions",
		metric.WithDescription("Number of live dictation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("medscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordValidation records the counter increments for one validated
// transcript in a single call.
func (m *Metrics) RecordValidation(ctx context.Context, valid bool, corrections int, hallucinated, lowConfidence bool) {
	m.Validations.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
	if corrections > 0 {
		m.CorrectionsApplied.Add(ctx, int64(corrections))
	}
	if hallucinated {
		m.HallucinationsDetected.Add(ctx, 1)
	}
	if lowConfidence {
		m.LowConfidenceFlags.Add(ctx, 1)
	}
}

// RecordDecodeError records a decoder failure for a session.
func (m *Metrics) RecordDecodeError(ctx context.Context, reason string) {
	m.DecodeErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
