package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every tuner metric.
const meterName = "github.com/RyanBlaney/sonido-tuner"

// analysisBuckets are histogram boundaries in seconds. A 4096-sample frame
// at 44.1 kHz lasts about 93 ms, so anything past that is falling behind.
var analysisBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// Metrics holds the OpenTelemetry instruments the pipeline records into.
type Metrics struct {
	// FramesCaptured counts frames produced by the assembler.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because analysis fell behind.
	FramesDropped metric.Int64Counter

	// FrameErrors counts frames that could not be used. Attribute:
	//   attribute.String("reason", "decode"|"analysis")
	FrameErrors metric.Int64Counter

	// AnalysisDuration tracks per-frame DSP time.
	AnalysisDuration metric.Float64Histogram

	// Captures counts capture attempts. Attribute:
	//   attribute.String("status", "ok"|"failed")
	Captures metric.Int64Counter

	// Reconnects counts device reopen attempts. Attribute:
	//   attribute.String("status", "ok"|"failed")
	Reconnects metric.Int64Counter

	// Running is 1 while a stream is delivering audio.
	Running metric.Int64UpDownCounter
}

// NewMetrics creates every instrument from mp. A nil mp uses the global
// provider, which is a no-op until one is installed.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("tuner.frames.captured",
		metric.WithDescription("Frames assembled from device audio."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("tuner.frames.dropped",
		metric.WithDescription("Frames discarded because the analysis queue was full."),
	); err != nil {
		return nil, err
	}
	if met.FrameErrors, err = m.Int64Counter("tuner.frames.errors",
		metric.WithDescription("Frames skipped by reason."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("tuner.analysis.duration",
		metric.WithDescription("Time spent analysing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Captures, err = m.Int64Counter("tuner.captures",
		metric.WithDescription("Inharmonicity captures by status."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("tuner.device.reconnects",
		metric.WithDescription("Device reconnect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Running, err = m.Int64UpDownCounter("tuner.device.running",
		metric.WithDescription("Whether a capture stream is currently running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

func status(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("status", "ok")
	}
	return attribute.String("status", "failed")
}

// RecordFrame counts one assembled frame and whether it displaced an older one.
func (m *Metrics) RecordFrame(ctx context.Context, dropped bool) {
	m.FramesCaptured.Add(ctx, 1)
	if dropped {
		m.FramesDropped.Add(ctx, 1)
	}
}

// RecordFrameError counts a skipped frame.
func (m *Metrics) RecordFrameError(ctx context.Context, reason string) {
	m.FrameErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordAnalysis observes the time spent on one frame.
func (m *Metrics) RecordAnalysis(ctx context.Context, d time.Duration) {
	m.AnalysisDuration.Record(ctx, d.Seconds())
}

// RecordCapture counts a finished capture attempt.
func (m *Metrics) RecordCapture(ctx context.Context, ok bool) {
	m.Captures.Add(ctx, 1, metric.WithAttributes(status(ok)))
}

// RecordReconnect counts a device reopen attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, ok bool) {
	m.Reconnects.Add(ctx, 1, metric.WithAttributes(status(ok)))
}
