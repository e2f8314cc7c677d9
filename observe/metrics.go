// Package observe holds the OpenTelemetry metric instruments for the
// detection pipeline and the Prometheus exporter bridge.
//
// Tests should build a Metrics with NewMetrics over a ManualReader-backed
// provider rather than using DefaultMetrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/RyanBlaney/sonido-nota"

// Metrics holds the pipeline's instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// FramesProcessed counts frames run through the pipeline, by mode
	FramesProcessed metric.Int64Counter

	// FramesGated counts frames silenced by the noise gate, by mode
	FramesGated metric.Int64Counter

	// Detections counts stable notes and matched chords, by mode and result
	Detections metric.Int64Counter

	// CaptureErrors counts terminal capture failures
	CaptureErrors metric.Int64Counter

	// FrameDuration tracks per-frame processing time in seconds
	FrameDuration metric.Float64Histogram
}

// frameBuckets covers sub-millisecond FFTs up to a frame period (~186 ms at 8192/44100)
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates all instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesProcessed, err = m.Int64Counter("sonido.frames.processed",
		metric.WithDescription("Audio frames processed by detection mode."),
	); err != nil {
		return nil, err
	}
	if met.FramesGated, err = m.Int64Counter("sonido.frames.gated",
		metric.WithDescription("Frames silenced by the noise gate."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("sonido.detections",
		metric.WithDescription("Stable notes and matched chords by mode and result."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("sonido.capture.errors",
		metric.WithDescription("Capture failures that ended a detection session."),
	); err != nil {
		return nil, err
	}
	if met.FrameDuration, err = m.Float64Histogram("sonido.frame.duration",
		metric.WithDescription("Time spent processing one frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a Metrics bound to the global meter provider,
// created on first call.
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

// RecordFrame records one processed frame
func (m *Metrics) RecordFrame(ctx context.Context, mode string, gated bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", mode))
	m.FramesProcessed.Add(ctx, 1, attrs)
	if gated {
		m.FramesGated.Add(ctx, 1, attrs)
	}
	m.FrameDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordDetection records a stable note or chord label
func (m *Metrics) RecordDetection(ctx context.Context, mode, result string) {
	if m == nil {
		return
	}
	m.Detections.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("result", result),
		),
	)
}

// RecordCaptureError records a capture failure
func (m *Metrics) RecordCaptureError(ctx context.Context) {
	if m == nil {
		return
	}
	m.CaptureErrors.Add(ctx, 1)
}
