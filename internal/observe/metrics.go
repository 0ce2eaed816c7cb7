// Package observe provides OpenTelemetry metrics for the minutes pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge set up by [InitProvider], scraped from the
// /metrics endpoint served by [Serve]. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/scrivia/pkg/minutes"
)

// meterName is the instrumentation scope name used for all Scrivia metrics.
const meterName = "github.com/MrWong99/scrivia"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// StageDuration tracks the latency of each pipeline stage. Use with
	// attribute: attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// TranscriptionDuration tracks per-track transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// PipelineRuns counts completed pipeline invocations. Use with
	// attributes: attribute.String("trigger", ...), attribute.String("status", ...).
	PipelineRuns metric.Int64Counter

	// StageFailures counts stage-tagged failures. Use with attribute:
	//   attribute.String("stage", ...)
	StageFailures metric.Int64Counter

	// TranscribedAudio accumulates the seconds of speaker audio transcribed.
	TranscribedAudio metric.Float64Counter

	// ActivePipelines tracks the number of in-flight pipeline runs.
	ActivePipelines metric.Int64UpDownCounter

	// DriveFiles counts watcher-discovered archives by terminal outcome.
	// Use with attribute: attribute.String("status", ...).
	DriveFiles metric.Int64Counter
}

// stageBuckets defines histogram bucket boundaries (in seconds) sized for
// download, transcription, and LLM stages that run seconds to minutes.
var stageBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("scrivia.stage.duration",
		metric.WithDescription("Latency of each pipeline stage by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("scrivia.transcription.duration",
		metric.WithDescription("Latency of transcribing one speaker track."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}

	if met.PipelineRuns, err = m.Int64Counter("scrivia.pipeline.runs",
		metric.WithDescription("Completed pipeline invocations by trigger and status."),
	); err != nil {
		return nil, err
	}
	if met.StageFailures, err = m.Int64Counter("scrivia.stage.failures",
		metric.WithDescription("Pipeline failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.TranscribedAudio, err = m.Float64Counter("scrivia.transcribed.audio",
		metric.WithDescription("Seconds of speaker audio transcribed."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.ActivePipelines, err = m.Int64UpDownCounter("scrivia.active_pipelines",
		metric.WithDescription("Number of in-flight pipeline runs."),
	); err != nil {
		return nil, err
	}
	if met.DriveFiles, err = m.Int64Counter("scrivia.drive.files",
		metric.WithDescription("Watcher-discovered archives by terminal outcome."),
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

// RecordStage records one stage's duration.
func (m *Metrics) RecordStage(ctx context.Context, stage minutes.Stage, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", string(stage))),
	)
}

// RecordPipeline records one finished pipeline run with its trigger and
// terminal status ("success" or "failure").
func (m *Metrics) RecordPipeline(ctx context.Context, trigger minutes.TriggerKind, status string) {
	m.PipelineRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("trigger", string(trigger)),
			attribute.String("status", status),
		),
	)
}

// RecordStageFailure records a failure in the given stage.
func (m *Metrics) RecordStageFailure(ctx context.Context, stage minutes.Stage) {
	m.StageFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", string(stage))),
	)
}

// RecordDriveFile records a watcher-handled archive's terminal outcome.
func (m *Metrics) RecordDriveFile(ctx context.Context, status string) {
	m.DriveFiles.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
