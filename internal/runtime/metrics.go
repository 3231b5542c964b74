package runtime

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	started        metric.Int64Counter
	stopped        metric.Int64Counter
	transcriptions metric.Int64Counter
	duration       metric.Float64Histogram
}

// newMetrics registers instruments on the global meter provider. The gauges
// sample active and loaded at collection time.
func newMetrics(active func() bool, loaded func() int) (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-capture/runtime")
	m := &metrics{}
	var err error

	if m.started, err = meter.Int64Counter("capture.recordings.started",
		metric.WithDescription("Recording sessions started")); err != nil {
		return nil, err
	}
	if m.stopped, err = meter.Int64Counter("capture.recordings.stopped",
		metric.WithDescription("Recording sessions ended, by outcome")); err != nil {
		return nil, err
	}
	if m.transcriptions, err = meter.Int64Counter("capture.transcriptions",
		metric.WithDescription("Transcription jobs, by model and result")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("capture.transcription.duration",
		metric.WithDescription("Model load plus inference time"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge("capture.recording.active",
		metric.WithDescription("1 while a capture process is running"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var v int64
			if active() {
				v = 1
			}
			o.Observe(v)
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge("capture.models.loaded",
		metric.WithDescription("Models resident in the model cache"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(loaded()))
			return nil
		})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) recordingStarted(ctx context.Context) {
	m.started.Add(ctx, 1)
}

func (m *metrics) recordingStopped(ctx context.Context, outcome string) {
	m.stopped.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) transcription(ctx context.Context, model, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("model", model), attribute.String("result", result))
	m.transcriptions.Add(ctx, 1, attrs)
	if elapsed > 0 {
		m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("model", model)))
	}
}
