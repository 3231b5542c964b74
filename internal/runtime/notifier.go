package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-capture/internal/bus"
	"github.com/loqalabs/loqa-capture/internal/capture"
	"github.com/loqalabs/loqa-capture/internal/catalog"
	"github.com/loqalabs/loqa-capture/internal/eventstore"
	"github.com/loqalabs/loqa-capture/internal/protocol"
	"github.com/loqalabs/loqa-capture/internal/transcribe"
)

const eventWriteTimeout = 2 * time.Second

// notifier fans session and job transitions out to the catalog index, the
// event store, the bus and metrics. Any sink except the index may be nil.
type notifier struct {
	index   *catalog.Index
	events  *eventstore.Store
	bus     *bus.Client
	metrics *metrics
	logger  *slog.Logger
	clock   func() time.Time
}

var (
	_ capture.Listener    = (*notifier)(nil)
	_ transcribe.Listener = (*notifier)(nil)
)

func (n *notifier) RecordingStarted(s capture.Session) {
	n.index.AddRecording(s.FileName)
	if n.metrics != nil {
		n.metrics.recordingStarted(context.Background())
	}
	if n.events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
		err := n.events.EnsureRecording(ctx, s.FileName, s.ID)
		cancel()
		if err != nil {
			n.logger.Warn("failed to record session", slog.String("file", s.FileName), slog.String("error", err.Error()))
		}
	}
	n.emit(s.FileName, s.ID, eventstore.TypeRecordingStarted, protocol.SubjectRecordingStarted, protocol.RecordingEvent{
		SessionID: s.ID,
		FileName:  s.FileName,
		PID:       s.PID,
		StartedAt: s.StartedAt,
		Timestamp: n.clock(),
	})
}

func (n *notifier) RecordingStopped(s capture.Session, outcome capture.Outcome) {
	if n.metrics != nil {
		n.metrics.recordingStopped(context.Background(), string(outcome))
	}
	n.emit(s.FileName, s.ID, eventstore.TypeRecordingStopped, protocol.SubjectRecordingStopped, protocol.RecordingEvent{
		SessionID: s.ID,
		FileName:  s.FileName,
		PID:       s.PID,
		Outcome:   string(outcome),
		StartedAt: s.StartedAt,
		Timestamp: n.clock(),
	})
}

func (n *notifier) TranscriptionCompleted(r transcribe.Result) {
	if n.metrics != nil {
		n.metrics.transcription(context.Background(), r.Model, "success", r.Duration)
	}
	n.emit(r.Recording, uuid.NewString(), eventstore.TypeTranscriptCompleted, protocol.SubjectTranscriptCompleted, protocol.TranscriptEvent{
		FileName:       r.Recording,
		Model:          r.Model,
		TranscriptFile: r.TranscriptFile,
		Chars:          len(r.Text),
		LatencyMS:      r.Duration.Milliseconds(),
		Timestamp:      n.clock(),
	})
}

func (n *notifier) TranscriptionFailed(recording, model string, err error) {
	if n.metrics != nil {
		n.metrics.transcription(context.Background(), model, "error", 0)
	}
	n.emit(recording, uuid.NewString(), eventstore.TypeTranscriptFailed, protocol.SubjectTranscriptFailed, protocol.TranscriptEvent{
		FileName:  recording,
		Model:     model,
		Error:     err.Error(),
		Timestamp: n.clock(),
	})
}

func (n *notifier) emit(recording, traceID, eventType, subject string, payload any) {
	if n.events != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
			err = n.events.AppendEvent(ctx, eventstore.Event{
				Recording: recording,
				TraceID:   traceID,
				Type:      eventType,
				Payload:   data,
			})
			cancel()
		}
		if err != nil {
			n.logger.Warn("failed to store event",
				slog.String("type", eventType),
				slog.String("file", recording),
				slog.String("error", err.Error()))
		}
	}
	if n.bus != nil {
		if err := n.bus.PublishJSON(subject, payload); err != nil {
			n.logger.Warn("failed to publish event", slog.String("subject", subject), slog.String("error", err.Error()))
		}
	}
}
