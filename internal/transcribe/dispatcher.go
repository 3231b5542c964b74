// Package transcribe turns one (recording, model) request into a transcript
// artifact next to the recording. Each pair is transcribed at most once.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/capture"
	"github.com/loqalabs/loqa-capture/internal/catalog"
	"github.com/loqalabs/loqa-capture/internal/config"
	"github.com/loqalabs/loqa-capture/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const op = "transcribe"

// Result is a finished transcription.
type Result struct {
	Recording      string
	Model          string
	Text           string
	TranscriptFile string
	Duration       time.Duration
	// Shared is set when the caller joined a job started by another request.
	Shared bool
}

// Listener observes job outcomes. Joiners of a shared job do not trigger
// additional calls.
type Listener interface {
	TranscriptionCompleted(Result)
	TranscriptionFailed(recording, model string, err error)
}

// Models hands out loaded models. *stt.Cache satisfies it.
type Models interface {
	Get(ctx context.Context, id string) (stt.Model, error)
}

// Recorder reports the session still writing audio. *capture.Supervisor
// satisfies it.
type Recorder interface {
	Current() (capture.Session, bool)
}

type Dispatcher struct {
	catalog  *catalog.Catalog
	models   Models
	recorder Recorder
	sem      *semaphore.Weighted
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
	listener Listener

	jobs singleflight.Group
}

// New builds a dispatcher. recorder and listener may be nil.
func New(cfg config.TranscriptionConfig, cat *catalog.Catalog, models Models, recorder Recorder, logger *slog.Logger, listener Listener) *Dispatcher {
	slots := int64(cfg.MaxConcurrent)
	if slots <= 0 {
		slots = 1
	}
	return &Dispatcher{
		catalog:  cat,
		models:   models,
		recorder: recorder,
		sem:      semaphore.NewWeighted(slots),
		timeout:  time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:   logger.With(slog.String("component", "transcription-dispatcher")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-capture/transcribe"),
		listener: listener,
	}
}

// Transcribe runs modelID over fileName and persists the text as
// "<fileName>.<modelID>.txt". Requests are rejected before any side effect
// when an argument is missing, the model is not supported, or the recording
// does not exist. An existing transcript and a recording still in progress
// are conflicts. Concurrent requests
// for the same pair share one job.
//
// The job is not tied to ctx: if the caller gives up, inference still runs to
// completion and its transcript is kept.
func (d *Dispatcher) Transcribe(ctx context.Context, fileName, modelID string) (Result, error) {
	if fileName == "" || modelID == "" {
		return Result{}, apperr.BadInput(op, "Missing file_name or model.")
	}
	if !stt.IsSupported(modelID) {
		return Result{}, apperr.BadInput(op, "Unsupported model %q.", modelID)
	}
	if err := d.catalog.ValidateRecordingName(fileName); err != nil {
		return Result{}, err
	}
	audioPath, err := d.catalog.RecordingPath(fileName)
	if err != nil {
		return Result{}, err
	}
	if d.recorder != nil {
		if sess, ok := d.recorder.Current(); ok && sess.FileName == fileName {
			return Result{}, apperr.Conflict(op, "Recording %s is still in progress.", fileName)
		}
	}

	outName := catalog.TranscriptName(fileName, modelID)
	if d.catalog.Index().HasTranscript(fileName, modelID) {
		return Result{}, conflict(outName)
	}

	ch := d.jobs.DoChan(outName, func() (any, error) {
		return d.run(context.WithoutCancel(ctx), fileName, modelID, audioPath, outName)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		r := res.Val.(Result)
		r.Shared = res.Shared
		return r, nil
	case <-ctx.Done():
		return Result{}, apperr.Internal(op, fmt.Errorf("request abandoned, transcription continues: %w", ctx.Err()))
	}
}

func conflict(outName string) error {
	return apperr.Conflict(op, "Transcript %s already exists.", outName)
}

func (d *Dispatcher) run(ctx context.Context, rec, model, audioPath, outName string) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "transcribe", trace.WithAttributes(
		attribute.String("recording", rec),
		attribute.String("model", model),
	))
	defer span.End()

	index := d.catalog.Index()
	if !index.Claim(rec, model) {
		return Result{}, conflict(outName)
	}

	outPath := filepath.Join(d.catalog.Dir(), outName)
	if _, err := os.Lstat(outPath); err == nil {
		// present on disk but missing from the index
		index.Complete(rec, model)
		return Result{}, conflict(outName)
	} else if !errors.Is(err, fs.ErrNotExist) {
		index.Abandon(rec, model)
		return Result{}, d.fail(span, rec, model, fmt.Errorf("stat %s: %w", outName, err))
	}

	start := time.Now()
	text, err := d.infer(ctx, model, audioPath)
	if err == nil {
		err = d.publish(outPath, text)
		if errors.Is(err, fs.ErrExist) {
			// written out of band while inference ran
			index.Complete(rec, model)
			return Result{}, conflict(outName)
		}
	}
	if err != nil {
		index.Abandon(rec, model)
		return Result{}, d.fail(span, rec, model, err)
	}
	index.Complete(rec, model)

	result := Result{
		Recording:      rec,
		Model:          model,
		Text:           text,
		TranscriptFile: outName,
		Duration:       time.Since(start),
	}
	d.logger.Info("transcription complete",
		slog.String("file", rec),
		slog.String("model", model),
		slog.String("transcript", outName),
		slog.Int("chars", len(text)),
		slog.Duration("latency", result.Duration))
	if d.listener != nil {
		d.listener.TranscriptionCompleted(result)
	}
	return result, nil
}

// publish writes text to a hidden partial file and links it into place. The
// link fails when the artifact exists, so a transcript is never overwritten,
// and a crash mid-job leaves only a partial file behind.
func (d *Dispatcher) publish(outPath, text string) error {
	name := filepath.Base(outPath)
	tmp, err := os.CreateTemp(filepath.Dir(outPath), catalog.PartialPattern(name))
	if err != nil {
		return fmt.Errorf("create partial %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Link(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

func (d *Dispatcher) fail(span trace.Span, rec, model string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	d.logger.Error("transcription failed",
		slog.String("file", rec),
		slog.String("model", model),
		slog.String("error", err.Error()))
	if d.listener != nil {
		d.listener.TranscriptionFailed(rec, model, err)
	}
	return apperr.Internal(op, err)
}

func (d *Dispatcher) infer(ctx context.Context, model, audioPath string) (string, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("wait for inference slot: %w", err)
	}
	defer d.sem.Release(1)

	m, err := d.models.Get(ctx, model)
	if err != nil {
		return "", err
	}

	ctx, span := d.tracer.Start(ctx, "inference", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()
	text, err := m.Transcribe(ctx, audioPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("inference with %s: %w", model, err)
	}
	return text, nil
}
