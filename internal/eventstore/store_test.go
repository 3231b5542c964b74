package eventstore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-capture/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "data", "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.AppendEvent(context.Background(), Event{Recording: "a.wav", Type: TypeRecordingStarted}); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, err := es.ListEvents(context.Background(), 10)
	if err != nil || len(events) != 0 {
		t.Fatalf("expected no events in ephemeral mode, got %v, %v", events, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})

	if err := es.EnsureRecording(ctx, "a.wav", "session-1"); err != nil {
		t.Fatalf("ensure recording: %v", err)
	}
	payload := json.RawMessage(`{"pid":42}`)
	if err := es.AppendEvent(ctx, Event{Recording: "a.wav", Type: TypeRecordingStarted, Payload: payload}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	// no prior EnsureRecording
	if err := es.AppendEvent(ctx, Event{Recording: "b.wav", Type: TypeTranscriptCompleted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	events, err := es.ListRecordingEvents(ctx, "a.wav", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Type != TypeRecordingStarted {
		t.Fatalf("unexpected events: %+v", events)
	}
	if string(events[0].Payload) != `{"pid":42}` {
		t.Fatalf("unexpected payload: %s", events[0].Payload)
	}

	recent, err := es.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Recording != "b.wav" {
		t.Fatalf("expected newest first, got %+v", recent)
	}
}

func TestAppendRequiresRecording(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	if err := es.AppendEvent(context.Background(), Event{Type: TypeRecordingStarted}); err == nil {
		t.Fatal("expected error for missing recording")
	}
}

func TestPruneByDaysAndCount(t *testing.T) {
	ctx := context.Background()
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendEvent(ctx, Event{Recording: "old.wav", Type: TypeRecordingStarted}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	for _, name := range []string{"mid.wav", "new.wav"} {
		if err := es.AppendEvent(ctx, Event{Recording: name, Type: TypeRecordingStarted}); err != nil {
			t.Fatalf("append event: %v", err)
		}
		es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 1, 0, time.UTC) }
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Recording != "new.wav" {
		t.Fatalf("expected only the newest recording to survive, got %+v", events)
	}
}
