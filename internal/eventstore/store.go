// Package eventstore keeps a local timeline of recording sessions and
// transcription jobs in SQLite.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-capture/internal/config"
	_ "modernc.org/sqlite"
)

// Event types written by the runtime.
const (
	TypeRecordingStarted    = "recording.started"
	TypeRecordingStopped    = "recording.stopped"
	TypeTranscriptCompleted = "transcript.completed"
	TypeTranscriptFailed    = "transcript.failed"
)

// Event is one timeline entry, scoped to the recording it concerns.
type Event struct {
	ID        int64           `json:"id"`
	Recording string          `json:"recording"`
	TraceID   string          `json:"trace_id,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store wraps a SQLite-backed timeline. In ephemeral mode every call is a
// no-op and queries return nothing.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    file_name TEXT PRIMARY KEY,
    session_id TEXT,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    recording TEXT NOT NULL,
    trace_id TEXT,
    event_type TEXT NOT NULL,
    payload BLOB,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(recording) REFERENCES recordings(file_name) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_recording_created ON events(recording, created_at);
CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureRecording makes sure a row exists for fileName. Transcriptions of
// recordings made before the store existed create their row lazily.
func (s *Store) EnsureRecording(ctx context.Context, fileName, sessionID string) error {
	if !s.enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings(file_name, session_id, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(file_name) DO UPDATE SET session_id = COALESCE(NULLIF(excluded.session_id, ''), recordings.session_id)`,
		fileName, sessionID, s.clock().UTC().UnixMilli())
	return err
}

// AppendEvent writes evt, creating the recording row when needed.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.enabled() {
		return nil
	}
	if evt.Recording == "" {
		return errors.New("event recording is required")
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	if err := s.EnsureRecording(ctx, evt.Recording, ""); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(recording, trace_id, event_type, payload, created_at) VALUES(?, ?, ?, ?, ?)`,
		evt.Recording, evt.TraceID, evt.Type, []byte(evt.Payload), evt.CreatedAt.UTC().UnixMilli())
	return err
}

// ListEvents returns up to limit of the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recording, trace_id, event_type, payload, created_at
		 FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// ListRecordingEvents returns up to limit events for one recording, oldest first.
func (s *Store) ListRecordingEvents(ctx context.Context, fileName string, limit int) ([]Event, error) {
	if !s.enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recording, trace_id, event_type, payload, created_at
		 FROM events WHERE recording = ? ORDER BY created_at ASC, id ASC LIMIT ?`, fileName, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var events []Event
	for rows.Next() {
		var (
			e       Event
			traceID sql.NullString
			payload []byte
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Recording, &traceID, &e.Type, &payload, &created); err != nil {
			return nil, err
		}
		e.TraceID = traceID.String
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune applies configured retention: rows older than RetentionDays go, then
// all but the MaxSessions most recent recordings.
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixMilli()
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM recordings WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM recordings WHERE file_name IN (
			SELECT file_name FROM recordings ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
