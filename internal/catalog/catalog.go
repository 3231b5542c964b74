// Package catalog lists recordings in the storage directory together with the
// transcripts each one already has.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/audio"
	"github.com/loqalabs/loqa-capture/internal/config"
)

const (
	transcriptExt = ".txt"
	partialSuffix = ".partial"
)

// Entry is one recording in a listing.
type Entry struct {
	Name        string
	Transcripts []string
	SizeBytes   int64
	Duration    time.Duration
}

// Catalog is a read-only view over the storage directory.
type Catalog struct {
	dir    string
	ext    string
	models []string
	index  *Index
	logger *slog.Logger
}

// New creates a catalog for the models whitelist. Call Rebuild before use.
func New(cfg config.StorageConfig, models []string, logger *slog.Logger) *Catalog {
	return &Catalog{
		dir:    cfg.Directory,
		ext:    cfg.Extension,
		models: append([]string(nil), models...),
		index:  NewIndex(),
		logger: logger.With(slog.String("component", "catalog")),
	}
}

func (c *Catalog) Index() *Index { return c.index }

func (c *Catalog) Dir() string { return c.dir }

// Rebuild replaces the index with a fresh scan. A missing directory is an
// empty catalog.
func (c *Catalog) Rebuild() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.index.replace(make(map[string]map[string]struct{}))
			return nil
		}
		return fmt.Errorf("scan %s: %w", c.dir, err)
	}

	recordings := make(map[string]map[string]struct{})
	var transcripts [][2]string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if c.isRecording(name) {
			if _, ok := recordings[name]; !ok {
				recordings[name] = make(map[string]struct{})
			}
			continue
		}
		if rec, model, ok := c.ParseTranscriptName(name); ok {
			transcripts = append(transcripts, [2]string{rec, model})
		}
	}
	for _, t := range transcripts {
		if models, ok := recordings[t[0]]; ok && !c.index.pendingJob(t[0], t[1]) {
			models[t[1]] = struct{}{}
		}
	}
	c.index.replace(recordings)
	c.logger.Info("catalog rebuilt", slog.Int("recordings", len(recordings)), slog.Int("transcripts", len(transcripts)))
	return nil
}

// List returns recordings newest first. Names carry a timestamp, so name
// order is chronological order.
func (c *Catalog) List() []Entry {
	names := c.index.names()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		entry := Entry{Name: name, Transcripts: c.index.transcripts(name, c.models)}
		path := filepath.Join(c.dir, name)
		if st, err := os.Stat(path); err == nil {
			entry.SizeBytes = st.Size()
		}
		if info, err := audio.Probe(path); err == nil {
			entry.Duration = info.Duration
		}
		out = append(out, entry)
	}
	return out
}

func (c *Catalog) isRecording(name string) bool {
	return strings.HasSuffix(name, c.ext) && len(name) > len(c.ext) && !strings.HasPrefix(name, ".")
}

// ValidateRecordingName accepts only plain file names inside the storage
// directory that carry the audio extension.
func (c *Catalog) ValidateRecordingName(name string) error {
	if name == "" {
		return apperr.BadInput("recording", "file name is required")
	}
	if !isPlainName(name) || !c.isRecording(name) {
		return apperr.BadInput("recording", "invalid recording name %q", name)
	}
	return nil
}

// TranscriptName is the artifact name for one (recording, model) pair.
func TranscriptName(recording, model string) string {
	return recording + "." + model + transcriptExt
}

// PartialPattern is the os.CreateTemp pattern for a transcript being
// written. Partial files are hidden and never parse as transcripts.
func PartialPattern(transcript string) string {
	return "." + transcript + ".*" + partialSuffix
}

// RemovePartials deletes partial transcripts left by a previous process.
// Call it before any transcription job starts.
func (c *Catalog) RemovePartials() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan %s: %w", c.dir, err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partialSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", name, err)
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info("removed partial transcripts", slog.Int("count", removed))
	}
	return removed, nil
}

// ParseTranscriptName splits an artifact name into its recording and model.
func (c *Catalog) ParseTranscriptName(name string) (recording, model string, ok bool) {
	stem, found := strings.CutSuffix(name, transcriptExt)
	if !found {
		return "", "", false
	}
	for _, m := range c.models {
		if rec, cut := strings.CutSuffix(stem, "."+m); cut && c.isRecording(rec) {
			return rec, m, true
		}
	}
	return "", "", false
}

// RecordingPath resolves a validated recording that exists on disk.
func (c *Catalog) RecordingPath(name string) (string, error) {
	if err := c.ValidateRecordingName(name); err != nil {
		return "", apperr.NotFound("recording", "recording %q not found", name)
	}
	path := filepath.Join(c.dir, name)
	st, err := os.Stat(path)
	if err != nil || !st.Mode().IsRegular() {
		return "", apperr.NotFound("recording", "recording %q not found", name)
	}
	return path, nil
}

// TranscriptPath resolves a completed transcript. In-flight artifacts are
// reported as missing.
func (c *Catalog) TranscriptPath(name string) (string, error) {
	rec, model, ok := c.ParseTranscriptName(name)
	if !ok || !isPlainName(name) || !c.index.HasTranscript(rec, model) {
		return "", apperr.NotFound("transcript", "transcript %q not found", name)
	}
	return filepath.Join(c.dir, name), nil
}

func isPlainName(name string) bool {
	return filepath.IsLocal(name) && filepath.Base(name) == name && !strings.ContainsAny(name, `/\`)
}
