package catalog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/audio"
	"github.com/loqalabs/loqa-capture/internal/config"
)

var testModels = []string{"tiny.en", "tiny", "base.en", "base", "small.en", "small"}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	dir := t.TempDir()
	return New(config.StorageConfig{Directory: dir, Extension: ".wav"}, testModels, newLogger()), dir
}

func touch(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRebuildAndListNewestFirst(t *testing.T) {
	c, dir := newCatalog(t)
	older := "manual_recording_2024-01-01_09-00-00.wav"
	newer := "manual_recording_2024-01-02_09-00-00.wav"
	if err := audio.WriteWAV(filepath.Join(dir, older), 48000, 32, 2, make([]int, 96000)); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	touch(t, filepath.Join(dir, newer), "")
	touch(t, filepath.Join(dir, older+".base.en.txt"), "hello")
	touch(t, filepath.Join(dir, older+".tiny.en.txt"), "hello")
	touch(t, filepath.Join(dir, older+".large-v3.txt"), "ignored")
	touch(t, filepath.Join(dir, "notes.md"), "ignored")
	touch(t, filepath.Join(dir, "orphan.wav.tiny.txt"), "no audio")

	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	entries := c.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 recordings, got %d", len(entries))
	}
	if entries[0].Name != newer || entries[1].Name != older {
		t.Fatalf("expected newest first, got %s, %s", entries[0].Name, entries[1].Name)
	}
	if len(entries[0].Transcripts) != 0 {
		t.Fatalf("expected no transcripts for newer, got %v", entries[0].Transcripts)
	}
	got := entries[1].Transcripts
	if len(got) != 2 || got[0] != "tiny.en" || got[1] != "base.en" {
		t.Fatalf("expected whitelist-ordered transcripts, got %v", got)
	}
	if entries[1].Duration != time.Second {
		t.Fatalf("expected 1s duration, got %s", entries[1].Duration)
	}
	if entries[1].SizeBytes == 0 {
		t.Fatal("expected size to be reported")
	}
}

func TestRebuildMissingDirectory(t *testing.T) {
	c := New(config.StorageConfig{Directory: filepath.Join(t.TempDir(), "absent"), Extension: ".wav"}, testModels, newLogger())
	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(c.List()) != 0 {
		t.Fatal("expected empty listing")
	}
}

func TestParseTranscriptName(t *testing.T) {
	c, _ := newCatalog(t)
	cases := []struct {
		name, rec, model string
		ok               bool
	}{
		{"a.wav.tiny.en.txt", "a.wav", "tiny.en", true},
		{"a.wav.tiny.txt", "a.wav", "tiny", true},
		{"a.wav.small.en.txt", "a.wav", "small.en", true},
		{"a.wav.medium.txt", "", "", false},
		{"a.mp3.tiny.txt", "", "", false},
		{"a.wav.tiny.en", "", "", false},
	}
	for _, tc := range cases {
		rec, model, ok := c.ParseTranscriptName(tc.name)
		if ok != tc.ok || rec != tc.rec || model != tc.model {
			t.Fatalf("%s: got (%q, %q, %v)", tc.name, rec, model, ok)
		}
	}
	if TranscriptName("a.wav", "base") != "a.wav.base.txt" {
		t.Fatal("unexpected transcript name")
	}
}

func TestValidateRecordingName(t *testing.T) {
	c, _ := newCatalog(t)
	for _, bad := range []string{"", "../etc/passwd.wav", "sub/a.wav", `..\a.wav`, "a.txt", ".wav", "/abs.wav"} {
		if err := c.ValidateRecordingName(bad); !apperr.Is(err, apperr.KindBadInput) {
			t.Fatalf("%q: expected bad input, got %v", bad, err)
		}
	}
	if err := c.ValidateRecordingName("manual_recording_2024-01-01_09-00-00.wav"); err != nil {
		t.Fatalf("expected valid name, got %v", err)
	}
}

func TestRecordingAndTranscriptPaths(t *testing.T) {
	c, dir := newCatalog(t)
	touch(t, filepath.Join(dir, "a.wav"), "")
	touch(t, filepath.Join(dir, "a.wav.tiny.txt"), "text")
	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if _, err := c.RecordingPath("a.wav"); err != nil {
		t.Fatalf("expected recording, got %v", err)
	}
	if _, err := c.RecordingPath("b.wav"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.RecordingPath("../a.wav"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for traversal, got %v", err)
	}
	if _, err := c.TranscriptPath("a.wav.tiny.txt"); err != nil {
		t.Fatalf("expected transcript, got %v", err)
	}
	if _, err := c.TranscriptPath("a.wav.base.txt"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestIndexClaimLifecycle(t *testing.T) {
	x := NewIndex()
	x.AddRecording("a.wav")
	if !x.Claim("a.wav", "tiny") {
		t.Fatal("expected first claim to succeed")
	}
	if x.Claim("a.wav", "tiny") {
		t.Fatal("expected second claim to fail while pending")
	}
	if x.HasTranscript("a.wav", "tiny") {
		t.Fatal("pending job must not count as complete")
	}
	x.Abandon("a.wav", "tiny")
	if !x.Claim("a.wav", "tiny") {
		t.Fatal("expected claim after abandon")
	}
	x.Complete("a.wav", "tiny")
	if !x.HasTranscript("a.wav", "tiny") {
		t.Fatal("expected completed job")
	}
	if x.Claim("a.wav", "tiny") {
		t.Fatal("completed job must not be claimable")
	}
}

func TestWatchPicksUpExternalFiles(t *testing.T) {
	c, dir := newCatalog(t)
	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	touch(t, filepath.Join(dir, "imported.wav"), "")
	waitFor(t, func() bool { return c.Index().HasRecording("imported.wav") })

	touch(t, filepath.Join(dir, "imported.wav.base.txt"), "text")
	waitFor(t, func() bool { return c.Index().HasTranscript("imported.wav", "base") })

	if err := os.Remove(filepath.Join(dir, "imported.wav.base.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	waitFor(t, func() bool { return !c.Index().HasTranscript("imported.wav", "base") })
}

func TestWatchIgnoresPendingTranscript(t *testing.T) {
	c, dir := newCatalog(t)
	touch(t, filepath.Join(dir, "a.wav"), "")
	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if !c.Index().Claim("a.wav", "tiny") {
		t.Fatal("claim failed")
	}
	touch(t, filepath.Join(dir, "a.wav.tiny.txt"), "")
	touch(t, filepath.Join(dir, "marker.wav"), "")
	waitFor(t, func() bool { return c.Index().HasRecording("marker.wav") })
	if c.Index().HasTranscript("a.wav", "tiny") {
		t.Fatal("watcher must not publish an in-flight transcript")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestRemovePartials(t *testing.T) {
	c, dir := newCatalog(t)
	touch(t, filepath.Join(dir, "a.wav"), "")
	touch(t, filepath.Join(dir, ".a.wav.tiny.txt.12345"+partialSuffix), "")
	touch(t, filepath.Join(dir, "a.wav.base.txt"), "kept")

	if err := c.Rebuild(); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if c.Index().HasTranscript("a.wav", "tiny") {
		t.Fatal("partial file must not count as a transcript")
	}
	n, err := c.RemovePartials()
	if err != nil || n != 1 {
		t.Fatalf("expected one partial removed, got %d, %v", n, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.wav.base.txt")); err != nil {
		t.Fatalf("completed transcript removed: %v", err)
	}
	if got := PartialPattern("a.wav.tiny.txt"); got != ".a.wav.tiny.txt.*"+partialSuffix {
		t.Fatalf("unexpected pattern %q", got)
	}
}
