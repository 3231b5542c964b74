package stt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-capture/internal/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcribe.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecModelPassesFlagsAndDecodes(t *testing.T) {
	script := writeScript(t, `printf '{"text":"%s"}' "$*"`)
	loader, err := NewExecLoader(config.TranscriptionConfig{Command: script + " --quiet", Language: "en", Threads: 2})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	model, err := loader.Load(context.Background(), "tiny.en")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if model.ID() != "tiny.en" {
		t.Fatalf("unexpected id %q", model.ID())
	}

	text, err := model.Transcribe(context.Background(), "/data/rec.wav")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	for _, want := range []string{"--quiet", "--audio /data/rec.wav", "--model tiny.en", "--language en", "--threads 2", "--no-fp16"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in args, got %q", want, text)
		}
	}
}

func TestExecModelReportsFailure(t *testing.T) {
	script := writeScript(t, `echo "model exploded" >&2; exit 1`)
	loader, err := NewExecLoader(config.TranscriptionConfig{Command: script})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	model, err := loader.Load(context.Background(), "base")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = model.Transcribe(context.Background(), "/data/rec.wav")
	if err == nil || !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecModelReportsToolError(t *testing.T) {
	script := writeScript(t, `echo '{"error":"unsupported audio"}'`)
	loader, _ := NewExecLoader(config.TranscriptionConfig{Command: script})
	model, err := loader.Load(context.Background(), "base")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := model.Transcribe(context.Background(), "/data/rec.wav"); err == nil || !strings.Contains(err.Error(), "unsupported audio") {
		t.Fatalf("expected tool error, got %v", err)
	}
}

func TestExecLoaderMissingBinary(t *testing.T) {
	loader, err := NewExecLoader(config.TranscriptionConfig{Command: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	if _, err := loader.Load(context.Background(), "tiny"); err == nil {
		t.Fatal("expected load error for missing binary")
	}
}

func TestExecLoaderEmptyCommand(t *testing.T) {
	if _, err := NewExecLoader(config.TranscriptionConfig{Command: "  "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestNewLoaderModes(t *testing.T) {
	if _, err := NewLoader(config.TranscriptionConfig{Mode: "mock"}, newLogger()); err != nil {
		t.Fatalf("mock loader: %v", err)
	}
	if _, err := NewLoader(config.TranscriptionConfig{Mode: "cloud"}, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
