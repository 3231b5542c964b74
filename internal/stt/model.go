package stt

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/loqalabs/loqa-capture/internal/config"
)

// Model is a loaded inference model.
type Model interface {
	ID() string
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Loader pays the load cost for one model id.
type Loader interface {
	Load(ctx context.Context, id string) (Model, error)
}

// Only the smaller, faster variants are offered.
var supportedModels = []string{"tiny.en", "tiny", "base.en", "base", "small.en", "small"}

// SupportedModels returns the model id whitelist in display order.
func SupportedModels() []string {
	return slices.Clone(supportedModels)
}

// IsSupported reports whether id is on the whitelist.
func IsSupported(id string) bool {
	return slices.Contains(supportedModels, id)
}

func modelFileName(id string) string {
	return "ggml-" + id + ".bin"
}

// NewLoader picks the inference backend for cfg.Mode.
func NewLoader(cfg config.TranscriptionConfig, logger *slog.Logger) (Loader, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockLoader(), nil
	case "exec":
		return NewExecLoader(cfg)
	case "whisper":
		return NewWhisperLoader(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transcription mode %q", cfg.Mode)
	}
}
