//go:build !whisper

package stt

import (
	"errors"
	"log/slog"

	"github.com/loqalabs/loqa-capture/internal/config"
)

// NewWhisperLoader reports that in-process inference was not compiled in.
func NewWhisperLoader(config.TranscriptionConfig, *slog.Logger) (Loader, error) {
	return nil, errors.New("whisper backend not available (build with: go build -tags whisper)")
}
