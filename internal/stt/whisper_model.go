//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/loqalabs/loqa-capture/internal/audio"
	"github.com/loqalabs/loqa-capture/internal/config"
)

// whisperLoader runs whisper.cpp in process. Models are ggml files named
// ggml-<id>.bin under the model directory.
type whisperLoader struct {
	cfg    config.TranscriptionConfig
	logger *slog.Logger
}

type whisperModel struct {
	id    string
	model whisper.Model
	cfg   config.TranscriptionConfig
	mu    sync.Mutex
}

func NewWhisperLoader(cfg config.TranscriptionConfig, logger *slog.Logger) (Loader, error) {
	if cfg.ModelDir == "" {
		return nil, errors.New("whisper backend needs a model directory")
	}
	return &whisperLoader{cfg: cfg, logger: logger.With(slog.String("component", "whisper"))}, nil
}

func (l *whisperLoader) Load(_ context.Context, id string) (Model, error) {
	path := filepath.Join(l.cfg.ModelDir, modelFileName(id))
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("load whisper model %s: %w", path, err)
	}
	l.logger.Info("whisper model ready",
		slog.String("model", id),
		slog.Bool("multilingual", model.IsMultilingual()))
	return &whisperModel{id: id, model: model, cfg: l.cfg}, nil
}

func (m *whisperModel) ID() string { return m.id }

func englishOnly(id string) bool {
	return strings.HasSuffix(id, ".en")
}

func (m *whisperModel) Transcribe(ctx context.Context, audioPath string) (string, error) {
	samples, err := audio.LoadMono(audioPath, whisper.SampleRate)
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	// a whisper.cpp model holds one decoder state
	m.mu.Lock()
	defer m.mu.Unlock()

	wctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create whisper context: %w", err)
	}
	language := "en"
	if !englishOnly(m.id) {
		language = m.cfg.Language
		if language == "" {
			language = "auto"
		}
	}
	if err := wctx.SetLanguage(language); err != nil {
		return "", fmt.Errorf("set language %q: %w", language, err)
	}
	if m.cfg.Threads > 0 {
		wctx.SetThreads(uint(m.cfg.Threads))
	}
	wctx.SetTranslate(false)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}
	return strings.Join(parts, " "), nil
}
