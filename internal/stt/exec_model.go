package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-capture/internal/config"
	"github.com/mattn/go-shellwords"
)

// execLoader runs an external transcription command per request. The command
// receives the audio path and model id as flags and answers with
// {"text": "..."} on stdout.
type execLoader struct {
	cmd []string
	cfg config.TranscriptionConfig
}

type execModel struct {
	id        string
	cmd       []string
	modelPath string
	cfg       config.TranscriptionConfig
	mu        sync.Mutex
}

type execResult struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func NewExecLoader(cfg config.TranscriptionConfig) (Loader, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcription command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcription command is empty")
	}
	return &execLoader{cmd: args, cfg: cfg}, nil
}

func (l *execLoader) Load(_ context.Context, id string) (Model, error) {
	if _, err := exec.LookPath(l.cmd[0]); err != nil {
		return nil, fmt.Errorf("transcription command: %w", err)
	}
	m := &execModel{id: id, cmd: l.cmd, cfg: l.cfg}
	if l.cfg.ModelDir != "" {
		path := filepath.Join(l.cfg.ModelDir, modelFileName(id))
		if _, err := os.Stat(path); err == nil {
			m.modelPath = path
		}
	}
	return m, nil
}

func (m *execModel) ID() string { return m.id }

func (m *execModel) Transcribe(ctx context.Context, audioPath string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := append([]string{}, m.cmd[1:]...)
	args = append(args, "--audio", audioPath, "--model", m.id)
	if m.modelPath != "" {
		args = append(args, "--model-path", m.modelPath)
	}
	if m.cfg.Language != "" {
		args = append(args, "--language", m.cfg.Language)
	}
	if m.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(m.cfg.Threads))
	}
	// CPU inference only; half precision is not supported there.
	args = append(args, "--no-fp16")

	command := exec.CommandContext(ctx, m.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("transcription command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("transcription command: %s", resp.Error)
	}
	return resp.Text, nil
}
