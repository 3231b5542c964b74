// Package capture supervises the single external capture process that writes
// recordings into the storage directory.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-capture/internal/apperr"
	"github.com/loqalabs/loqa-capture/internal/config"
	"github.com/mattn/go-shellwords"
)

// Outcome describes how a session ended.
type Outcome string

const (
	OutcomeIdle     Outcome = "idle"
	OutcomeGraceful Outcome = "graceful"
	OutcomeForced   Outcome = "forced"
	OutcomeExited   Outcome = "exited"
)

// Session describes one recording from start to stop.
type Session struct {
	ID        string
	FileName  string
	Path      string
	PID       int
	StartedAt time.Time
}

// StopResult reports what Stop did. Callers always treat it as success.
type StopResult struct {
	Session Session
	Outcome Outcome
}

// Listener observes session transitions. Calls are made outside the
// supervisor lock and must not call back into the supervisor.
type Listener interface {
	RecordingStarted(Session)
	RecordingStopped(Session, Outcome)
}

// Supervisor owns at most one live capture process.
type Supervisor struct {
	argv     []string
	cfg      config.CaptureConfig
	dir      string
	ext      string
	timeout  time.Duration
	logger   *slog.Logger
	listener Listener
	clock    func() time.Time
	command  func(name string, args ...string) *exec.Cmd

	mu       sync.Mutex
	active   *session
	stopping *session
}

type session struct {
	info      Session
	cmd       *exec.Cmd
	stderr    bytes.Buffer
	done      chan struct{}
	announced chan struct{}
	waitErr   error
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// New builds a supervisor. listener may be nil.
func New(cfg config.CaptureConfig, storage config.StorageConfig, logger *slog.Logger, listener Listener) (*Supervisor, error) {
	parser := shellwords.NewParser()
	argv, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("capture command is empty")
	}
	timeout := time.Duration(cfg.StopTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Supervisor{
		argv:     argv,
		cfg:      cfg,
		dir:      storage.Directory,
		ext:      storage.Extension,
		timeout:  timeout,
		logger:   logger.With(slog.String("component", "capture-supervisor")),
		listener: listener,
		clock:    time.Now,
		command:  exec.Command,
	}, nil
}

// Start spawns the capture process. It fails with a conflict while a live
// session exists or a stop is still in flight, leaving that session untouched.
func (s *Supervisor) Start() (Session, error) {
	s.mu.Lock()
	sess, err := s.startLocked()
	s.mu.Unlock()
	if err != nil {
		return Session{}, err
	}

	s.logger.Info("recording started",
		slog.String("session_id", sess.info.ID),
		slog.String("file", sess.info.FileName),
		slog.Int("pid", sess.info.PID))
	if s.listener != nil {
		s.listener.RecordingStarted(sess.info)
	}
	close(sess.announced)
	return sess.info, nil
}

func (s *Supervisor) startLocked() (*session, error) {
	if s.active != nil && s.active.alive() {
		return nil, apperr.Conflict("start recording", "Already recording.")
	}
	if s.stopping != nil {
		return nil, apperr.Conflict("start recording", "Recording is stopping.")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, apperr.Internal("start recording", fmt.Errorf("create storage dir: %w", err))
	}

	now := s.clock()
	name := recordingName(s.cfg.FilePrefix, s.ext, now, existsIn(s.dir))
	path := filepath.Join(s.dir, name)

	args := append([]string{}, s.argv[1:]...)
	args = append(args,
		"-D", s.cfg.Device,
		"-f", s.cfg.Format,
		"-r", strconv.Itoa(s.cfg.SampleRate),
		"-c", strconv.Itoa(s.cfg.Channels),
		path,
	)

	sess := &session{
		done:      make(chan struct{}),
		announced: make(chan struct{}),
	}
	cmd := s.command(s.argv[0], args...)
	cmd.Stderr = &sess.stderr
	if err := cmd.Start(); err != nil {
		s.logger.Error("failed to spawn capture process",
			slog.String("command", s.argv[0]),
			slog.String("error", err.Error()))
		return nil, apperr.Internal("start recording", fmt.Errorf("spawn %s: %w", s.argv[0], err))
	}

	sess.cmd = cmd
	sess.info = Session{
		ID:        uuid.NewString(),
		FileName:  name,
		Path:      path,
		PID:       cmd.Process.Pid,
		StartedAt: now,
	}
	s.active = sess
	go s.reap(sess)
	return sess, nil
}

// reap waits for the process. A process that exits without Stop releases the
// session itself.
func (s *Supervisor) reap(sess *session) {
	waitErr := sess.cmd.Wait()

	// done closes under the lock so Start never sees a dead handle that
	// reap has not yet released
	s.mu.Lock()
	sess.waitErr = waitErr
	close(sess.done)
	own := s.active == sess
	if own {
		s.active = nil
	}
	s.mu.Unlock()
	if !own {
		return
	}

	<-sess.announced
	attrs := []any{
		slog.String("session_id", sess.info.ID),
		slog.String("file", sess.info.FileName),
	}
	if sess.waitErr != nil {
		attrs = append(attrs, slog.String("error", sess.waitErr.Error()))
	}
	if tail := strings.TrimSpace(sess.stderr.String()); tail != "" {
		attrs = append(attrs, slog.String("stderr", tail))
	}
	s.logger.Warn("capture process exited on its own", attrs...)
	if s.listener != nil {
		s.listener.RecordingStopped(sess.info, OutcomeExited)
	}
}

// Stop interrupts the live capture process, waits up to the stop timeout and
// then kills it. With no live session it does nothing. The session handle is
// released on every path, including cancellation of ctx, which escalates
// straight to a kill.
func (s *Supervisor) Stop(ctx context.Context) StopResult {
	s.mu.Lock()
	sess := s.active
	if sess == nil || !sess.alive() {
		// an exited process is released by reap
		s.mu.Unlock()
		return StopResult{Outcome: OutcomeIdle}
	}
	s.active = nil
	s.stopping = sess
	s.mu.Unlock()

	outcome := s.terminate(ctx, sess)

	s.mu.Lock()
	s.stopping = nil
	s.mu.Unlock()

	<-sess.announced
	s.logger.Info("recording stopped",
		slog.String("session_id", sess.info.ID),
		slog.String("file", sess.info.FileName),
		slog.String("outcome", string(outcome)),
		slog.Duration("duration", s.clock().Sub(sess.info.StartedAt)))
	if s.listener != nil {
		s.listener.RecordingStopped(sess.info, outcome)
	}
	return StopResult{Session: sess.info, Outcome: outcome}
}

func (s *Supervisor) terminate(ctx context.Context, sess *session) Outcome {
	if err := sess.cmd.Process.Signal(os.Interrupt); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			<-sess.done
			return OutcomeGraceful
		}
		s.logger.Warn("failed to interrupt capture process", slog.String("error", err.Error()))
		return s.kill(sess)
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-sess.done:
		return OutcomeGraceful
	case <-timer.C:
		s.logger.Warn("capture process ignored interrupt, killing",
			slog.Duration("timeout", s.timeout),
			slog.Int("pid", sess.info.PID))
	case <-ctx.Done():
		s.logger.Warn("stop interrupted, killing capture process",
			slog.String("error", ctx.Err().Error()),
			slog.Int("pid", sess.info.PID))
	}
	return s.kill(sess)
}

func (s *Supervisor) kill(sess *session) Outcome {
	if err := sess.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Error("failed to kill capture process", slog.String("error", err.Error()))
	}
	<-sess.done
	return OutcomeForced
}

// Status reports whether a capture process is stored and still running. A
// process inside its stop grace period still counts.
func (s *Supervisor) Status() bool {
	_, ok := s.Current()
	return ok
}

// Current returns the live session, if any, including one being stopped.
func (s *Supervisor) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range []*session{s.active, s.stopping} {
		if sess != nil && sess.alive() {
			return sess.info, true
		}
	}
	return Session{}, false
}
