// Package runtime wires the capture supervisor, transcription dispatcher and
// catalog behind the HTTP control surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-capture/internal/bus"
	"github.com/loqalabs/loqa-capture/internal/capture"
	"github.com/loqalabs/loqa-capture/internal/catalog"
	"github.com/loqalabs/loqa-capture/internal/config"
	"github.com/loqalabs/loqa-capture/internal/eventstore"
	"github.com/loqalabs/loqa-capture/internal/natsserver"
	"github.com/loqalabs/loqa-capture/internal/stt"
	"github.com/loqalabs/loqa-capture/internal/transcribe"
)

type Runtime struct {
	cfg            config.Config
	logger         *slog.Logger
	httpServer     *http.Server
	telemetryClose func(context.Context) error
	ready          atomic.Bool
	wg             sync.WaitGroup

	supervisor *capture.Supervisor
	catalog    *catalog.Catalog
	models     *stt.Cache
	dispatcher *transcribe.Dispatcher
	events     *eventstore.Store
	nats       *natsserver.EmbeddedServer
	bus        *bus.Client
	metrics    *metrics
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is done, then stops any active recording
// and releases every component.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	if err := r.init(watchCtx); err != nil {
		r.close(context.Background())
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("storage", r.cfg.Storage.Directory),
		slog.String("transcription_mode", r.cfg.Transcription.Mode))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	// the capture stop grace period fits inside the shutdown budget
	if res := r.supervisor.Stop(shutdownCtx); res.Outcome != capture.OutcomeIdle {
		r.logger.Info("stopped active recording on shutdown",
			slog.String("file", res.Session.FileName),
			slog.String("outcome", string(res.Outcome)))
	}
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.close(shutdownCtx)
	return runErr
}

// init builds every component. ctx bounds background work such as the
// storage watcher.
func (r *Runtime) init(ctx context.Context) error {
	events, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	r.events = events

	if r.cfg.Bus.Enabled {
		r.nats, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		busCfg := r.cfg.Bus
		if r.nats != nil {
			busCfg.Servers = []string{r.nats.ClientURL()}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return err
		}
	}

	loader, err := stt.NewLoader(r.cfg.Transcription, r.logger)
	if err != nil {
		return fmt.Errorf("init transcription backend: %w", err)
	}
	r.models = stt.NewCache(loader, r.logger)

	r.catalog = catalog.New(r.cfg.Storage, stt.SupportedModels(), r.logger)
	if err := r.catalog.Rebuild(); err != nil {
		return fmt.Errorf("scan storage: %w", err)
	}
	if _, err := r.catalog.RemovePartials(); err != nil {
		r.logger.Warn("failed to remove partial transcripts", slog.String("error", err.Error()))
	}

	r.metrics, err = newMetrics(
		func() bool { return r.supervisor != nil && r.supervisor.Status() },
		func() int { return r.models.Len() },
	)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	n := &notifier{
		index:   r.catalog.Index(),
		events:  r.events,
		bus:     r.bus,
		metrics: r.metrics,
		logger:  r.logger,
		clock:   time.Now,
	}
	r.supervisor, err = capture.New(r.cfg.Capture, r.cfg.Storage, r.logger, n)
	if err != nil {
		return fmt.Errorf("init capture supervisor: %w", err)
	}
	r.dispatcher = transcribe.New(r.cfg.Transcription, r.catalog, r.models, r.supervisor, r.logger, n)

	if r.cfg.Storage.Watch {
		if err := r.catalog.Watch(ctx); err != nil {
			return fmt.Errorf("watch storage: %w", err)
		}
	}
	if r.bus != nil {
		if err := r.registerControl(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) close(ctx context.Context) {
	r.bus.Close()
	r.nats.Shutdown()
	if r.events != nil {
		if err := r.events.Close(); err != nil {
			r.logger.Error("event store close error", slog.String("error", err.Error()))
		}
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
