package stt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Cache maps model ids to loaded models for the life of the process. Entries
// are never evicted. Concurrent first use of one id shares a single load.
type Cache struct {
	loader Loader
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	models map[string]Model
	loads  singleflight.Group
}

func NewCache(loader Loader, logger *slog.Logger) *Cache {
	return &Cache{
		loader: loader,
		logger: logger.With(slog.String("component", "model-cache")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-capture/stt"),
		models: make(map[string]Model),
	}
}

// Get returns the cached model for id, loading it on first use. A load
// outlives the caller that triggered it, since other callers may be waiting
// on the same load.
func (c *Cache) Get(ctx context.Context, id string) (Model, error) {
	if m, ok := c.lookup(id); ok {
		return m, nil
	}

	ch := c.loads.DoChan(id, func() (any, error) {
		if m, ok := c.lookup(id); ok {
			return m, nil
		}
		return c.load(context.WithoutCancel(ctx), id)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) load(ctx context.Context, id string) (Model, error) {
	ctx, span := c.tracer.Start(ctx, "model.load", trace.WithAttributes(attribute.String("model", id)))
	defer span.End()

	start := time.Now()
	m, err := c.loader.Load(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load model %s: %w", id, err)
	}

	c.mu.Lock()
	c.models[id] = m
	c.mu.Unlock()

	c.logger.Info("model loaded", slog.String("model", id), slog.Duration("latency", time.Since(start)))
	return m, nil
}

func (c *Cache) lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	return m, ok
}

// Loaded returns the ids currently cached, sorted.
func (c *Cache) Loaded() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.models))
	for id := range c.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}
