package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch folds files added or removed out of band into the index until ctx is
// done. Transcripts written by an in-flight job are left to that job.
func (c *Catalog) Watch(ctx context.Context) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(c.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}
	// pick up anything that landed between the initial scan and Add
	if err := c.Rebuild(); err != nil {
		c.logger.Warn("catalog rescan failed", slog.String("error", err.Error()))
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.apply(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("storage watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	c.logger.Info("watching storage directory", slog.String("dir", c.dir))
	return nil
}

func (c *Catalog) apply(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	created := event.Has(fsnotify.Create)
	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	if c.isRecording(name) {
		switch {
		case created:
			c.index.AddRecording(name)
		case removed:
			c.index.RemoveRecording(name)
		}
		return
	}

	rec, model, ok := c.ParseTranscriptName(name)
	if !ok || c.index.pendingJob(rec, model) {
		return
	}
	switch {
	case created && c.index.HasRecording(rec):
		c.index.markTranscribed(rec, model)
	case removed:
		c.index.unmarkTranscribed(rec, model)
	}
}
