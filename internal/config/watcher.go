package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration file when it changes on disk and hands
// the validated result to the apply callback. Only runtime-tunable fields
// are expected to be acted on; a reload that fails validation is logged
// and skipped, never fatal.
type Watcher struct {
	path    string
	apply   func(*Config)
	watcher *fsnotify.Watcher
}

// NewWatcher watches the directory containing path (editors replace files,
// so watching the file itself misses renames).
func NewWatcher(path string, apply func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: failed to create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, apply: apply, watcher: fw}, nil
}

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.watcher.Close()

		// Debounce: editors fire several events per save.
		var pending <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				pending = time.After(250 * time.Millisecond)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watch error", "error", err)

			case <-pending:
				pending = nil
				cfg, err := Load(w.path)
				if err != nil {
					slog.Warn("config: reload failed, keeping previous config",
						"path", w.path,
						"error", err,
					)
					continue
				}
				slog.Info("config: reloaded", "path", w.path)
				w.apply(cfg)
			}
		}
	}()
}
