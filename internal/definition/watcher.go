package definition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/openapi"
)

// ReloadFunc reloads definitions after a change on disk. A non-nil error
// means the previous definitions stay in effect.
type ReloadFunc func() error

// Watcher triggers a debounced reload whenever a definition file under the
// watched directories is created, written, removed or renamed.
type Watcher struct {
	directories []string
	debounce    time.Duration
	reload      ReloadFunc
	logger      *zap.Logger
	onResult    func(err error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithReloadResult registers a callback receiving each reload outcome.
func WithReloadResult(fn func(err error)) WatcherOption {
	return func(w *Watcher) { w.onResult = fn }
}

// NewWatcher creates a Watcher over directories. A non-positive debounce
// defaults to 250ms.
func NewWatcher(directories []string, debounce time.Duration, reload ReloadFunc, opts ...WatcherOption) *Watcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	w := &Watcher{
		directories: directories,
		debounce:    debounce,
		reload:      reload,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is cancelled. Subdirectories present at start are
// watched too; directories created later are added as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("definition: creating watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range w.directories {
		if err := addTree(fw, dir); err != nil {
			return fmt.Errorf("definition: watching %s: %w", dir, err)
		}
	}
	w.logger.Info("watching definitions", zap.Strings("directories", w.directories))

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addTree(fw, event.Name)
					continue
				}
			}
			if !isDefinitionFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			w.logger.Debug("definition change detected",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("definition watcher error", zap.Error(err))

		case <-timer.C:
			err := w.reload()
			if err != nil {
				w.logger.Error("definition reload failed, keeping previous definitions", zap.Error(err))
			} else {
				w.logger.Info("definitions reloaded")
			}
			if w.onResult != nil {
				w.onResult(err)
			}
		}
	}
}

// RegistryReloader returns a ReloadFunc that reloads and validates the
// definitions under directories and swaps them into registry on success.
func RegistryReloader(registry *Registry, directories []string, index *openapi.Index) ReloadFunc {
	return func() error {
		defs, err := LoadAndValidate(directories, index)
		if err != nil {
			return err
		}
		registry.Replace(defs)
		return nil
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(path)
		}
		return nil
	})
}
