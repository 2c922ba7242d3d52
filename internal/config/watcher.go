package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the store when configuration files change on disk and
// signals listeners through a channel.
type Watcher struct {
	watcher  *fsnotify.Watcher
	store    *Store
	logger   *slog.Logger
	reloadCh chan struct{}
}

// StartWatcher begins watching the store's directory and its
// subdirectories for configuration changes.
func StartWatcher(store *Store, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		watcher:  fsw,
		store:    store,
		logger:   logger,
		reloadCh: make(chan struct{}, 1),
	}

	if err := filepath.Walk(store.Dir(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.watch()
	return w, nil
}

// ReloadChan receives one notification per successful reload. The
// channel is never closed, Stop ends the stream.
func (w *Watcher) ReloadChan() <-chan struct{} {
	return w.reloadCh
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Skip editor temp files and anything that is not yaml.
			base := filepath.Base(event.Name)
			if strings.HasPrefix(base, ".") || !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) {
				w.reload(event.Name)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(path string) {
	w.logger.Info("detected configuration change", "path", path)

	if err := w.store.Load(); err != nil {
		// The store keeps serving the previous set.
		w.logger.Error("failed to reload configurations",
			"error", err,
			"path", path,
		)
		return
	}

	w.logger.Info("configurations reloaded")

	select {
	case w.reloadCh <- struct{}{}:
	default:
	}
}

// Stop ends the watch loop.
func (w *Watcher) Stop() error {
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}
