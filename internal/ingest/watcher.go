package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	Ignore      []string      // directories never watched, e.g. the output root
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // coalesce rapid create/write/rename bursts
}

// StartWatcher watches cfg.Roots for PDFs and emits them in sorted batches once
// no new activity has been seen for cfg.Debounce. Both channels are closed when
// ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan []string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan []string, 16)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	ignored := func(path string) bool {
		for _, ig := range cfg.Ignore {
			if ig != "" && within(ig, path) {
				return true
			}
		}
		return false
	}
	pending := map[string]struct{}{}

	// addDir watches root and every directory below it; with scan it also
	// queues the PDFs already there.
	addDir := func(root string, scan bool) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && ignored(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if scan && Candidate(d.Name()) && !ignored(path) {
				pending[path] = struct{}{}
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r, cfg.InitialScan); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}
	logger.Info("watching for new documents", "roots", cfg.Roots, "debounce", cfg.Debounce.String())

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func(w *fsnotify.Watcher) {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}(w)

		flush := func() {
			if len(pending) == 0 {
				return
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			clear(pending)
			select {
			case evCh <- batch:
				logger.Debug("emitted document batch", "documents", len(batch))
			case <-ctx.Done():
			}
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		arm := func() {
			if cfg.Debounce <= 0 {
				flush()
				return
			}
			if timer == nil {
				timer = time.NewTimer(cfg.Debounce)
			} else {
				timer.Reset(cfg.Debounce)
			}
			timerC = timer.C
		}
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		if len(pending) > 0 {
			arm()
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-timerC:
				timerC = nil
				flush()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if ignored(e.Name) {
					continue
				}
				if e.Has(fsnotify.Create) {
					if st, err := os.Stat(e.Name); err == nil && st.IsDir() {
						// files copied in together with the directory are picked up by the scan
						if err := addDir(e.Name, true); err != nil {
							logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
						}
						arm()
						continue
					}
				}
				if !Candidate(filepath.Base(e.Name)) {
					continue
				}
				switch {
				case e.Has(fsnotify.Remove):
					delete(pending, e.Name)
				case e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename):
					if e.Has(fsnotify.Rename) {
						// renamed away from this name
						if _, err := os.Stat(e.Name); err != nil {
							delete(pending, e.Name)
							continue
						}
					}
					pending[e.Name] = struct{}{}
					arm()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
