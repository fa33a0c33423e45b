package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/async"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	Exclude     []string      // directories never reported (archive output areas)
	InitialScan bool          // if true, walk roots and emit existing files
	Debounce    time.Duration // per-file quiet period before a path is emitted
	Logger      *slog.Logger
}

// StartWatcher emits intake file paths once they stopped changing for cfg.Debounce.
// Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan string, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		logger.Error("watcher start failed: no roots provided")
		return nil, nil, errors.New("no roots provided")
	}
	excluded := func(path string) bool {
		for _, ex := range cfg.Exclude {
			if within(path, ex) {
				return true
			}
		}
		return false
	}
	wanted := func(path string) bool {
		return constants.IsAllowedExt(filepath.Ext(path)) && !IsHidden(path) && !excluded(path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && (IsHidden(path) || excluded(path)) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && wanted(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("failed to add root directory", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		var mu sync.Mutex
		timers := map[string]*time.Timer{}
		ready := make(chan string, 256)
		schedule := func(p string) {
			mu.Lock()
			defer mu.Unlock()
			if t, ok := timers[p]; ok {
				t.Reset(cfg.Debounce)
				return
			}
			timers[p] = time.AfterFunc(cfg.Debounce, func() {
				mu.Lock()
				delete(timers, p)
				mu.Unlock()
				select {
				case ready <- p:
				case <-ctx.Done():
				}
			})
		}
		defer func() {
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case p := <-ready:
				if !emit(p) {
					return
				}
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create && !IsHidden(e.Name) && !excluded(e.Name) {
					// directories created inside a root are watched too; files fail Add harmlessly
					_ = w.Add(e.Name)
				}
				if wanted(e.Name) && e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					if cfg.Debounce > 0 {
						schedule(e.Name)
					} else if !emit(e.Name) {
						return
					}
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

// Feed enqueues every path from events until the channel closes or ctx is done.
func Feed(ctx context.Context, events <-chan string, q async.Queue, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-events:
			if !ok {
				return
			}
			if err := q.Enqueue(ctx, async.NewJob(p)); err != nil {
				logger.Warn("failed to enqueue file", "path", p, "error", err)
				if errors.Is(err, async.ErrQueueClosed) {
					return
				}
			}
		}
	}
}
