package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/schaermu/sitepatch/internal/fileset"
)

// RunFunc performs one patch run
type RunFunc func(ctx context.Context) error

// Watcher re-runs the patcher when files in the watched directories change
type Watcher struct {
	opts       fileset.Options
	run        RunFunc
	logger     *slog.Logger
	runMu      sync.Mutex // guards runRunning, runPending and stopped
	runIdle    *sync.Cond // signalled when runRunning turns false
	runRunning bool       // whether a run is currently in progress
	runPending bool       // whether another run is needed after the current one
	stopped    bool       // no new runs start once set
	debounce   *debouncer
}

// debouncer implements debouncing for file events
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// New creates a watcher for the directories selected by opts
func New(opts fileset.Options, delay time.Duration, run RunFunc, logger *slog.Logger) *Watcher {
	w := &Watcher{
		opts:     opts,
		run:      run,
		logger:   logger,
		debounce: &debouncer{delay: delay},
	}
	w.runIdle = sync.NewCond(&w.runMu)
	return w
}

// Start performs an initial run, then watches until ctx is cancelled
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	dirs, err := w.watchDirs()
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("none of the configured directories exist under %s", w.opts.Root)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.logger.Info("performing initial run before watching")
	w.performRun(ctx)

	w.logger.Info("watching for changes", "dirs", dirs, "debounce", w.debounce.delay)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping watcher")
			w.debounce.stop()
			w.shutdown()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// handleEvent filters an fsnotify event and schedules a run if relevant
func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	if fileset.IsHidden(event.Name) {
		return
	}

	// New subdirectories join the watch in recursive mode
	if w.opts.Recursive && event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fsw.Add(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			} else {
				w.logger.Debug("watching new directory", "dir", event.Name)
			}
			w.trigger(ctx)
			return
		}
	}

	if !relevant(event, w.opts.Extensions) {
		return
	}

	w.logger.Debug("change detected", "file", event.Name, "op", event.Op.String())
	w.trigger(ctx)
}

func (w *Watcher) trigger(ctx context.Context) {
	w.debounce.trigger(func() {
		w.performRun(ctx)
	})
}

// relevant reports whether event may have changed a patchable file
func relevant(event fsnotify.Event, extensions []string) bool {
	if len(extensions) == 0 {
		extensions = fileset.DefaultExtensions
	}
	if !fileset.HasExtension(event.Name, extensions) {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// watchDirs lists the existing directories to register with fsnotify
func (w *Watcher) watchDirs() ([]string, error) {
	var dirs []string
	for _, dir := range w.opts.DirPaths() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			w.logger.Debug("skipping missing directory", "dir", dir)
			continue
		}
		if !w.opts.Recursive {
			dirs = append(dirs, dir)
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if path != dir && fileset.IsHidden(path) {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
		}
	}
	return dirs, nil
}

// performRun executes a patch run with single-flight semantics.
// If a run is already in progress, at most one additional run is queued;
// further triggers are dropped.
func (w *Watcher) performRun(ctx context.Context) {
	w.runMu.Lock()
	if w.stopped {
		w.runMu.Unlock()
		return
	}
	if w.runRunning {
		w.runPending = true
		w.runMu.Unlock()
		w.logger.Debug("run already in progress, queuing pending re-run")
		return
	}
	w.runRunning = true
	w.runMu.Unlock()

	for {
		if ctx.Err() != nil {
			w.runMu.Lock()
			w.runRunning = false
			w.runPending = false
			w.runIdle.Broadcast()
			w.runMu.Unlock()
			return
		}

		if err := w.run(ctx); err != nil {
			w.logger.Error("patch run failed", "error", err)
		}

		w.runMu.Lock()
		if !w.runPending || w.stopped {
			w.runRunning = false
			w.runPending = false
			w.runIdle.Broadcast()
			w.runMu.Unlock()
			break
		}
		w.runPending = false
		w.runMu.Unlock()

		w.logger.Debug("re-running due to pending request")
	}
}

// shutdown blocks further runs and waits for the one in flight, so a run
// is never cut off between writing a temp file and renaming it.
func (w *Watcher) shutdown() {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.stopped = true
	for w.runRunning {
		w.logger.Info("waiting for in-flight run to finish")
		w.runIdle.Wait()
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}

// stop cancels a scheduled callback
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.callback = nil
}
