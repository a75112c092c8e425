// Package watch turns fsnotify events under the data directories into
// debounced curator file notifications.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"curator/internal/logging"
	"curator/internal/scan"
)

// Target receives file notifications.
type Target interface {
	NotifyFileChange(ctx context.Context, path string) error
	CheckFileSystem(ctx context.Context) error
}

// Watcher follows every non-ignored directory under the data directories.
type Watcher struct {
	matcher  *scan.Matcher
	target   Target
	logger   *slog.Logger
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]struct{}
	rescan  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher. Nothing is watched until Start.
func New(matcher *scan.Matcher, target Target, debounce time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{
		matcher:  matcher,
		target:   target,
		logger:   logging.NewComponentLogger(logger, "watch"),
		debounce: debounce,
		pending:  make(map[string]struct{}),
	}
}

// Start registers the data directories and begins delivering changes.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, dir := range w.matcher.DataDirs() {
		if err := w.addTree(dir); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.loop(runCtx)
	w.logger.Info("watching data directories", logging.Int("dirs", len(fsw.WatchList())))
	return nil
}

// Stop ends watching and waits for the delivery loop.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	w.wg.Wait()
	_ = w.fsw.Close()
	w.cancel = nil
}

func (w *Watcher) addTree(root string) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.matcher.Classify(path).Kind == scan.KindIgnored {
			return fs.SkipDir
		}
		return w.fsw.Add(path)
	})
	if errors.Is(err, fs.SkipDir) {
		return nil
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.handle(evt) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "file watcher error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a full rescan is scheduled"))
			w.mu.Lock()
			w.rescan = true
			w.mu.Unlock()
			timer.Reset(w.debounce)
		case <-timer.C:
			w.flush(ctx)
		}
	}
}

// handle queues evt and reports whether anything was queued.
func (w *Watcher) handle(evt fsnotify.Event) bool {
	if evt.Op == fsnotify.Chmod {
		return false
	}
	path := filepath.Clean(evt.Name)
	if w.matcher.Classify(path).Kind == scan.KindIgnored {
		return false
	}
	if evt.Op.Has(fsnotify.Create) {
		if st, err := os.Stat(path); err == nil && st.IsDir() {
			if err := w.addTree(path); err != nil {
				w.logger.Warn("watch new directory", logging.Path(path), logging.Error(err))
			}
			// Files copied in together with the directory produced no events.
			w.mu.Lock()
			w.rescan = true
			w.mu.Unlock()
			return true
		}
	}
	w.mu.Lock()
	w.pending[path] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	rescan := w.rescan
	w.rescan = false
	w.mu.Unlock()

	if rescan {
		if err := w.target.CheckFileSystem(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("rescan failed", logging.Error(err))
		}
		return
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := w.target.NotifyFileChange(ctx, p); err != nil && ctx.Err() == nil {
			w.logger.Warn("file change", logging.Path(p), logging.Error(err))
		}
	}
	if len(paths) > 0 {
		w.logger.Debug("file changes delivered", logging.Int("count", len(paths)))
	}
}
