package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"curator/internal/api"
	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/curator"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/preflight"
	"curator/internal/processor"
	"curator/internal/store"
	"curator/internal/watch"
)

// Options carries the collaborators assembled by the process entry point.
// Metrics, Notifier, LogHub and Events may be nil.
type Options struct {
	Config    *config.Config
	Store     *store.Store
	Curator   *curator.Curator
	Processor *processor.Manager
	Events    *events.Hub
	Metrics   *metrics.Metrics
	Notifier  notifications.Service
	LogHub    *logging.StreamHub
	LogPath   string
	Logger    *slog.Logger
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	curator   *curator.Curator
	processor *processor.Manager
	hub       *events.Hub
	metrics   *metrics.Metrics
	notifier  notifications.Service
	logHub    *logging.StreamHub
	logPath   string
	assets    *api.AssetService
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	mu           sync.Mutex
	running      atomic.Bool
	watching     atomic.Bool
	cachesLoaded bool
	cancel       context.CancelFunc
	watcher      *watch.Watcher
	saveDone     chan struct{}

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New constructs a daemon with initialized dependencies.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil || opts.Store == nil || opts.Curator == nil || opts.Processor == nil {
		return nil, errors.New("daemon requires config, store, curator, and processor")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.Noop()
	}
	hub := opts.Events
	if hub == nil {
		hub = events.NewHub()
	}
	lockPath := opts.Config.LockPath()
	d := &Daemon{
		cfg:       opts.Config,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     opts.Store,
		curator:   opts.Curator,
		processor: opts.Processor,
		hub:       hub,
		metrics:   opts.Metrics,
		notifier:  notifier,
		logHub:    opts.LogHub,
		logPath:   opts.LogPath,
		assets:    api.NewAssetService(opts.Curator),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		shutdown:  make(chan struct{}),
	}
	d.api = newAPIServer(opts.Config, d, logger)
	return d, nil
}

// Start acquires the daemon lock, restores caches, scans the data
// directories, and launches the watcher and worker pool.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator daemon instance is already running")
	}

	if failed := preflight.Failed(preflight.RunAll(ctx, d.cfg)); len(failed) > 0 {
		_ = d.lock.Unlock()
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if !d.cachesLoaded {
		d.cachesLoaded = true
		if err := d.curator.LoadCaches(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "cache restore failed", "cache_restore_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "all assets will be rehashed"))
		}
	}
	d.curator.Start(runCtx)
	if err := d.scan(runCtx); err != nil {
		cancel()
		d.curator.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("initial scan: %w", err)
	}

	if d.cfg.Scanner.Watch {
		w := watch.New(d.curator.Matcher(), scanTarget{d}, d.cfg.WatchDebounce(), d.logger)
		if err := w.Start(runCtx); err != nil {
			logging.WarnWithContext(d.logger, "file watcher unavailable", "watch_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "changes are only picked up by explicit scans"),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches or run curator scan"))
		} else {
			d.watcher = w
			d.watching.Store(true)
		}
	}

	if err := d.processor.Start(runCtx); err != nil {
		if d.watcher != nil {
			d.watcher.Stop()
			d.watcher = nil
			d.watching.Store(false)
		}
		cancel()
		d.curator.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	d.saveDone = make(chan struct{})
	go d.saveLoop(runCtx, d.saveDone)
	go d.pumpWorkerLogs(runCtx)

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("curator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("platform", d.curator.Platform()),
		logging.Int("assets", d.curator.Stats().Total))
	return nil
}

// Stop drains the worker pool, persists caches, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.processor.Stop()
	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
		d.watching.Store(false)
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.saveDone != nil {
		<-d.saveDone
		d.saveDone = nil
	}
	d.curator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.curator.SaveCaches(ctx); err != nil {
		logging.ErrorWithContext(d.logger, "final cache save failed", "cache_save_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start rehashes changed files"))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
}

// RequestShutdown asks the hosting process to exit.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} { return d.shutdown }

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.api.stop()
	return nil
}

// Running reports whether the pool and watcher are active.
func (d *Daemon) Running() bool { return d.running.Load() }

// ServeAPI starts the HTTP server when an API bind address is configured.
func (d *Daemon) ServeAPI(ctx context.Context) error {
	return d.api.start(ctx)
}

func (d *Daemon) saveLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := d.cfg.CacheSaveInterval()
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.curator.SaveCaches(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "periodic cache save failed", "cache_save_failed",
					logging.Error(err))
			}
		}
	}
}

// pumpWorkerLogs republishes worker output to event subscribers.
func (d *Daemon) pumpWorkerLogs(ctx context.Context) {
	logs := d.processor.Logs()
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-logs:
			id, _ := uuid.Parse(line.AssetID)
			d.hub.Publish(events.Event{
				Kind:    events.WorkerLog,
				AssetID: id,
				Slot:    line.Slot,
				Log:     &asset.LogEntry{Level: line.Entry.Level, Message: line.Entry.Message},
			})
		}
	}
}

func (d *Daemon) scan(ctx context.Context) error {
	err := d.curator.CheckFileSystem(ctx)
	d.metrics.ObserveScan()
	return err
}

// scanTarget routes watcher rescans through the daemon so they are counted.
type scanTarget struct{ d *Daemon }

func (t scanTarget) NotifyFileChange(ctx context.Context, path string) error {
	return t.d.curator.NotifyFileChange(ctx, path)
}

func (t scanTarget) CheckFileSystem(ctx context.Context) error {
	return t.d.scan(ctx)
}

// Assets exposes read-only asset queries.
func (d *Daemon) Assets() *api.AssetService { return d.assets }

// Events exposes the curator event hub.
func (d *Daemon) Events() *events.Hub { return d.hub }

// Metrics exposes the Prometheus collectors; may be nil.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

// LogStream returns the in-memory log hub; may be nil.
func (d *Daemon) LogStream() *logging.StreamHub { return d.logHub }

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string { return d.logPath }

// Scan runs a full filesystem sweep.
func (d *Daemon) Scan(ctx context.Context) (api.Stats, error) {
	if err := d.scan(ctx); err != nil {
		return api.Stats{}, err
	}
	return d.assets.Stats(), nil
}

// Retry clears a sticky transform error on one asset.
func (d *Daemon) Retry(ref string) (api.AssetView, error) {
	info, err := d.assets.Resolve(ref)
	if err != nil {
		return api.AssetView{}, err
	}
	if err := d.curator.Retry(info.ID); err != nil {
		return api.AssetView{}, err
	}
	return d.assets.Describe(info.ID.String())
}

// RetryFailed clears every sticky transform error and returns how many assets were affected.
func (d *Daemon) RetryFailed() int {
	return d.curator.InvalidateWithState(asset.StateTransformError)
}

// Transform explicitly requests one asset, including manual-only types.
func (d *Daemon) Transform(ref string) (api.AssetView, error) {
	info, err := d.assets.Resolve(ref)
	if err != nil {
		return api.AssetView{}, err
	}
	if err := d.curator.Transform(info.ID); err != nil {
		return api.AssetView{}, err
	}
	return d.assets.Describe(info.ID.String())
}

// TransformAll requests every asset and returns how many were queued.
func (d *Daemon) TransformAll() int {
	return d.curator.TransformAll()
}

// SetPlatform switches the active target platform.
func (d *Daemon) SetPlatform(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("platform name is required")
	}
	return d.curator.SetActivePlatform(ctx, name)
}

// SaveCaches persists curator caches immediately.
func (d *Daemon) SaveCaches(ctx context.Context) error {
	return d.curator.SaveCaches(ctx)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Platform:     d.curator.Platform(),
		CacheDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		APIBind:      d.api.address(),
		Stats:        d.assets.Stats(),
		Pool:         d.processor.Status(),
		Watching:     d.watching.Load(),
	}
	if at, ok, err := d.store.LastFullTransform(ctx); err == nil && ok {
		status.LastFullTransform = at.UTC().Format(time.RFC3339)
	}
	health, err := d.store.CheckHealth(ctx)
	if err != nil && health.Error == "" {
		health.Error = err.Error()
	}
	status.Cache = &health
	for _, dep := range preflight.CheckSystemDeps(ctx, d.cfg) {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return status
}
