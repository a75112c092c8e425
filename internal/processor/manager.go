package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/worker"
)

// Curator is what the manager needs from the asset curator.
type Curator interface {
	worker.Scheduler
	WorkAvailable() <-chan struct{}
}

// Options wires a Manager. Events and Metrics may be nil.
type Options struct {
	Config  *config.Config
	Curator Curator
	Logger  *slog.Logger
	Events  events.Publisher
	Metrics *metrics.Metrics

	// Notifier receives crash alerts when Notifications.CrashAlerts is set.
	Notifier notifications.Service

	// LogBuffer bounds the forwarding log channel.
	LogBuffer int
}

// Manager supervises the worker slots.
type Manager struct {
	cfg          *config.Config
	cur          Curator
	logger       *slog.Logger
	workerLogger *slog.Logger
	metrics      *metrics.Metrics
	notifier     notifications.Service

	slots []*worker.Slot
	wake  chan struct{}
	logs  chan worker.LogLine

	droppedLogs atomic.Uint64
	dispatched  atomic.Uint64

	mu       sync.RWMutex
	running  bool
	draining bool
	stop     chan struct{}
	done     chan struct{}
	lastErr  string
	lastDone *Completion
}

// Completion describes the most recently finished assignment.
type Completion struct {
	AssetID      string              `json:"asset_id"`
	RelativePath string              `json:"relative_path"`
	Mode         asset.Mode          `json:"mode"`
	Status       asset.OutcomeStatus `json:"status"`
	Message      string              `json:"message,omitempty"`
	Duration     time.Duration       `json:"duration"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// New constructs a Manager with one idle slot per configured worker.
func New(opts Options) (*Manager, error) {
	if opts.Config == nil || opts.Curator == nil {
		return nil, errors.New("processor: config and curator are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	buffer := opts.LogBuffer
	if buffer <= 0 {
		buffer = 256
	}
	notifier := opts.Notifier
	if notifier == nil || !opts.Config.Notifications.CrashAlerts {
		notifier = notifications.Noop()
	}
	m := &Manager{
		cfg:          opts.Config,
		cur:          opts.Curator,
		logger:       logging.NewComponentLogger(logger, "processor"),
		workerLogger: logging.NewComponentLogger(logger, "worker"),
		metrics:      opts.Metrics,
		notifier:     notifier,
		wake:         make(chan struct{}, 1),
		logs:         make(chan worker.LogLine, buffer),
	}

	cfg := opts.Config
	launch := worker.LaunchOptions{
		Binary:    cfg.Workers.Binary,
		ExtraArgs: cfg.Workers.ExtraArgs,
		AppName:   cfg.Project.AppName,
		Project:   cfg.Project.File,
	}
	count := cfg.Workers.Count
	if count <= 0 {
		count = 1
	}
	for i := range count {
		m.slots = append(m.slots, worker.NewSlot(worker.SlotOptions{
			ID:        i,
			Launch:    launch,
			OutputDir: cfg.Paths.OutputDir,
			Scheduler: opts.Curator,
			Logger:    logger,
			Events:    opts.Events,
			Notify:    m.notify,
			OnLog:     m.forwardLog,
			OnFinish:  m.recordCompletion,
		}))
	}
	return m, nil
}

func (m *Manager) notify() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("processor already running")
	}
	m.running = true
	m.draining = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.logger.Info("worker pool started",
		logging.Int("slots", len(m.slots)),
		logging.String("binary", m.cfg.Workers.Binary),
		logging.String("platform", m.cur.Platform()))
	go m.run(ctx, stop, done)
	return nil
}

// Stop stops dispatching, waits for in-flight assignments to finish, and
// shuts the worker processes down. It is a no-op when not running.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	stop, done := m.stop, m.done
	if !m.draining {
		m.draining = true
		close(stop)
	}
	m.mu.Unlock()

	<-done
}

// Running reports whether the dispatch loop is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Logs delivers worker log lines. Lines are dropped when the reader lags.
func (m *Manager) Logs() <-chan worker.LogLine { return m.logs }

// Slots exposes the slot pool.
func (m *Manager) Slots() []*worker.Slot { return m.slots }

func (m *Manager) forwardLog(line worker.LogLine) {
	attrs := []logging.Attr{logging.Slot(line.Slot)}
	if line.AssetID != "" {
		attrs = append(attrs, logging.AssetID(line.AssetID))
	}
	m.workerLogger.Log(context.Background(), workerLevel(line.Entry.Level), line.Entry.Message, logging.Args(attrs...)...)

	select {
	case m.logs <- line:
	default:
		m.droppedLogs.Add(1)
	}
}

func (m *Manager) recordCompletion(slot int, asg asset.Assignment, outcome asset.Outcome, elapsed time.Duration) {
	done := &Completion{
		AssetID:      asg.ID.String(),
		RelativePath: asg.RelativePath,
		Mode:         asg.Mode,
		Status:       outcome.Status,
		Message:      outcome.Message,
		Duration:     elapsed,
		FinishedAt:   time.Now(),
	}
	m.mu.Lock()
	m.lastDone = done
	if outcome.Status == asset.OutcomeFailed || outcome.Status == asset.OutcomeCrashed {
		m.lastErr = outcome.Message
	}
	m.mu.Unlock()
	m.metrics.ObserveCompletion(slot, asg.Mode, outcome.Status, elapsed)

	if outcome.Status == asset.OutcomeCrashed {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := m.notifier.NotifyWorkerCrashed(ctx, slot, asg.RelativePath, outcome.Message); err != nil {
				m.logger.Warn("crash notification failed", logging.Error(err))
			}
		}()
	}
}

func workerLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
