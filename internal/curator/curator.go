package curator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/document"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/registry"
	"curator/internal/scan"
	"curator/internal/store"
)

// Options wires a Curator's collaborators. Store, Events and Notifier may
// be nil. The notifier receives full transform summaries.
type Options struct {
	Config   *config.Config
	Store    *store.Store
	Events   events.Publisher
	Logger   *slog.Logger
	Notifier notifications.Service
}

// Curator is the single authority over asset state.
type Curator struct {
	cfg     *config.Config
	logger  *slog.Logger
	reg     *registry.Registry
	store   *store.Store
	pub     events.Publisher
	docs    document.Loader
	matcher *scan.Matcher
	types   map[string]asset.TypeDescriptor

	notifier notifications.Service

	// evaluated holds the last committed result per asset. Guarded by the
	// registry lock.
	evaluated map[uuid.UUID]evalSummary

	// mu guards the fields below. It may be taken while the registry lock
	// is held, never the other way round.
	mu           sync.Mutex
	platform     string
	platformHash uint64
	ledger       map[uuid.UUID]store.Output
	requested    map[uuid.UUID]struct{}
	fullRun      bool
	fullRunStart time.Time

	staleSignal chan struct{}
	workSignal  chan struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// New constructs a Curator and loads the output ledger for the configured platform.
func New(ctx context.Context, opts Options) (*Curator, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("curator: config is required")
	}
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Discard{}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.Noop()
	}

	descriptors := cfg.Descriptors()
	types := make(map[string]asset.TypeDescriptor, len(descriptors))
	for _, d := range descriptors {
		types[d.Name] = d
	}

	c := &Curator{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "curator"),
		reg:    registry.New(registry.Options{CaseInsensitive: cfg.Scanner.CaseInsensitivePaths, Publisher: pub}),
		store:  opts.Store,
		pub:    pub,
		docs:   document.Loader{Extension: cfg.Scanner.SidecarExtension},
		matcher: scan.NewMatcher(scan.Options{
			DataDirs:   cfg.Paths.DataDirs,
			IgnoreFile: cfg.Scanner.IgnoreFile,
			SidecarExt: cfg.Scanner.SidecarExtension,
			Types:      descriptors,
			SkipDirs:   []string{cfg.Paths.OutputDir, cfg.Paths.CacheDir},
		}),
		types:       types,
		notifier:    notifier,
		evaluated:   make(map[uuid.UUID]evalSummary),
		requested:   make(map[uuid.UUID]struct{}),
		staleSignal: make(chan struct{}, 1),
		workSignal:  make(chan struct{}, 1),
	}
	if err := c.loadLedger(ctx, cfg.Project.Platform); err != nil {
		return nil, err
	}
	return c, nil
}

// Registry exposes the underlying registry for read access and tests.
func (c *Curator) Registry() *registry.Registry { return c.reg }

// Matcher returns the data directory classifier the curator scans with.
func (c *Curator) Matcher() *scan.Matcher { return c.matcher }

// Platform returns the active target platform.
func (c *Curator) Platform() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.platform
}

// WorkAvailable delivers a signal whenever assets may have become eligible.
func (c *Curator) WorkAvailable() <-chan struct{} { return c.workSignal }

func (c *Curator) notifyWork() {
	select {
	case c.workSignal <- struct{}{}:
	default:
	}
}

func (c *Curator) notifyStale() {
	select {
	case c.staleSignal <- struct{}{}:
	default:
	}
}

// Start launches the background state updater. It is a no-op when running.
func (c *Curator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running.Add(1)
	go func() {
		defer c.running.Done()
		c.updateLoop(runCtx)
	}()
	c.notifyStale()
}

// Stop halts the updater and waits for it to exit.
func (c *Curator) Stop() {
	c.runMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.running.Wait()
}

func (c *Curator) updateLoop(ctx context.Context) {
	fallback := c.cfg.PollInterval() * 10
	if fallback <= 0 {
		fallback = time.Second
	}
	timer := time.NewTimer(fallback)
	defer timer.Stop()
	for {
		if n := c.refreshBatch(ctx, 64); n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-c.staleSignal:
		case <-timer.C:
		}
		timer.Reset(fallback)
	}
}

// Info returns a copy of the asset with id.
func (c *Curator) Info(id uuid.UUID) (asset.Info, bool) {
	return c.reg.Get(id)
}

// IsUpdating reports whether the asset is dispatched to a worker.
func (c *Curator) IsUpdating(id uuid.UUID) (updating bool) {
	c.reg.Locked(func(tx *registry.Tx) { updating = tx.IsUpdating(id) })
	return updating
}

// InfoByPath returns a copy of the asset stored at path.
func (c *Curator) InfoByPath(path string) (asset.Info, bool) {
	return c.reg.GetByPath(path)
}

// Assets lists assets ordered by relative path, optionally limited to states.
func (c *Curator) Assets(states ...asset.State) []asset.Info {
	snapshot := c.reg.Snapshot()
	out := snapshot[:0]
	for _, info := range snapshot {
		if len(states) > 0 && !containsState(states, info.State) {
			continue
		}
		out = append(out, info)
	}
	sortByPath(out)
	return out
}

// Stats reports per-state counts.
func (c *Curator) Stats() asset.Stats {
	return c.reg.StateCounts()
}

// Descriptor returns the type descriptor for typeName.
func (c *Curator) Descriptor(typeName string) (asset.TypeDescriptor, bool) {
	d, ok := c.types[typeName]
	return d, ok
}

func (c *Curator) setPlatformLocked(name string) {
	c.platform = name
	c.platformHash = xxhash.Sum64String(name)
}
