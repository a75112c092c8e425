package registry

import (
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"curator/internal/asset"
	"curator/internal/events"
)

// Handle addresses a registry slot. The generation makes handles of removed
// assets stale.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.gen == 0 }

type entry struct {
	gen  uint32
	info *asset.Info
}

type idSet map[uuid.UUID]struct{}

func (s idSet) add(id uuid.UUID)      { s[id] = struct{}{} }
func (s idSet) has(id uuid.UUID) bool { _, ok := s[id]; return ok }

// Options configures a Registry.
type Options struct {
	CaseInsensitive bool
	Publisher       events.Publisher
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	foldPaths bool
	pub       events.Publisher

	entries []entry
	free    []uint32
	byID    map[uuid.UUID]Handle
	byPath  map[string]Handle

	states   map[asset.State]idSet
	updating idSet
	stale    idSet

	dependents map[string]idSet
	referrers  map[string]idSet
	edges      map[uuid.UUID]edgeSet
	unresolved map[string]idSet

	files map[string]*asset.FileStatus

	pending []events.Event
}

type edgeSet struct {
	deps []string
	refs []string
}

// New returns an empty registry.
func New(opts Options) *Registry {
	pub := opts.Publisher
	if pub == nil {
		pub = events.Discard{}
	}
	r := &Registry{foldPaths: opts.CaseInsensitive, pub: pub}
	r.reset()
	return r
}

func (r *Registry) reset() {
	r.entries = nil
	r.free = nil
	r.byID = make(map[uuid.UUID]Handle)
	r.byPath = make(map[string]Handle)
	r.states = make(map[asset.State]idSet, len(asset.AllStates()))
	for _, st := range asset.AllStates() {
		r.states[st] = make(idSet)
	}
	r.updating = make(idSet)
	r.stale = make(idSet)
	r.dependents = make(map[string]idSet)
	r.referrers = make(map[string]idSet)
	r.edges = make(map[uuid.UUID]edgeSet)
	r.unresolved = make(map[string]idSet)
	r.files = make(map[string]*asset.FileStatus)
}

// Key normalizes a path for use as an index key.
func (r *Registry) Key(path string) string {
	if path == "" {
		return ""
	}
	path = filepath.Clean(path)
	if r.foldPaths {
		return cases.Fold().String(path)
	}
	return path
}

// IDKey is the index key used for dependencies declared by asset id.
func IDKey(id uuid.UUID) string { return id.String() }

// Locked runs fn with exclusive access to the registry. Events queued by fn
// are published after the lock is released.
func (r *Registry) Locked(fn func(tx *Tx)) {
	r.mu.Lock()
	fn(&Tx{r: r})
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, evt := range pending {
		r.pub.Publish(evt)
	}
}

// Get returns a copy of the asset with id.
func (r *Registry) Get(id uuid.UUID) (info asset.Info, ok bool) {
	r.Locked(func(tx *Tx) {
		if p := tx.Get(id); p != nil {
			info, ok = p.Clone(), true
		}
	})
	return info, ok
}

// GetByPath returns a copy of the asset backed by path.
func (r *Registry) GetByPath(path string) (info asset.Info, ok bool) {
	r.Locked(func(tx *Tx) {
		if p := tx.GetByPath(path); p != nil {
			info, ok = p.Clone(), true
		}
	})
	return info, ok
}

// Insert adds info; see Tx.Insert.
func (r *Registry) Insert(info asset.Info) (h Handle, err error) {
	r.Locked(func(tx *Tx) { h, err = tx.Insert(info) })
	return h, err
}

// Remove deletes the asset with id.
func (r *Registry) Remove(id uuid.UUID) (ok bool) {
	r.Locked(func(tx *Tx) { ok = tx.Remove(id) })
	return ok
}

// Lookup resolves a handle to a copy of its asset.
func (r *Registry) Lookup(h Handle) (info asset.Info, ok bool) {
	r.Locked(func(tx *Tx) {
		if p := tx.Lookup(h); p != nil {
			info, ok = p.Clone(), true
		}
	})
	return info, ok
}

// StateCounts reports how many assets are in each state plus the number
// currently held by worker slots.
func (r *Registry) StateCounts() asset.Stats {
	var stats asset.Stats
	r.Locked(func(tx *Tx) { stats = tx.StateCounts() })
	return stats
}

// Snapshot copies every asset.
func (r *Registry) Snapshot() []asset.Info {
	var out []asset.Info
	r.Locked(func(tx *Tx) {
		out = make([]asset.Info, 0, len(r.byID))
		tx.Each(func(info *asset.Info) bool {
			out = append(out, info.Clone())
			return true
		})
	})
	return out
}

// Len returns the number of registered assets.
func (r *Registry) Len() (n int) {
	r.Locked(func(tx *Tx) { n = len(r.byID) })
	return n
}
