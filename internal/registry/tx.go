package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/events"
)

var (
	ErrDuplicateID   = errors.New("asset id already registered")
	ErrDuplicatePath = errors.New("asset path already registered")
)

// Tx grants access to the registry inside Locked. Pointers returned by Tx
// methods must not escape the callback.
type Tx struct {
	r *Registry
}

func (tx *Tx) emit(kind events.Kind, info *asset.Info) {
	evt := events.Event{Kind: kind, Time: time.Now().UTC()}
	if info != nil {
		evt.AssetID = info.ID
		cp := info.Clone()
		evt.Asset = &cp
	}
	tx.r.pending = append(tx.r.pending, evt)
}

// Lookup resolves a handle. Stale handles return nil.
func (tx *Tx) Lookup(h Handle) *asset.Info {
	if h.IsZero() || int(h.index) >= len(tx.r.entries) {
		return nil
	}
	e := tx.r.entries[h.index]
	if e.gen != h.gen {
		return nil
	}
	return e.info
}

// Handle returns the current handle for id.
func (tx *Tx) Handle(id uuid.UUID) (Handle, bool) {
	h, ok := tx.r.byID[id]
	return h, ok
}

// Get returns the live record for id or nil.
func (tx *Tx) Get(id uuid.UUID) *asset.Info {
	h, ok := tx.r.byID[id]
	if !ok {
		return nil
	}
	return tx.Lookup(h)
}

// GetByPath returns the live record backed by path or nil.
func (tx *Tx) GetByPath(path string) *asset.Info {
	h, ok := tx.r.byPath[tx.r.Key(path)]
	if !ok {
		return nil
	}
	return tx.Lookup(h)
}

// Insert registers a new asset. The record starts Unknown and stale so the
// state updater evaluates it. Dependents waiting on this asset through
// unresolved edges are invalidated.
func (tx *Tx) Insert(info asset.Info) (Handle, error) {
	r := tx.r
	if _, ok := r.byID[info.ID]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicateID, info.ID)
	}
	pathKey := r.Key(info.AbsolutePath)
	if _, ok := r.byPath[pathKey]; ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrDuplicatePath, info.AbsolutePath)
	}

	rec := info.Clone()
	rec.State = asset.StateUnknown
	if rec.Existence == "" {
		rec.Existence = asset.ExistenceAdded
	}

	var h Handle
	if n := len(r.free); n > 0 {
		h.index = r.free[n-1]
		r.free = r.free[:n-1]
		h.gen = r.entries[h.index].gen + 1
		r.entries[h.index] = entry{gen: h.gen, info: &rec}
	} else {
		h = Handle{index: uint32(len(r.entries)), gen: 1}
		r.entries = append(r.entries, entry{gen: 1, info: &rec})
	}

	r.byID[rec.ID] = h
	r.byPath[pathKey] = h
	r.states[asset.StateUnknown].add(rec.ID)
	r.stale.add(rec.ID)
	tx.emit(events.AssetAdded, &rec)

	for _, key := range []string{IDKey(rec.ID), pathKey} {
		waiting := r.unresolved[key]
		delete(r.unresolved, key)
		for dep := range waiting {
			tx.Invalidate(dep)
		}
	}
	return h, nil
}

// Remove deletes id and every index entry it owns.
func (tx *Tx) Remove(id uuid.UUID) bool {
	r := tx.r
	h, ok := r.byID[id]
	if !ok {
		return false
	}
	info := r.entries[h.index].info
	tx.SetEdges(id, nil, nil)
	tx.ClearUnresolved(id)
	delete(r.states[info.State], id)
	delete(r.updating, id)
	delete(r.stale, id)
	delete(r.byID, id)
	if cur, ok := r.byPath[r.Key(info.AbsolutePath)]; ok && cur == h {
		delete(r.byPath, r.Key(info.AbsolutePath))
	}
	info.Existence = asset.ExistenceRemoved
	tx.emit(events.AssetRemoved, info)

	r.entries[h.index].info = nil
	r.free = append(r.free, h.index)
	return true
}

// Move re-keys an asset to a new absolute path.
func (tx *Tx) Move(id uuid.UUID, absPath, relPath, dataDir string) error {
	r := tx.r
	h, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("move %s: not registered", id)
	}
	newKey := r.Key(absPath)
	if other, ok := r.byPath[newKey]; ok && other != h {
		return fmt.Errorf("%w: %s", ErrDuplicatePath, absPath)
	}
	info := r.entries[h.index].info
	delete(r.byPath, r.Key(info.AbsolutePath))
	info.AbsolutePath, info.RelativePath, info.DataDir = absPath, relPath, dataDir
	r.byPath[newKey] = h
	tx.emit(events.AssetUpdated, info)
	return nil
}

// SetState moves id into state. Unchanged states are a no-op.
func (tx *Tx) SetState(id uuid.UUID, state asset.State) {
	info := tx.Get(id)
	if info == nil || info.State == state {
		return
	}
	delete(tx.r.states[info.State], id)
	tx.r.states[state].add(id)
	info.State = state
	tx.emit(events.AssetUpdated, info)
}

// Touched queues an AssetUpdated event for changes made directly on the record.
func (tx *Tx) Touched(id uuid.UUID) {
	if info := tx.Get(id); info != nil {
		tx.emit(events.AssetUpdated, info)
	}
}

// Invalidate discards the computed state of id: the stamp is bumped, the
// record returns to Unknown and is queued for re-evaluation.
func (tx *Tx) Invalidate(id uuid.UUID) bool {
	info := tx.Get(id)
	if info == nil {
		return false
	}
	info.StateStamp++
	tx.r.stale.add(id)
	if info.State != asset.StateUnknown {
		tx.SetState(id, asset.StateUnknown)
	}
	return true
}

// MarkUpdating records that a worker slot owns id. It fails if another
// slot already does.
func (tx *Tx) MarkUpdating(id uuid.UUID) bool {
	if tx.Get(id) == nil || tx.r.updating.has(id) {
		return false
	}
	tx.r.updating.add(id)
	return true
}

// ClearUpdating releases slot ownership of id.
func (tx *Tx) ClearUpdating(id uuid.UUID) {
	delete(tx.r.updating, id)
}

// IsUpdating reports whether a worker slot owns id.
func (tx *Tx) IsUpdating(id uuid.UUID) bool {
	return tx.r.updating.has(id)
}

// IsStale reports whether id is waiting for re-evaluation.
func (tx *Tx) IsStale(id uuid.UUID) bool {
	return tx.r.stale.has(id)
}

// ClearStale removes id from the re-evaluation queue.
func (tx *Tx) ClearStale(id uuid.UUID) {
	delete(tx.r.stale, id)
}

// Stale lists ids waiting for re-evaluation.
func (tx *Tx) Stale() []uuid.UUID {
	return slices.Collect(maps.Keys(tx.r.stale))
}

// InState lists the ids currently in state.
func (tx *Tx) InState(state asset.State) []uuid.UUID {
	return slices.Collect(maps.Keys(tx.r.states[state]))
}

// SetEdges replaces the dependency and reference index entries owned by id.
// Keys are produced by Registry.Key or IDKey.
func (tx *Tx) SetEdges(id uuid.UUID, deps, refs []string) {
	r := tx.r
	if old, ok := r.edges[id]; ok {
		unindex(r.dependents, old.deps, id)
		unindex(r.referrers, old.refs, id)
		delete(r.edges, id)
	}
	if len(deps) == 0 && len(refs) == 0 {
		return
	}
	r.edges[id] = edgeSet{deps: slices.Clone(deps), refs: slices.Clone(refs)}
	index(r.dependents, deps, id)
	index(r.referrers, refs, id)
}

// Edges returns the dependency and reference keys indexed for id.
func (tx *Tx) Edges(id uuid.UUID) (deps, refs []string) {
	e := tx.r.edges[id]
	return slices.Clone(e.deps), slices.Clone(e.refs)
}

// Dependents lists assets that declared key as a transform dependency.
func (tx *Tx) Dependents(key string) []uuid.UUID {
	return slices.Collect(maps.Keys(tx.r.dependents[key]))
}

// Referrers lists assets that declared key as a reference.
func (tx *Tx) Referrers(key string) []uuid.UUID {
	return slices.Collect(maps.Keys(tx.r.referrers[key]))
}

// AddUnresolved records that dependent is waiting for an asset matching key.
func (tx *Tx) AddUnresolved(dependent uuid.UUID, key string) {
	set, ok := tx.r.unresolved[key]
	if !ok {
		set = make(idSet)
		tx.r.unresolved[key] = set
	}
	set.add(dependent)
}

// ClearUnresolved drops every unresolved edge recorded for dependent.
func (tx *Tx) ClearUnresolved(dependent uuid.UUID) {
	for key, set := range tx.r.unresolved {
		delete(set, dependent)
		if len(set) == 0 {
			delete(tx.r.unresolved, key)
		}
	}
}

// UnresolvedCount returns the number of pending edges.
func (tx *Tx) UnresolvedCount() int {
	n := 0
	for _, set := range tx.r.unresolved {
		n += len(set)
	}
	return n
}

// File returns the live file status for path or nil.
func (tx *Tx) File(path string) *asset.FileStatus {
	return tx.r.files[tx.r.Key(path)]
}

// SetFile stores a copy of st.
func (tx *Tx) SetFile(st asset.FileStatus) {
	cp := st
	tx.r.files[tx.r.Key(st.Path)] = &cp
}

// RemoveFile forgets path.
func (tx *Tx) RemoveFile(path string) {
	delete(tx.r.files, tx.r.Key(path))
}

// Files copies every file status.
func (tx *Tx) Files() []asset.FileStatus {
	out := make([]asset.FileStatus, 0, len(tx.r.files))
	for _, st := range tx.r.files {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b asset.FileStatus) int {
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

// MarkFilesUnknown resets every file status so a sweep can find vanished files.
func (tx *Tx) MarkFilesUnknown() {
	for _, st := range tx.r.files {
		st.Status = asset.FileUnknown
	}
}

// Each visits every asset until fn returns false.
func (tx *Tx) Each(fn func(*asset.Info) bool) {
	for _, e := range tx.r.entries {
		if e.info == nil {
			continue
		}
		if !fn(e.info) {
			return
		}
	}
}

// Len returns the number of registered assets.
func (tx *Tx) Len() int { return len(tx.r.byID) }

// StateCounts summarises the state sets.
func (tx *Tx) StateCounts() asset.Stats {
	stats := asset.Stats{ByState: make(map[asset.State]int, len(tx.r.states))}
	for st, set := range tx.r.states {
		stats.ByState[st] = len(set)
		stats.Total += len(set)
	}
	stats.Updating = len(tx.r.updating)
	return stats
}

// Reset drops every asset, index and file status.
func (tx *Tx) Reset() {
	tx.r.reset()
	tx.r.pending = append(tx.r.pending, events.Event{Kind: events.AssetListReset, Time: time.Now().UTC()})
}

// Verify checks the registry's structural invariants.
func (tx *Tx) Verify() error {
	r := tx.r
	seen := make(map[uuid.UUID]asset.State)
	for st, set := range r.states {
		for id := range set {
			if prev, dup := seen[id]; dup {
				return fmt.Errorf("asset %s in both %s and %s", id, prev, st)
			}
			seen[id] = st
		}
	}
	if len(seen) != len(r.byID) {
		return fmt.Errorf("state sets hold %d ids, registry holds %d", len(seen), len(r.byID))
	}
	for id, h := range r.byID {
		info := tx.Lookup(h)
		if info == nil {
			return fmt.Errorf("asset %s has a dangling handle", id)
		}
		if seen[id] != info.State {
			return fmt.Errorf("asset %s is %s but filed under %s", id, info.State, seen[id])
		}
	}
	for id := range r.updating {
		if _, ok := r.byID[id]; !ok {
			return fmt.Errorf("updating set holds unknown asset %s", id)
		}
	}
	return nil
}

func index(m map[string]idSet, keys []string, id uuid.UUID) {
	for _, key := range keys {
		set, ok := m[key]
		if !ok {
			set = make(idSet)
			m[key] = set
		}
		set.add(id)
	}
}

func unindex(m map[string]idSet, keys []string, id uuid.UUID) {
	for _, key := range keys {
		if set, ok := m[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m, key)
			}
		}
	}
}
