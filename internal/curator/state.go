package curator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
)

// maxRefreshPasses bounds RefreshStates when concurrent edits keep
// discarding computed states.
const maxRefreshPasses = 64

var errDiscarded = errors.New("asset changed during evaluation")

type evalResult struct {
	state     asset.State
	assetHash uint64
	thumbHash uint64
}

// evalSummary is the part of a committed result its users depend on.
type evalSummary struct {
	hash   uint64
	usable bool
}

// usable reports whether dependents may fold an asset in this state into their hash.
func usable(s asset.State) bool {
	return s == asset.StateNeedsTransform || s == asset.StateNeedsThumbnail || s == asset.StateUpToDate
}

type hashOutcome struct {
	assetHash   uint64
	thumbHash   uint64
	missingDeps []string
	missingRefs []string
	unresolved  []string
}

type cycleError struct {
	root    uuid.UUID
	members map[uuid.UUID]bool
	chain   []string
}

func (e *cycleError) Error() string {
	return "circular dependency: " + strings.Join(e.chain, " -> ")
}

func (e *cycleError) Unwrap() error { return services.ErrCircular }

// visit carries the recursion state of one evaluation.
type visit struct {
	active map[uuid.UUID]bool
	ids    []uuid.UUID
	paths  []string
	done   map[uuid.UUID]evalResult
}

func newVisit() *visit {
	return &visit{active: make(map[uuid.UUID]bool), done: make(map[uuid.UUID]evalResult)}
}

func (v *visit) push(id uuid.UUID, path string) {
	v.active[id] = true
	v.ids = append(v.ids, id)
	v.paths = append(v.paths, path)
}

func (v *visit) pop(id uuid.UUID) {
	delete(v.active, id)
	v.ids = v.ids[:len(v.ids)-1]
	v.paths = v.paths[:len(v.paths)-1]
}

func (v *visit) cycle(id uuid.UUID) *cycleError {
	idx := slices.Index(v.ids, id)
	e := &cycleError{root: id, members: make(map[uuid.UUID]bool)}
	for i := idx; i < len(v.ids); i++ {
		e.members[v.ids[i]] = true
		e.chain = append(e.chain, v.paths[i])
	}
	e.chain = append(e.chain, v.paths[idx])
	return e
}

// UpdateAssetState recomputes the state of id from its inputs and returns it.
func (c *Curator) UpdateAssetState(ctx context.Context, id uuid.UUID) (asset.State, error) {
	for attempt := 0; ; attempt++ {
		var found bool
		c.reg.Locked(func(tx *registry.Tx) { found = tx.Invalidate(id) })
		if !found {
			return "", services.Wrap(services.ErrNotFound, "curator", "update state", id.String(), nil)
		}
		res, err := c.evaluate(ctx, id, newVisit())
		if errors.Is(err, errDiscarded) && attempt < 3 {
			continue
		}
		if err != nil {
			return "", err
		}
		return res.state, nil
	}
}

// RefreshStates evaluates stale assets until none remain.
func (c *Curator) RefreshStates(ctx context.Context) error {
	for range maxRefreshPasses {
		if c.refreshBatch(ctx, 0) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("asset states did not settle after %d passes", maxRefreshPasses)
}

// refreshBatch evaluates up to limit stale assets, all of them when limit is
// zero, and returns how many were attempted.
func (c *Curator) refreshBatch(ctx context.Context, limit int) int {
	var ids []uuid.UUID
	c.reg.Locked(func(tx *registry.Tx) { ids = tx.Stale() })
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return strings.Compare(a.String(), b.String()) })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return n
		}
		n++
		_, err := c.evaluate(ctx, id, newVisit())
		if err != nil && !errors.Is(err, errDiscarded) && !errors.Is(err, services.ErrNotFound) && ctx.Err() == nil {
			c.logger.Debug("asset evaluation failed", logging.AssetID(id.String()), logging.Error(err))
		}
	}
	if n > 0 {
		c.settleFullRun(ctx)
	}
	return n
}

// evaluate computes and commits the state of id. Assets that are not stale
// return their committed result. A result computed from inputs that were
// invalidated meanwhile is discarded and errDiscarded returned.
func (c *Curator) evaluate(ctx context.Context, id uuid.UUID, v *visit) (evalResult, error) {
	if res, ok := v.done[id]; ok {
		return res, nil
	}
	if v.active[id] {
		return evalResult{}, v.cycle(id)
	}
	if err := ctx.Err(); err != nil {
		return evalResult{}, err
	}

	var (
		snap       asset.Info
		found      bool
		fresh      bool
		deps, refs []boundTarget
	)
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(id)
		if info == nil {
			return
		}
		found = true
		if !tx.IsStale(id) {
			fresh = true
			snap = asset.Info{State: info.State, AssetHash: info.AssetHash, ThumbHash: info.ThumbHash}
			return
		}
		snap = info.Clone()
		if snap.Declared != nil && !snap.Declared.ImportPending {
			deps = c.bindLocked(tx, c.resolveTargets(snap.Declared.Dependencies, snap.AbsolutePath))
			refs = c.bindLocked(tx, c.resolveTargets(snap.Declared.References, snap.AbsolutePath))
		}
	})
	if !found {
		return evalResult{}, services.Wrap(services.ErrNotFound, "curator", "evaluate", id.String(), nil)
	}
	if fresh {
		res := evalResult{state: snap.State, assetHash: snap.AssetHash, thumbHash: snap.ThumbHash}
		v.done[id] = res
		return res, nil
	}

	var (
		res evalResult
		out hashOutcome
		cyc *cycleError
	)
	switch {
	case snap.Declared == nil:
		res.state = asset.StateUnknown
	case snap.Declared.ImportPending:
		res.state = asset.StateNeedsImport
	default:
		v.push(id, snap.RelativePath)
		var err error
		out, err = c.computeHashes(ctx, &snap, deps, refs, v)
		v.pop(id)
		if err != nil {
			if !errors.As(err, &cyc) {
				return evalResult{}, err
			}
			res.state = asset.StateTransformError
		} else {
			res.assetHash, res.thumbHash = out.assetHash, out.thumbHash
		}
	}

	discarded, woke := c.commit(id, snap.StateStamp, &res, out, cyc, v)
	if discarded {
		return evalResult{}, errDiscarded
	}
	v.done[id] = res
	c.logger.Debug("asset evaluated",
		logging.AssetID(id.String()),
		logging.State(res.state),
		logging.Hash("asset_hash", res.assetHash))
	if cyc != nil {
		c.logger.Warn("circular dependency",
			logging.AssetID(id.String()),
			logging.String("chain", strings.Join(cyc.chain, " -> ")),
			logging.String(logging.FieldEventType, "circular_dependency"))
	}
	if woke {
		c.notifyStale()
	}
	if res.state.NeedsWork() {
		c.notifyWork()
	}
	if cyc != nil && cyc.root != id {
		return res, cyc
	}
	return res, nil
}

// commit stores res when the asset has not been invalidated since stamp was
// read. It reports whether the result was discarded and whether any user of
// the asset was invalidated.
func (c *Curator) commit(id uuid.UUID, stamp uint64, res *evalResult, out hashOutcome, cyc *cycleError, v *visit) (discarded, woke bool) {
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(id)
		if info == nil || info.StateStamp != stamp {
			discarded = true
			return
		}
		if res.state == "" {
			res.state = c.classify(info, out)
		}
		if info.ErrorHash != 0 && res.state != asset.StateTransformError {
			info.ErrorHash = 0
		}
		hashesChanged := info.AssetHash != res.assetHash || info.ThumbHash != res.thumbHash
		info.AssetHash, info.ThumbHash = res.assetHash, res.thumbHash
		info.MissingDependencies = out.missingDeps
		info.MissingReferences = out.missingRefs
		if cyc != nil {
			info.LastLog = []asset.LogEntry{{Level: "error", Message: cyc.Error()}}
		}

		tx.ClearUnresolved(id)
		for _, key := range out.unresolved {
			tx.AddUnresolved(id, key)
		}
		tx.ClearStale(id)
		before := info.State
		tx.SetState(id, res.state)
		if before == res.state && hashesChanged {
			tx.Touched(id)
		}

		summary := evalSummary{hash: res.assetHash, usable: usable(res.state)}
		prev, seen := c.evaluated[id]
		c.evaluated[id] = summary
		if seen && prev == summary {
			return
		}
		for _, user := range c.usersLocked(tx, id) {
			if (v != nil && v.active[user]) || (cyc != nil && cyc.members[user]) {
				continue
			}
			if tx.Invalidate(user) {
				woke = true
			}
		}
	})
	return discarded, woke
}

// classify picks the state for a fully hashed asset. Called with the
// registry lock held.
func (c *Curator) classify(info *asset.Info, out hashOutcome) asset.State {
	switch {
	case len(out.missingDeps) > 0:
		return asset.StateMissingDependency
	case len(out.missingRefs) > 0:
		return asset.StateMissingReference
	case info.ErrorHash != 0 && info.ErrorHash == out.assetHash:
		return asset.StateTransformError
	}
	recorded, ok := c.ledgerEntry(info.ID)
	if !ok || recorded.AssetHash != out.assetHash {
		return asset.StateNeedsTransform
	}
	if d, ok := c.descriptorFor(info); ok && d.SupportsThumbnail && recorded.ThumbHash != out.thumbHash {
		return asset.StateNeedsThumbnail
	}
	return asset.StateUpToDate
}

// computeHashes folds settings, platform, the asset's own file and its
// dependencies into the asset hash, then the asset hash and references into
// the thumbnail hash.
func (c *Curator) computeHashes(ctx context.Context, snap *asset.Info, deps, refs []boundTarget, v *visit) (hashOutcome, error) {
	c.mu.Lock()
	platformHash := c.platformHash
	c.mu.Unlock()

	var out hashOutcome
	digest := xxhash.New()
	writeUint64(digest, snap.Declared.SettingsHash)
	writeUint64(digest, platformHash)
	if own, ok := c.fileHash(snap.AbsolutePath); ok {
		writeUint64(digest, own)
	} else {
		out.missingDeps = append(out.missingDeps, snap.RelativePath)
	}
	for _, d := range deps {
		sum, ok, err := c.dependencyHash(ctx, d, v)
		if err != nil {
			return out, err
		}
		if !ok {
			out.missingDeps = append(out.missingDeps, d.raw)
			if d.assetID == uuid.Nil {
				out.unresolved = append(out.unresolved, d.keys...)
			}
			continue
		}
		_, _ = digest.WriteString(d.raw)
		writeUint64(digest, sum)
	}
	if len(out.missingDeps) > 0 {
		return out, nil
	}
	out.assetHash = digest.Sum64()

	thumb := xxhash.New()
	writeUint64(thumb, out.assetHash)
	for _, r := range refs {
		sum, ok := c.referenceHash(r)
		if !ok {
			out.missingRefs = append(out.missingRefs, r.raw)
			if r.assetID == uuid.Nil {
				out.unresolved = append(out.unresolved, r.keys...)
			}
			continue
		}
		_, _ = thumb.WriteString(r.raw)
		writeUint64(thumb, sum)
	}
	if len(out.missingRefs) == 0 {
		out.thumbHash = thumb.Sum64()
	}
	return out, nil
}

// dependencyHash evaluates an asset dependency recursively or hashes a
// plain file dependency.
func (c *Curator) dependencyHash(ctx context.Context, d boundTarget, v *visit) (uint64, bool, error) {
	if d.assetID == uuid.Nil {
		for _, p := range d.paths {
			if sum, ok := c.fileHash(p); ok {
				return sum, true, nil
			}
		}
		return 0, false, nil
	}
	res, err := c.evaluate(ctx, d.assetID, v)
	switch {
	case errors.Is(err, services.ErrNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	}
	if !usable(res.state) || res.assetHash == 0 {
		return 0, false, nil
	}
	return res.assetHash, true, nil
}

// referenceHash uses the stored hash of a referenced asset without
// evaluating it. A reference that is re-evaluated later invalidates its
// referrers when its hash changes.
func (c *Curator) referenceHash(r boundTarget) (uint64, bool) {
	if r.assetID == uuid.Nil {
		for _, p := range r.paths {
			if sum, ok := c.fileHash(p); ok {
				return sum, true
			}
		}
		return 0, false
	}
	var (
		sum uint64
		ok  bool
	)
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(r.assetID)
		if info == nil {
			return
		}
		switch info.State {
		case asset.StateMissingDependency, asset.StateMissingReference, asset.StateTransformError, asset.StateNeedsImport:
			return
		}
		sum, ok = info.AssetHash, true
	})
	return sum, ok
}
