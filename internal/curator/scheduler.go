package curator

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
)

// picker walks dependencies of scheduler candidates so a dependency that
// still needs work is handed out before its dependents.
type picker struct {
	c         *Curator
	tx        *registry.Tx
	requested map[uuid.UUID]struct{}
	visited   map[uuid.UUID]bool
	stack     []uuid.UUID
	cycles    [][]uuid.UUID
}

func (p *picker) pick(id uuid.UUID, forced bool) (uuid.UUID, bool) {
	if idx := slices.Index(p.stack, id); idx >= 0 {
		p.cycles = append(p.cycles, slices.Clone(p.stack[idx:]))
		return uuid.Nil, false
	}
	if p.visited[id] {
		return uuid.Nil, false
	}
	p.visited[id] = true

	info := p.tx.Get(id)
	if info == nil || info.Declared == nil || p.tx.IsUpdating(id) || p.tx.IsStale(id) || !info.State.NeedsWork() {
		return uuid.Nil, false
	}
	if _, ok := p.requested[id]; ok {
		forced = true
	}
	d, ok := p.c.descriptorFor(info)
	if !ok || d.TransformDisabled || (!d.AutoTransform() && !forced) {
		return uuid.Nil, false
	}

	p.stack = append(p.stack, id)
	defer func() { p.stack = p.stack[:len(p.stack)-1] }()

	for _, b := range p.c.bindLocked(p.tx, p.c.resolveTargets(info.Declared.Dependencies, info.AbsolutePath)) {
		if b.assetID == uuid.Nil {
			continue
		}
		dep := p.tx.Get(b.assetID)
		switch {
		case p.tx.IsUpdating(b.assetID) || p.tx.IsStale(b.assetID) || dep.State == asset.StateUnknown:
			return uuid.Nil, false
		case dep.State == asset.StateNeedsTransform:
			return p.pick(b.assetID, forced)
		case dep.State == asset.StateNeedsThumbnail:
			if sub, ok := p.pick(b.assetID, forced); ok {
				return sub, true
			}
		}
	}
	return id, true
}

// candidatesLocked orders assets in state by most recent access, then path.
func candidatesLocked(tx *registry.Tx, state asset.State) []*asset.Info {
	var out []*asset.Info
	for _, id := range tx.InState(state) {
		if info := tx.Get(id); info != nil {
			out = append(out, info)
		}
	}
	slices.SortFunc(out, func(a, b *asset.Info) int {
		if c := b.LastAccess.Compare(a.LastAccess); c != 0 {
			return c
		}
		return cmp.Or(strings.Compare(a.RelativePath, b.RelativePath), strings.Compare(a.ID.String(), b.ID.String()))
	})
	return out
}

// NextEligible selects the next asset to hand to a worker and marks it
// Updating. Transforms are preferred over thumbnails. ok is false when
// nothing is eligible.
func (c *Curator) NextEligible() (asg asset.Assignment, ok bool) {
	var cycles [][]uuid.UUID
	c.reg.Locked(func(tx *registry.Tx) {
		c.mu.Lock()
		requested := maps.Clone(c.requested)
		c.mu.Unlock()

		p := &picker{c: c, tx: tx, requested: requested, visited: make(map[uuid.UUID]bool)}
		chosen := uuid.Nil
	search:
		for _, state := range []asset.State{asset.StateNeedsTransform, asset.StateNeedsThumbnail} {
			for _, info := range candidatesLocked(tx, state) {
				if id, found := p.pick(info.ID, false); found {
					chosen = id
					break search
				}
			}
		}
		for _, cycle := range p.cycles {
			c.failCycleLocked(tx, cycle)
		}
		cycles = p.cycles
		if chosen == uuid.Nil || !tx.MarkUpdating(chosen) {
			return
		}
		info := tx.Get(chosen)
		mode := asset.ModeTransform
		if info.State == asset.StateNeedsThumbnail {
			mode = asset.ModeThumbnail
		}
		asg = asset.Assignment{
			ID:           info.ID,
			Type:         info.Declared.Type,
			AbsolutePath: info.AbsolutePath,
			RelativePath: info.RelativePath,
			Mode:         mode,
			AssetHash:    info.AssetHash,
			ThumbHash:    info.ThumbHash,
			StateStamp:   info.StateStamp,
		}
		ok = true
	})
	if len(cycles) > 0 {
		c.logger.Warn("scheduler found circular dependencies", logging.Int("cycles", len(cycles)))
	}
	return asg, ok
}

func (c *Curator) failCycleLocked(tx *registry.Tx, cycle []uuid.UUID) {
	var paths []string
	for _, id := range cycle {
		if info := tx.Get(id); info != nil {
			paths = append(paths, info.RelativePath)
		}
	}
	msg := "circular dependency: " + strings.Join(paths, " -> ")
	for _, id := range cycle {
		info := tx.Get(id)
		if info == nil {
			continue
		}
		info.LastLog = []asset.LogEntry{{Level: "error", Message: msg}}
		tx.SetState(id, asset.StateTransformError)
		c.evaluated[id] = evalSummary{hash: info.AssetHash}
	}
}

// Complete records the outcome of an assignment handed out by NextEligible.
// A result for an asset that was invalidated while the worker ran is still
// written to the output ledger but the asset keeps its fresh state.
func (c *Curator) Complete(ctx context.Context, asg asset.Assignment, outcome asset.Outcome) error {
	var recordErr error
	if outcome.Status == asset.OutcomeSuccess {
		if recordErr = c.recordOutput(ctx, asg); recordErr != nil {
			outcome = asset.Outcome{
				Status:  asset.OutcomeFailed,
				Message: "record output: " + recordErr.Error(),
				Log:     outcome.Log,
				Err:     recordErr,
			}
		}
	}
	// A failure classified as a missing import is parked like an explicit
	// import request.
	if outcome.Status != asset.OutcomeSuccess && outcome.Err != nil &&
		services.FailureState(outcome.Err) == asset.StateNeedsImport {
		outcome.Status = asset.OutcomeImportNeeded
	}

	var (
		importPath string
		woke       bool
		finished   bool
		run        fullRunResult
	)
	c.reg.Locked(func(tx *registry.Tx) {
		tx.ClearUpdating(asg.ID)
		info := tx.Get(asg.ID)
		if info == nil {
			return
		}
		current := info.StateStamp == asg.StateStamp && !tx.IsStale(asg.ID)
		switch outcome.Status {
		case asset.OutcomeSuccess:
			info.LastLog = outcome.Log
			info.ErrorHash = 0
			if current {
				tx.SetState(asg.ID, asset.StateUpToDate)
			}
		case asset.OutcomeImportNeeded:
			info.LastLog = outcome.Log
			importPath = info.AbsolutePath
		default:
			info.LastLog = append(slices.Clone(outcome.Log), asset.LogEntry{Level: "error", Message: outcome.Message})
			info.ErrorHash = asg.AssetHash
			if current {
				tx.SetState(asg.ID, services.FailureState(outcome.Err))
				c.evaluated[asg.ID] = evalSummary{hash: info.AssetHash}
				for _, user := range c.usersLocked(tx, asg.ID) {
					if tx.Invalidate(user) {
						woke = true
					}
				}
			} else {
				tx.Touched(asg.ID)
			}
		}

		c.mu.Lock()
		if !c.fullRun {
			delete(c.requested, asg.ID)
		}
		c.mu.Unlock()
		finished, run = c.checkFullRun(tx)
	})

	log := c.logger.With(logging.AssetID(asg.ID.String()), logging.String("mode", string(asg.Mode)))
	switch outcome.Status {
	case asset.OutcomeSuccess:
		log.Info("asset processed", logging.Path(asg.RelativePath))
	case asset.OutcomeImportNeeded:
		log.Info("asset needs import", logging.Path(asg.RelativePath))
		c.markImportPending(asg.ID, importPath)
	default:
		logging.WarnWithContext(log, "asset transform failed", "transform_failed",
			logging.Path(asg.RelativePath),
			logging.String("status", string(outcome.Status)),
			logging.String("reason", outcome.Message),
			logging.String(logging.FieldErrorHint, "fix the source asset or run 'curator retry'"))
	}

	if finished {
		c.finishFullRun(ctx, run)
	}
	if woke {
		c.notifyStale()
	}
	c.notifyWork()
	return recordErr
}

func (c *Curator) markImportPending(id uuid.UUID, path string) {
	if path == "" {
		return
	}
	if err := c.docs.SetImportPending(path, true); err != nil {
		c.logger.Warn("mark import pending failed", logging.AssetID(id.String()), logging.Error(err))
	}
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(id)
		if info == nil {
			return
		}
		if info.Declared != nil {
			info.Declared.ImportPending = true
		}
		tx.Invalidate(id)
	})
	c.notifyStale()
}

// settleFullRun completes a pending TransformAll once evaluation has
// caught up with the last completions.
func (c *Curator) settleFullRun(ctx context.Context) {
	var (
		finished bool
		run      fullRunResult
	)
	c.reg.Locked(func(tx *registry.Tx) { finished, run = c.checkFullRun(tx) })
	if finished {
		c.finishFullRun(ctx, run)
	}
}
