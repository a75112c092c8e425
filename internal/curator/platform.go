package curator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/store"
)

func (c *Curator) loadLedger(ctx context.Context, platform string) error {
	ledger := make(map[uuid.UUID]store.Output)
	if c.store != nil {
		loaded, err := c.store.Outputs(ctx, platform)
		if err != nil {
			return services.Wrap(services.ErrTransient, "curator", "load ledger", platform, err)
		}
		ledger = loaded
	}
	c.mu.Lock()
	c.setPlatformLocked(platform)
	c.ledger = ledger
	c.mu.Unlock()
	return nil
}

func (c *Curator) ledgerEntry(id uuid.UUID) (store.Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.ledger[id]
	return out, ok
}

// recordOutput persists a successful worker run. A transform records both
// hashes because the worker renders the thumbnail as part of it.
func (c *Curator) recordOutput(ctx context.Context, asg asset.Assignment) error {
	c.mu.Lock()
	platform := c.platform
	out := c.ledger[asg.ID]
	out.AssetID, out.Platform = asg.ID, platform
	now := time.Now().UTC()
	switch asg.Mode {
	case asset.ModeThumbnail:
		out.ThumbHash, out.ThumbnailedAt = asg.ThumbHash, now
	default:
		out.AssetHash, out.ThumbHash = asg.AssetHash, asg.ThumbHash
		out.TransformedAt, out.ThumbnailedAt = now, now
	}
	c.ledger[asg.ID] = out
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	if asg.Mode == asset.ModeThumbnail {
		return c.store.RecordThumbnail(ctx, asg.ID, platform, asg.ThumbHash)
	}
	return c.store.RecordTransform(ctx, asg.ID, platform, asg.AssetHash, asg.ThumbHash)
}

// SetActivePlatform switches the target platform. The platform name is
// folded into every asset hash, so every asset is invalidated.
func (c *Curator) SetActivePlatform(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return services.Wrap(services.ErrValidation, "curator", "set platform", "platform name is empty", nil)
	}
	if name == c.Platform() {
		return nil
	}
	if err := c.loadLedger(ctx, name); err != nil {
		return err
	}
	c.reg.Locked(func(tx *registry.Tx) {
		tx.Each(func(info *asset.Info) bool {
			info.ErrorHash = 0
			tx.Invalidate(info.ID)
			return true
		})
	})
	c.pub.Publish(events.Event{Kind: events.ActivePlatformChanged, Platform: name})
	c.logger.Info("active platform changed", logging.String("platform", name))
	c.notifyStale()
	return nil
}

// InvalidateWithState queues every asset currently in state for
// re-evaluation and returns how many were affected.
func (c *Curator) InvalidateWithState(state asset.State) int {
	n := 0
	c.reg.Locked(func(tx *registry.Tx) {
		for _, id := range tx.InState(state) {
			if info := tx.Get(id); info != nil {
				info.ErrorHash = 0
			}
			if tx.Invalidate(id) {
				n++
			}
		}
	})
	if n > 0 {
		c.notifyStale()
	}
	return n
}

// Retry forgets a recorded failure and re-evaluates the asset.
func (c *Curator) Retry(id uuid.UUID) error {
	found := false
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(id)
		if info == nil {
			return
		}
		found = true
		info.ErrorHash = 0
		info.LastLog = nil
		tx.Invalidate(id)
	})
	if !found {
		return services.Wrap(services.ErrNotFound, "curator", "retry", id.String(), nil)
	}
	c.notifyStale()
	return nil
}

// Transform requests processing of one asset even if its type only allows
// manual transforms.
func (c *Curator) Transform(id uuid.UUID) error {
	var err error
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.Get(id)
		if info == nil {
			err = services.Wrap(services.ErrNotFound, "curator", "transform", id.String(), nil)
			return
		}
		if d, ok := c.descriptorFor(info); ok && d.TransformDisabled {
			err = services.Wrap(services.ErrValidation, "curator", "transform", fmt.Sprintf("type %q has transforms disabled", d.Name), nil)
			return
		}
		c.mu.Lock()
		c.requested[id] = struct{}{}
		c.mu.Unlock()
		if info.State == asset.StateTransformError {
			info.ErrorHash = 0
			tx.Invalidate(id)
		}
	})
	if err == nil {
		c.notifyStale()
		c.notifyWork()
	}
	return err
}

// TransformAll requests every transformable asset, manual-only types
// included. When the run drains without failures the completion time is
// recorded in the store.
func (c *Curator) TransformAll() int {
	n := 0
	c.reg.Locked(func(tx *registry.Tx) {
		c.mu.Lock()
		defer c.mu.Unlock()
		tx.Each(func(info *asset.Info) bool {
			if d, ok := c.descriptorFor(info); ok && d.TransformDisabled {
				return true
			}
			c.requested[info.ID] = struct{}{}
			if info.State == asset.StateTransformError {
				info.ErrorHash = 0
				tx.Invalidate(info.ID)
			}
			n++
			return true
		})
		c.fullRun = n > 0
		c.fullRunStart = time.Now()
	})
	c.logger.Info("full transform requested", logging.Int("assets", n))
	c.settleFullRun(context.Background())
	c.notifyStale()
	c.notifyWork()
	return n
}

// fullRunResult summarises a finished TransformAll.
type fullRunResult struct {
	assets  int
	failed  int
	elapsed time.Duration
}

// checkFullRun finishes a TransformAll once no requested asset is pending.
// Called with the registry lock held.
func (c *Curator) checkFullRun(tx *registry.Tx) (finished bool, res fullRunResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fullRun {
		return false, res
	}
	for id := range c.requested {
		info := tx.Get(id)
		if info == nil {
			delete(c.requested, id)
			continue
		}
		if tx.IsStale(id) || tx.IsUpdating(id) || info.State.NeedsWork() {
			return false, fullRunResult{}
		}
		res.assets++
		if info.State != asset.StateUpToDate && info.State != asset.StateNeedsImport {
			res.failed++
		}
	}
	res.elapsed = time.Since(c.fullRunStart)
	c.fullRun = false
	clear(c.requested)
	return true, res
}

func (c *Curator) finishFullRun(ctx context.Context, res fullRunResult) {
	if err := c.notifier.NotifyFullTransformCompleted(ctx, res.assets, res.failed, res.elapsed); err != nil {
		c.logger.Warn("full transform notification failed", logging.Error(err))
	}
	if res.failed > 0 {
		logging.WarnWithContext(c.logger, "full transform finished with failures", "full_transform_failed",
			logging.Int("assets", res.assets),
			logging.Int("failed", res.failed),
			logging.String(logging.FieldErrorHint, "run 'curator assets --state transform_error' to inspect"),
			logging.String(logging.FieldImpact, "last full transform date not updated"))
		return
	}
	c.logger.Info("full transform finished", logging.Int("assets", res.assets), logging.Duration("elapsed", res.elapsed))
	if c.store == nil {
		return
	}
	if err := c.store.SetLastFullTransform(ctx, time.Now()); err != nil {
		c.logger.Warn("record full transform date failed", logging.Error(err))
	}
}

func (c *Curator) isRequested(id uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.requested[id]
	return ok
}

func (c *Curator) descriptorFor(info *asset.Info) (asset.TypeDescriptor, bool) {
	typeName := ""
	if info.Declared != nil {
		typeName = info.Declared.Type
	}
	if typeName == "" {
		typeName, _ = c.matcher.TypeFor(info.AbsolutePath)
	}
	d, ok := c.types[typeName]
	return d, ok
}
