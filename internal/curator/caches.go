package curator

import (
	"context"
	"os"

	"curator/internal/asset"
	"curator/internal/document"
	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/services"
	"curator/internal/store"
)

// LoadCaches restores file hashes and the asset snapshot from the store.
// Restored assets are queued for re-evaluation, which is cheap while their
// file hashes are still valid.
func (c *Curator) LoadCaches(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	statuses, err := c.store.LoadFileStatuses(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "curator", "load caches", "file statuses", err)
	}
	records, err := c.store.LoadAssets(ctx)
	if err != nil {
		return services.Wrap(services.ErrTransient, "curator", "load caches", "asset snapshot", err)
	}

	type loaded struct {
		rec      store.AssetRecord
		declared *asset.DeclaredInfo
	}
	var usable []loaded
	for _, rec := range records {
		if _, err := os.Stat(rec.AbsolutePath); err != nil {
			continue
		}
		typeName, ok := c.matcher.TypeFor(rec.AbsolutePath)
		if !ok {
			continue
		}
		sc, err := document.Read(document.Path(rec.AbsolutePath, c.matcher.SidecarExtension()))
		if err != nil {
			continue
		}
		declared, err := document.Declared(sc, typeName)
		if err != nil || declared.ID != rec.ID {
			continue
		}
		usable = append(usable, loaded{rec: rec, declared: declared})
	}

	restored := 0
	c.reg.Locked(func(tx *registry.Tx) {
		for _, st := range statuses {
			tx.SetFile(st)
		}
		for _, l := range usable {
			if _, err := tx.Insert(asset.Info{
				ID:           l.rec.ID,
				AbsolutePath: l.rec.AbsolutePath,
				RelativePath: l.rec.RelativePath,
				DataDir:      l.rec.DataDir,
				LastAccess:   l.rec.LastAccess,
				Declared:     l.declared,
				Existence:    asset.ExistenceUnchanged,
			}); err != nil {
				continue
			}
			info := tx.Get(l.rec.ID)
			info.AssetHash, info.ThumbHash = l.rec.AssetHash, l.rec.ThumbHash
			info.LastLog = l.rec.LastLog
			if l.rec.State == asset.StateTransformError {
				info.ErrorHash = l.rec.AssetHash
			}
			deps, refs := c.edgeKeys(l.declared, info.AbsolutePath)
			tx.SetEdges(info.ID, deps, refs)
			restored++
		}
	})
	c.logger.Info("caches loaded",
		logging.Int("assets", restored),
		logging.Int("files", len(statuses)))
	c.notifyStale()
	return nil
}

// SaveCaches writes file hashes and the asset snapshot to the store.
func (c *Curator) SaveCaches(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	var (
		statuses []asset.FileStatus
		records  []store.AssetRecord
	)
	c.reg.Locked(func(tx *registry.Tx) {
		statuses = tx.Files()
		tx.Each(func(info *asset.Info) bool {
			records = append(records, store.RecordFromInfo(*info))
			return true
		})
	})
	if err := c.store.SaveFileStatuses(ctx, statuses); err != nil {
		return services.Wrap(services.ErrTransient, "curator", "save caches", "file statuses", err)
	}
	if err := c.store.SaveAssets(ctx, records); err != nil {
		return services.Wrap(services.ErrTransient, "curator", "save caches", "asset snapshot", err)
	}
	c.logger.Debug("caches saved", logging.Int("assets", len(records)), logging.Int("files", len(statuses)))
	return nil
}
