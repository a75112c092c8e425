package curator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/document"
	"curator/internal/logging"
	"curator/internal/registry"
	"curator/internal/scan"
)

// parseFailureSpace derives stable ids for assets whose sidecar cannot be read.
var parseFailureSpace = uuid.MustParse("5c1e3f8a-6b2d-4c67-9a0e-2f4b8d7c1e90")

// CheckFileSystem sweeps every data directory, registers new and modified
// assets and drops records for files that disappeared.
func (c *Curator) CheckFileSystem(ctx context.Context) error {
	start := time.Now()
	c.reg.Locked(func(tx *registry.Tx) { tx.MarkFilesUnknown() })

	seen := 0
	err := c.matcher.Walk(ctx, func(f scan.File) error {
		seen++
		return c.handleFile(ctx, f)
	})
	if err != nil {
		return err
	}
	removed := c.dropVanished()
	c.logger.Info("file system check complete",
		logging.Int("files", seen),
		logging.Int("removed", removed),
		logging.Duration("elapsed", time.Since(start)))
	c.notifyStale()
	return nil
}

// NotifyFileChange handles a single created, modified or deleted path.
func (c *Curator) NotifyFileChange(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	f := c.matcher.Classify(path)
	st, err := os.Stat(path)
	switch {
	case err != nil && errors.Is(err, os.ErrNotExist):
		c.handleRemoval(ctx, path, f)
		c.notifyStale()
		return nil
	case err != nil:
		return err
	case st.IsDir() || f.Kind == scan.KindIgnored:
		return nil
	}
	f.ModTime = st.ModTime()
	if err := c.handleFile(ctx, f); err != nil {
		return err
	}
	c.Touch(c.ownerOf(f))
	c.notifyStale()
	return nil
}

// Touch records that a user interacted with the asset at path so the
// scheduler prefers it.
func (c *Curator) Touch(path string) {
	if path == "" {
		return
	}
	c.reg.Locked(func(tx *registry.Tx) {
		if info := tx.GetByPath(path); info != nil {
			info.LastAccess = time.Now()
		}
	})
}

func (c *Curator) ownerOf(f scan.File) string {
	switch f.Kind {
	case scan.KindAsset, scan.KindSidecar:
		return f.AssetPath(c.matcher.SidecarExtension())
	}
	return ""
}

func (c *Curator) handleFile(ctx context.Context, f scan.File) error {
	switch f.Kind {
	case scan.KindAsset:
		return c.handleAsset(ctx, f)
	case scan.KindSidecar:
		assetPath := f.AssetPath(c.matcher.SidecarExtension())
		st, err := os.Stat(assetPath)
		if err != nil {
			// Orphaned sidecar; nothing to register until the asset appears.
			return nil
		}
		owner := c.matcher.Classify(assetPath)
		owner.ModTime = st.ModTime()
		return c.handleAsset(ctx, owner)
	case scan.KindFile:
		c.handlePlainFile(f)
	}
	return nil
}

// handleAsset reloads the asset document unless both the asset file and its
// sidecar are unchanged since the last look.
func (c *Curator) handleAsset(ctx context.Context, f scan.File) error {
	sidecar := document.Path(f.AbsolutePath, c.matcher.SidecarExtension())
	scMod := modTime(sidecar)
	unchanged := false
	c.reg.Locked(func(tx *registry.Tx) {
		info := tx.GetByPath(f.AbsolutePath)
		st, sst := tx.File(f.AbsolutePath), tx.File(sidecar)
		if info == nil || st == nil || sst == nil || !st.ModTime.Equal(f.ModTime) || !sst.ModTime.Equal(scMod) {
			return
		}
		st.Status, sst.Status = asset.FileValid, asset.FileValid
		info.Existence = asset.ExistenceUnchanged
		unchanged = true
	})
	if unchanged {
		return nil
	}
	return c.reloadAsset(ctx, f)
}

func (c *Curator) reloadAsset(ctx context.Context, f scan.File) error {
	declared, loadErr := c.docs.Load(f.AbsolutePath, f.Type)
	if loadErr != nil {
		logging.WarnWithContext(c.logger, "asset document unreadable", "asset_parse_failed",
			logging.Path(f.RelativePath),
			logging.Error(loadErr),
			logging.String(logging.FieldErrorHint, "fix or delete the "+c.matcher.SidecarExtension()+" file next to the asset"))
	}
	sidecar := document.Path(f.AbsolutePath, c.matcher.SidecarExtension())

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		scMod := modTime(sidecar)
		duplicateOf := ""
		c.reg.Locked(func(tx *registry.Tx) {
			duplicateOf = c.registerLocked(tx, f, declared, loadErr, sidecar, scMod)
		})
		if duplicateOf == "" {
			return nil
		}
		id, err := c.docs.Reidentify(f.AbsolutePath)
		if err != nil {
			return err
		}
		logging.WarnWithContext(c.logger, "duplicate asset id reassigned", "duplicate_asset_id",
			logging.Path(f.RelativePath),
			logging.String("original", duplicateOf),
			logging.AssetID(id.String()))
		if declared == nil {
			return nil
		}
		declared.ID = id
	}
	return nil
}

// registerLocked inserts, moves or refreshes the record for f. When the
// declared id already belongs to a different existing file, the path of that
// file is returned and nothing changes.
func (c *Curator) registerLocked(tx *registry.Tx, f scan.File, declared *asset.DeclaredInfo, loadErr error, sidecar string, scMod time.Time) string {
	id := uuid.NewSHA1(parseFailureSpace, []byte(c.reg.Key(f.AbsolutePath)))
	if declared != nil {
		id = declared.ID
	}

	existing := tx.GetByPath(f.AbsolutePath)
	if existing != nil && existing.ID != id {
		c.forget(existing.ID)
		tx.Remove(existing.ID)
		existing = nil
	}
	if existing == nil {
		if other := tx.Get(id); other != nil {
			if _, err := os.Stat(other.AbsolutePath); err == nil {
				return other.RelativePath
			}
			oldPath := other.AbsolutePath
			if err := tx.Move(id, f.AbsolutePath, f.RelativePath, f.DataDir); err != nil {
				return ""
			}
			c.invalidateUsersOfPathLocked(tx, oldPath)
			tx.RemoveFile(oldPath)
			tx.RemoveFile(document.Path(oldPath, c.matcher.SidecarExtension()))
			existing = other
			c.logger.Info("asset moved", logging.AssetID(id.String()), logging.Path(f.RelativePath))
		} else {
			if _, err := tx.Insert(asset.Info{
				ID:           id,
				AbsolutePath: f.AbsolutePath,
				RelativePath: f.RelativePath,
				DataDir:      f.DataDir,
				LastAccess:   time.Now(),
			}); err != nil {
				c.logger.Warn("register asset failed", logging.Path(f.RelativePath), logging.Error(err))
				return ""
			}
			existing = tx.Get(id)
		}
	} else {
		existing.Existence = asset.ExistenceUnchanged
	}

	existing.Declared = declared
	existing.ParseError = ""
	if loadErr != nil {
		existing.ParseError = loadErr.Error()
	}
	deps, refs := c.edgeKeys(declared, f.AbsolutePath)
	tx.SetEdges(id, deps, refs)
	tx.SetFile(asset.FileStatus{Path: f.AbsolutePath, ModTime: f.ModTime, AssetID: id, Status: asset.FileValid})
	tx.SetFile(asset.FileStatus{Path: sidecar, ModTime: scMod, AssetID: id, Status: asset.FileValid})
	tx.Invalidate(id)
	for _, user := range c.usersLocked(tx, id) {
		tx.Invalidate(user)
	}
	return ""
}

// handlePlainFile invalidates users of a non-asset file that changed or
// appeared.
func (c *Curator) handlePlainFile(f scan.File) {
	c.reg.Locked(func(tx *registry.Tx) {
		if st := tx.File(f.AbsolutePath); st != nil {
			if st.ModTime.Equal(f.ModTime) {
				st.Status = asset.FileValid
				return
			}
			tx.RemoveFile(f.AbsolutePath)
		}
		c.invalidateUsersOfPathLocked(tx, f.AbsolutePath)
	})
}

func (c *Curator) handleRemoval(ctx context.Context, path string, f scan.File) {
	sidecarExt := c.matcher.SidecarExtension()
	var reload string
	c.reg.Locked(func(tx *registry.Tx) {
		tx.RemoveFile(path)
		if info := tx.GetByPath(path); info != nil {
			c.invalidateUsersOfPathLocked(tx, path)
			for _, user := range c.usersLocked(tx, info.ID) {
				tx.Invalidate(user)
			}
			c.forget(info.ID)
			tx.Remove(info.ID)
			tx.RemoveFile(document.Path(path, sidecarExt))
			c.logger.Info("asset removed", logging.AssetID(info.ID.String()), logging.Path(info.RelativePath))
			return
		}
		if f.Kind == scan.KindSidecar {
			if owner := tx.GetByPath(f.AssetPath(sidecarExt)); owner != nil {
				reload = owner.AbsolutePath
			}
			return
		}
		c.invalidateUsersOfPathLocked(tx, path)
	})
	if reload == "" {
		return
	}
	owner := c.matcher.Classify(reload)
	owner.ModTime = modTime(reload)
	if err := c.reloadAsset(ctx, owner); err != nil {
		c.logger.Warn("reload asset failed", logging.Path(owner.RelativePath), logging.Error(err))
	}
}

// dropVanished removes tracked files the sweep did not see and which no
// longer exist or are now ignored. Tracked files outside the data
// directories are re-checked by modification time.
func (c *Curator) dropVanished() int {
	var unknown []asset.FileStatus
	c.reg.Locked(func(tx *registry.Tx) {
		for _, st := range tx.Files() {
			if st.Status == asset.FileUnknown {
				unknown = append(unknown, st)
			}
		}
	})

	removed := 0
	for _, st := range unknown {
		info, err := os.Stat(st.Path)
		gone := err != nil
		if !gone && c.matcher.Classify(st.Path).Kind == scan.KindIgnored {
			_, _, inside := c.matcher.Locate(st.Path)
			gone = inside
		}
		c.reg.Locked(func(tx *registry.Tx) {
			switch {
			case gone:
				tx.RemoveFile(st.Path)
				if a := tx.GetByPath(st.Path); a != nil {
					for _, user := range c.usersLocked(tx, a.ID) {
						tx.Invalidate(user)
					}
					c.forget(a.ID)
					tx.Remove(a.ID)
					removed++
					return
				}
				c.invalidateUsersOfPathLocked(tx, st.Path)
			case !info.ModTime().Equal(st.ModTime):
				tx.RemoveFile(st.Path)
				c.invalidateUsersOfPathLocked(tx, st.Path)
			default:
				if cur := tx.File(st.Path); cur != nil {
					cur.Status = asset.FileValid
				}
			}
		})
	}
	return removed
}

func (c *Curator) invalidateUsersOfPathLocked(tx *registry.Tx, path string) {
	for _, user := range c.usersOfKeysLocked(tx, c.reg.Key(path)) {
		tx.Invalidate(user)
	}
}

// forget drops curator-side bookkeeping for an asset about to be removed.
// Called with the registry lock held.
func (c *Curator) forget(id uuid.UUID) {
	delete(c.evaluated, id)
	c.mu.Lock()
	delete(c.requested, id)
	c.mu.Unlock()
}

func modTime(path string) time.Time {
	st, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return st.ModTime()
}
