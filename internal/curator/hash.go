package curator

import (
	"encoding/binary"
	"hash"
	"os"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/fileutil"
	"curator/internal/logging"
	"curator/internal/registry"
)

// fileHash returns the content hash of path, reusing the cached value while
// the modification time is unchanged. Hashing happens outside the registry
// lock.
func (c *Curator) fileHash(path string) (uint64, bool) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return 0, false
	}
	mod := st.ModTime()

	var cached uint64
	c.reg.Locked(func(tx *registry.Tx) {
		if fs := tx.File(path); fs != nil && fs.Hash != 0 && fs.ModTime.Equal(mod) {
			cached = fs.Hash
			fs.Status = asset.FileValid
		}
	})
	if cached != 0 {
		return cached, true
	}

	sum, err := fileutil.HashFile(path)
	if err != nil {
		c.logger.Debug("hash file failed", logging.Path(path), logging.Error(err))
		// The file exists but cannot be read yet; it is hashed again on the
		// next pass.
		c.reg.Locked(func(tx *registry.Tx) {
			var owner uuid.UUID
			if fs := tx.File(path); fs != nil {
				owner = fs.AssetID
			}
			tx.SetFile(asset.FileStatus{Path: path, ModTime: mod, AssetID: owner, Status: asset.FileLocked})
		})
		return 0, false
	}
	c.reg.Locked(func(tx *registry.Tx) {
		var owner uuid.UUID
		if fs := tx.File(path); fs != nil {
			owner = fs.AssetID
		}
		tx.SetFile(asset.FileStatus{Path: path, ModTime: mod, Hash: sum, AssetID: owner, Status: asset.FileValid})
	})
	return sum, true
}

func writeUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}
