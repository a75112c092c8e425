package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
)

// SaveFileStatuses replaces the persisted file status cache. Only valid
// entries are kept; anything else would need rehashing on load anyway.
func (s *Store) SaveFileStatuses(ctx context.Context, statuses []asset.FileStatus) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM file_status"); err != nil {
			return fmt.Errorf("clear file status: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO file_status (path, mod_time, hash, asset_id) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare file status insert: %w", err)
		}
		defer stmt.Close()
		for _, st := range statuses {
			if st.Status != asset.FileValid {
				continue
			}
			var id any
			if st.AssetID != uuid.Nil {
				id = st.AssetID.String()
			}
			if _, err := stmt.ExecContext(ctx, st.Path, st.ModTime.UnixNano(), hashToDB(st.Hash), id); err != nil {
				return fmt.Errorf("insert file status %s: %w", st.Path, err)
			}
		}
		return nil
	})
}

// LoadFileStatuses returns the persisted cache. Entries come back Unknown
// until the next sweep confirms them.
func (s *Store) LoadFileStatuses(ctx context.Context) ([]asset.FileStatus, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT path, mod_time, hash, asset_id FROM file_status ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("query file status: %w", err)
	}
	defer rows.Close()

	var out []asset.FileStatus
	for rows.Next() {
		var (
			path    string
			modTime int64
			hash    int64
			assetID sql.NullString
		)
		if err := rows.Scan(&path, &modTime, &hash, &assetID); err != nil {
			return nil, fmt.Errorf("scan file status: %w", err)
		}
		st := asset.FileStatus{
			Path:    path,
			ModTime: time.Unix(0, modTime),
			Hash:    hashFromDB(hash),
			Status:  asset.FileUnknown,
		}
		if assetID.Valid {
			if id, err := uuid.Parse(assetID.String); err == nil {
				st.AssetID = id
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}
