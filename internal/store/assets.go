package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
)

// AssetRecord is the persisted subset of an asset's registry entry.
type AssetRecord struct {
	ID           uuid.UUID
	AbsolutePath string
	RelativePath string
	DataDir      string
	State        asset.State
	AssetHash    uint64
	ThumbHash    uint64
	LastAccess   time.Time
	LastLog      []asset.LogEntry
}

// RecordFromInfo captures the persisted fields of info.
func RecordFromInfo(info asset.Info) AssetRecord {
	return AssetRecord{
		ID:           info.ID,
		AbsolutePath: info.AbsolutePath,
		RelativePath: info.RelativePath,
		DataDir:      info.DataDir,
		State:        info.State,
		AssetHash:    info.AssetHash,
		ThumbHash:    info.ThumbHash,
		LastAccess:   info.LastAccess,
		LastLog:      info.LastLog,
	}
}

// SaveAssets replaces the asset snapshot.
func (s *Store) SaveAssets(ctx context.Context, records []AssetRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM assets"); err != nil {
			return fmt.Errorf("clear assets: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO assets
			(asset_id, abs_path, rel_path, data_dir, state, asset_hash, thumb_hash, last_access, last_log)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare asset insert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range records {
			var logJSON any
			if len(rec.LastLog) > 0 {
				data, err := json.Marshal(rec.LastLog)
				if err != nil {
					return fmt.Errorf("encode log for %s: %w", rec.ID, err)
				}
				logJSON = string(data)
			}
			if _, err := stmt.ExecContext(ctx,
				rec.ID.String(), rec.AbsolutePath, rec.RelativePath, rec.DataDir, string(rec.State),
				hashToDB(rec.AssetHash), hashToDB(rec.ThumbHash), formatTime(rec.LastAccess), logJSON,
			); err != nil {
				return fmt.Errorf("insert asset %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// LoadAssets returns the persisted snapshot ordered by path.
func (s *Store) LoadAssets(ctx context.Context) ([]AssetRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT asset_id, abs_path, rel_path, data_dir, state,
		asset_hash, thumb_hash, last_access, last_log FROM assets ORDER BY abs_path`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var out []AssetRecord
	for rows.Next() {
		var (
			rawID      string
			rec        AssetRecord
			state      string
			assetHash  int64
			thumbHash  int64
			lastAccess sql.NullString
			lastLog    sql.NullString
		)
		if err := rows.Scan(&rawID, &rec.AbsolutePath, &rec.RelativePath, &rec.DataDir, &state,
			&assetHash, &thumbHash, &lastAccess, &lastLog); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			continue
		}
		rec.ID = id
		rec.State, _ = asset.ParseState(state)
		if rec.State == "" {
			rec.State = asset.StateUnknown
		}
		rec.AssetHash = hashFromDB(assetHash)
		rec.ThumbHash = hashFromDB(thumbHash)
		rec.LastAccess = parseTime(lastAccess)
		if lastLog.Valid && lastLog.String != "" {
			_ = json.Unmarshal([]byte(lastLog.String), &rec.LastLog)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
