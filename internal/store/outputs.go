package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Output is the ledger row describing what the last successful worker run
// for an asset produced on one platform.
type Output struct {
	AssetID       uuid.UUID
	Platform      string
	AssetHash     uint64
	ThumbHash     uint64
	TransformedAt time.Time
	ThumbnailedAt time.Time
}

// RecordTransform stores the hashes an asset was transformed with. A
// transform also renders the thumbnail, so both hashes are written.
func (s *Store) RecordTransform(ctx context.Context, id uuid.UUID, platform string, assetHash, thumbHash uint64) error {
	now := formatTime(time.Now())
	err := s.exec(ctx, `INSERT INTO outputs (asset_id, platform, asset_hash, thumb_hash, transformed_at, thumbnailed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id, platform) DO UPDATE SET
			asset_hash = excluded.asset_hash,
			thumb_hash = excluded.thumb_hash,
			transformed_at = excluded.transformed_at,
			thumbnailed_at = excluded.thumbnailed_at`,
		id.String(), platform, hashToDB(assetHash), hashToDB(thumbHash), now, now)
	if err != nil {
		return fmt.Errorf("record transform %s: %w", id, err)
	}
	return nil
}

// RecordThumbnail stores the reference hash of a freshly rendered thumbnail.
func (s *Store) RecordThumbnail(ctx context.Context, id uuid.UUID, platform string, thumbHash uint64) error {
	now := formatTime(time.Now())
	err := s.exec(ctx, `INSERT INTO outputs (asset_id, platform, thumb_hash, thumbnailed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset_id, platform) DO UPDATE SET
			thumb_hash = excluded.thumb_hash,
			thumbnailed_at = excluded.thumbnailed_at`,
		id.String(), platform, hashToDB(thumbHash), now)
	if err != nil {
		return fmt.Errorf("record thumbnail %s: %w", id, err)
	}
	return nil
}

// Output returns the ledger row for id on platform.
func (s *Store) Output(ctx context.Context, id uuid.UUID, platform string) (Output, bool, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT asset_id, platform, asset_hash, thumb_hash, transformed_at, thumbnailed_at
		FROM outputs WHERE asset_id = ? AND platform = ?`, id.String(), platform)
	out, err := scanOutput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Output{}, false, nil
	}
	if err != nil {
		return Output{}, false, err
	}
	return out, true, nil
}

// Outputs loads the whole ledger for platform keyed by asset id.
func (s *Store) Outputs(ctx context.Context, platform string) (map[uuid.UUID]Output, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT asset_id, platform, asset_hash, thumb_hash, transformed_at, thumbnailed_at
		FROM outputs WHERE platform = ?`, platform)
	if err != nil {
		return nil, fmt.Errorf("query outputs: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]Output)
	for rows.Next() {
		o, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		out[o.AssetID] = o
	}
	return out, rows.Err()
}

// DeleteOutputs forgets every platform's ledger row for id.
func (s *Store) DeleteOutputs(ctx context.Context, id uuid.UUID) error {
	if err := s.exec(ctx, "DELETE FROM outputs WHERE asset_id = ?", id.String()); err != nil {
		return fmt.Errorf("delete outputs %s: %w", id, err)
	}
	return nil
}

func scanOutput(scanner interface{ Scan(dest ...any) error }) (Output, error) {
	var (
		rawID       string
		out         Output
		assetHash   int64
		thumbHash   int64
		transformed sql.NullString
		thumbnailed sql.NullString
	)
	if err := scanner.Scan(&rawID, &out.Platform, &assetHash, &thumbHash, &transformed, &thumbnailed); err != nil {
		return Output{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Output{}, fmt.Errorf("parse output asset id %q: %w", rawID, err)
	}
	out.AssetID = id
	out.AssetHash = hashFromDB(assetHash)
	out.ThumbHash = hashFromDB(thumbHash)
	out.TransformedAt = parseTime(transformed)
	out.ThumbnailedAt = parseTime(thumbnailed)
	return out, nil
}
