package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metaLastFullTransform = "last_full_transform"

// SetMeta stores a free-form key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	err := s.exec(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta reads a key stored with SetMeta.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, true, nil
}

// SetLastFullTransform records when every asset was last brought up to date.
func (s *Store) SetLastFullTransform(ctx context.Context, at time.Time) error {
	return s.SetMeta(ctx, metaLastFullTransform, at.UTC().Format(time.RFC3339))
}

// LastFullTransform returns the time recorded by SetLastFullTransform.
func (s *Store) LastFullTransform(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.Meta(ctx, metaLastFullTransform)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", metaLastFullTransform, err)
	}
	return ts, true, nil
}
