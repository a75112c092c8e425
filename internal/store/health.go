package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Health captures diagnostic information about the cache database.
type Health struct {
	Path           string `json:"path"`
	Exists         bool   `json:"exists"`
	Readable       bool   `json:"readable"`
	SchemaVersion  int    `json:"schema_version"`
	IntegrityOK    bool   `json:"integrity_ok"`
	TrackedFiles   int    `json:"tracked_files"`
	LedgerEntries  int    `json:"ledger_entries"`
	SnapshotAssets int    `json:"snapshot_assets"`
	Error          string `json:"error,omitempty"`
}

// CheckHealth inspects the cache database for the status command.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Path: s.path}
	if s.path == "" {
		return health, errors.New("cache database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat cache database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("cache database path %q is a directory", s.path)
	}
	health.Exists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping cache database: %w", err)
	}
	health.Readable = true

	if health.SchemaVersion, err = s.SchemaVersion(connCtx); err != nil {
		health.Error = err.Error()
		return health, err
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA quick_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityOK = integrity == "ok"

	counts := []struct {
		table string
		dst   *int
	}{
		{"file_status", &health.TrackedFiles},
		{"outputs", &health.LedgerEntries},
		{"assets", &health.SnapshotAssets},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM "+c.table).Scan(c.dst); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return health, nil
}

// Clear removes every cached row while keeping the schema.
func (s *Store) Clear(ctx context.Context) error {
	return s.exec(ctx, "DELETE FROM file_status; DELETE FROM outputs; DELETE FROM assets; DELETE FROM meta;")
}
