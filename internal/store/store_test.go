package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"curator/internal/asset"
	"curator/internal/store"
	"curator/internal/testsupport"
)

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	version, err := st.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 1 {
		t.Fatalf("expected schema version 1, got %d", version)
	}
	if st.Path() != cfg.CacheDBPath() {
		t.Fatalf("unexpected path %q", st.Path())
	}
}

func TestOutputsArePerPlatform(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	id := uuid.New()

	if err := st.RecordTransform(ctx, id, "default", 0xdeadbeefcafebabe, 42); err != nil {
		t.Fatalf("RecordTransform: %v", err)
	}
	if err := st.RecordThumbnail(ctx, id, "default", 43); err != nil {
		t.Fatalf("RecordThumbnail: %v", err)
	}

	out, ok, err := st.Output(ctx, id, "default")
	if err != nil || !ok {
		t.Fatalf("Output: ok=%v err=%v", ok, err)
	}
	if out.AssetHash != 0xdeadbeefcafebabe {
		t.Fatalf("asset hash did not survive the signed column: %x", out.AssetHash)
	}
	if out.ThumbHash != 43 {
		t.Fatalf("expected thumbnail hash 43, got %d", out.ThumbHash)
	}
	if out.TransformedAt.IsZero() || out.ThumbnailedAt.IsZero() {
		t.Fatalf("timestamps not recorded: %+v", out)
	}

	if _, ok, err := st.Output(ctx, id, "mobile"); err != nil || ok {
		t.Fatalf("expected no mobile output, ok=%v err=%v", ok, err)
	}
	all, err := st.Outputs(ctx, "default")
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one ledger row, got %d", len(all))
	}

	if err := st.DeleteOutputs(ctx, id); err != nil {
		t.Fatalf("DeleteOutputs: %v", err)
	}
	if _, ok, _ := st.Output(ctx, id, "default"); ok {
		t.Fatal("output should be gone")
	}
}

func TestFileStatusesKeepOnlyValidEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	mod := time.Unix(1700000000, 123456789)
	owner := uuid.New()

	statuses := []asset.FileStatus{
		{Path: "/data/a.mat", ModTime: mod, Hash: 7, AssetID: owner, Status: asset.FileValid},
		{Path: "/data/b.raw", ModTime: mod, Hash: 9, Status: asset.FileUnknown},
	}
	if err := st.SaveFileStatuses(ctx, statuses); err != nil {
		t.Fatalf("SaveFileStatuses: %v", err)
	}
	loaded, err := st.LoadFileStatuses(ctx)
	if err != nil {
		t.Fatalf("LoadFileStatuses: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("expected 1 status, got %d", len(loaded))
	}
	got := loaded[0]
	if got.Path != "/data/a.mat" || got.Hash != 7 || got.AssetID != owner {
		t.Fatalf("unexpected status %+v", got)
	}
	if !got.ModTime.Equal(mod) {
		t.Fatalf("mod time lost precision: %v vs %v", got.ModTime, mod)
	}
	if got.Status != asset.FileUnknown {
		t.Fatalf("loaded statuses must start unknown, got %q", got.Status)
	}
}

func TestAssetSnapshotReplacesPrevious(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := store.AssetRecord{
		ID:           uuid.New(),
		AbsolutePath: filepath.Join(testsupport.DataDir(cfg), "a.mat"),
		RelativePath: "a.mat",
		State:        asset.StateTransformError,
		AssetHash:    1 << 63,
		LastLog:      []asset.LogEntry{{Level: "error", Message: "boom"}},
		LastAccess:   time.Now().Truncate(time.Millisecond),
	}
	if err := st.SaveAssets(ctx, []store.AssetRecord{first}); err != nil {
		t.Fatalf("SaveAssets: %v", err)
	}
	second := first
	second.ID = uuid.New()
	second.AbsolutePath = filepath.Join(testsupport.DataDir(cfg), "b.mat")
	if err := st.SaveAssets(ctx, []store.AssetRecord{second}); err != nil {
		t.Fatalf("SaveAssets: %v", err)
	}

	records, err := st.LoadAssets(ctx)
	if err != nil {
		t.Fatalf("LoadAssets: %v", err)
	}
	if len(records) != 1 || records[0].ID != second.ID {
		t.Fatalf("expected only the second snapshot, got %+v", records)
	}
	rec := records[0]
	if rec.AssetHash != 1<<63 || rec.State != asset.StateTransformError {
		t.Fatalf("unexpected record %+v", rec)
	}
	if len(rec.LastLog) != 1 || rec.LastLog[0].Message != "boom" {
		t.Fatalf("log not restored: %+v", rec.LastLog)
	}
	if !rec.LastAccess.Equal(first.LastAccess) {
		t.Fatalf("last access %v != %v", rec.LastAccess, first.LastAccess)
	}
}

func TestLastFullTransform(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, ok, err := st.LastFullTransform(ctx); err != nil || ok {
		t.Fatalf("expected no date yet, ok=%v err=%v", ok, err)
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.SetLastFullTransform(ctx, at); err != nil {
		t.Fatalf("SetLastFullTransform: %v", err)
	}
	got, ok, err := st.LastFullTransform(ctx)
	if err != nil || !ok {
		t.Fatalf("LastFullTransform: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}

func TestHealthAndClear(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	if err := st.RecordTransform(ctx, uuid.New(), "default", 1, 2); err != nil {
		t.Fatalf("RecordTransform: %v", err)
	}

	health, err := st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.Exists || !health.IntegrityOK || health.LedgerEntries != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	health, err = st.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if health.LedgerEntries != 0 {
		t.Fatalf("expected empty ledger after clear, got %d", health.LedgerEntries)
	}
}

func TestOpenRebuildsCacheFromOtherSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE legacy_items (id INTEGER PRIMARY KEY)",
		"PRAGMA user_version = 7",
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw db: %v", err)
	}

	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer st.Close()

	if st.RebuiltFrom() != 7 {
		t.Fatalf("expected rebuild from version 7, got %d", st.RebuiltFrom())
	}
	version, err := st.SchemaVersion(context.Background())
	if err != nil || version != 1 {
		t.Fatalf("expected schema version 1, got %d (%v)", version, err)
	}
	if err := st.RecordTransform(context.Background(), uuid.New(), "default", 1, 2); err != nil {
		t.Fatalf("rebuilt schema should accept writes: %v", err)
	}
}
