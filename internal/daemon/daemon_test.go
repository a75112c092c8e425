package daemon

import (
	"context"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"curator/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(testsupport.EchoWorker))
	d := newTestDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("lock should be released after stop: ok=%v err=%v", ok, err)
	}
	_ = lock.Unlock()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(testsupport.EchoWorker))
	first := newTestDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		_ = lock.Unlock()
		t.Fatal("lock should be held by the running daemon")
	}
}

func TestPreflightFailureBlocksStart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workers.Binary = "definitely-not-a-curator-worker"
	d := newTestDaemon(t, cfg)

	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "preflight") {
		t.Fatalf("expected preflight error, got %v", err)
	}
	if d.Running() {
		t.Fatal("daemon should not be running")
	}
}

func TestDaemonTransformsAndPersistsCaches(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(testsupport.EchoWorker))
	texID, _ := testsupport.WriteAsset(t, cfg, "textures/stone.png", testsupport.AssetSpec{})
	matID, _ := testsupport.WriteAsset(t, cfg, "materials/wall.mat", testsupport.AssetSpec{
		Dependencies: []string{"../textures/stone.png"},
	})
	d := newTestDaemon(t, cfg)
	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitForState(t, d, texID.String(), "up_to_date")
	waitForState(t, d, matID.String(), "up_to_date")

	status := d.Status(ctx)
	if status.Stats.ByState["up_to_date"] != 2 {
		t.Fatalf("unexpected stats: %+v", status.Stats)
	}
	if status.Pool.Dispatched < 2 {
		t.Fatalf("expected dispatches, got %+v", status.Pool)
	}

	d.Stop()
	records, err := d.store.LoadAssets(ctx)
	if err != nil {
		t.Fatalf("LoadAssets: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted assets, got %d", len(records))
	}
}

func TestRetryUnknownAssetFails(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(testsupport.EchoWorker))
	d := newTestDaemon(t, cfg)
	if _, err := d.Retry("missing/asset.mat"); err == nil {
		t.Fatal("expected error for unknown asset")
	}
	if err := d.SetPlatform(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank platform")
	}
}

func TestTestNotificationWithoutTopic(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d := newTestDaemon(t, cfg)
	sent, message, err := d.TestNotification(context.Background())
	if err != nil || sent {
		t.Fatalf("expected unsent without error, got sent=%v err=%v", sent, err)
	}
	if message != "ntfy topic not configured" {
		t.Fatalf("unexpected message %q", message)
	}
}
