package processor_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"curator/internal/asset"
	"curator/internal/config"
	"curator/internal/curator"
	"curator/internal/processor"
	"curator/internal/testsupport"
)

const echoWorker = `#!/bin/sh
while IFS= read -r line; do
  case "$line" in
    *'"type":"shutdown"'*) exit 0 ;;
  esac
  id=$(printf '%s' "$line" | sed -n 's/.*"asset_id":"\([^"]*\)".*/\1/p')
  printf '{"type":"log","payload":{"level":"info","message":"processing"}}\n'
  printf '{"type":"process_asset_response","payload":{"asset_id":"%s","status":"success"}}\n' "$id"
done
`

// slowWorker answers after a delay taken from the SLOW_SECONDS file next to
// the script, so tests can hold an assignment in flight.
const slowWorker = `#!/bin/sh
dir=$(dirname "$0")
while IFS= read -r line; do
  case "$line" in
    *'"type":"shutdown"'*) exit 0 ;;
  esac
  id=$(printf '%s' "$line" | sed -n 's/.*"asset_id":"\([^"]*\)".*/\1/p')
  sleep "$(cat "$dir/SLOW_SECONDS")"
  printf '{"type":"process_asset_response","payload":{"asset_id":"%s","status":"success"}}\n' "$id"
done
`

type harness struct {
	cfg     *config.Config
	cur     *curator.Curator
	manager *processor.Manager
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return &harness{cfg: cfg}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	st := testsupport.MustOpenStore(t, h.cfg)
	cur, err := curator.New(ctx, curator.Options{Config: h.cfg, Store: st})
	if err != nil {
		t.Fatalf("curator: %v", err)
	}
	if err := cur.CheckFileSystem(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	cur.Start(ctx)
	mgr, err := processor.New(processor.Options{Config: h.cfg, Curator: cur})
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	if err := mgr.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.cur, h.manager = cur, mgr
	t.Cleanup(func() {
		mgr.Stop()
		cur.Stop()
		cancel()
	})
}

func (h *harness) waitState(t *testing.T, id uuid.UUID, want asset.State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := h.cur.Info(id); ok && info.State == want && !h.cur.IsUpdating(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	info, _ := h.cur.Info(id)
	t.Fatalf("asset %s: want state %s, have %s (updating=%v)", id, want, info.State, h.cur.IsUpdating(id))
}

func setSlowSeconds(t *testing.T, cfg *config.Config, seconds string) {
	t.Helper()
	path := filepath.Join(filepath.Dir(cfg.Workers.Binary), "SLOW_SECONDS")
	if err := os.WriteFile(path, []byte(seconds), 0o644); err != nil {
		t.Fatalf("write delay: %v", err)
	}
}

func TestManagerTransformsDependencyChain(t *testing.T) {
	h := newHarness(t, testsupport.WithStubWorker(echoWorker), testsupport.WithWorkers(2))
	matID, _ := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	meshID, _ := testsupport.WriteAsset(t, h.cfg, "mesh.obj", testsupport.AssetSpec{Dependencies: []string{"mat.mat"}})
	h.start(t)

	h.waitState(t, matID, asset.StateUpToDate)
	h.waitState(t, meshID, asset.StateUpToDate)

	st := h.manager.Status()
	if !st.Running || len(st.Slots) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Dispatched < 2 {
		t.Fatalf("expected at least two dispatches, got %d", st.Dispatched)
	}
}

func TestManagerForwardsWorkerLogs(t *testing.T) {
	h := newHarness(t, testsupport.WithStubWorker(echoWorker))
	id, _ := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	h.start(t)

	select {
	case line := <-h.manager.Logs():
		if line.AssetID != id.String() || line.Entry.Message != "processing" {
			t.Fatalf("unexpected log line: %+v", line)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no worker log forwarded")
	}
}

func TestManagerKilledWorkerMarksErrorAndRespawns(t *testing.T) {
	h := newHarness(t, testsupport.WithStubWorker(slowWorker))
	setSlowSeconds(t, h.cfg, "30")
	id, path := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	h.start(t)

	deadline := time.Now().Add(10 * time.Second)
	for h.manager.Slots()[0].Status().AssetID != id.String() {
		if time.Now().After(deadline) {
			t.Fatal("asset never dispatched")
		}
		time.Sleep(10 * time.Millisecond)
	}
	firstPID := h.manager.Slots()[0].Status().PID
	h.manager.Slots()[0].Kill()
	h.waitState(t, id, asset.StateTransformError)

	info, _ := h.cur.Info(id)
	if len(info.LastLog) == 0 {
		t.Fatal("expected crash log entry")
	}

	setSlowSeconds(t, h.cfg, "0")
	testsupport.WriteText(t, path, "changed content")
	if err := h.cur.NotifyFileChange(context.Background(), path); err != nil {
		t.Fatalf("notify: %v", err)
	}
	h.waitState(t, id, asset.StateUpToDate)

	st := h.manager.Slots()[0].Status()
	if st.Restarts != 1 {
		t.Fatalf("expected one restart, got %d", st.Restarts)
	}
	if st.PID == firstPID {
		t.Fatal("expected a fresh worker process")
	}
}

func TestStopDrainsInFlightWork(t *testing.T) {
	h := newHarness(t, testsupport.WithStubWorker(slowWorker))
	setSlowSeconds(t, h.cfg, "0.3")
	id, _ := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	h.start(t)

	deadline := time.Now().Add(10 * time.Second)
	for !h.manager.Slots()[0].Busy() {
		if time.Now().After(deadline) {
			t.Fatal("asset never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	h.manager.Stop()

	if h.manager.Running() {
		t.Fatal("manager still running after Stop")
	}
	if h.cur.IsUpdating(id) {
		t.Fatal("drained asset still marked updating")
	}
	if h.manager.Slots()[0].Status().Running {
		t.Fatal("worker process still running after Stop")
	}
}

func TestStopKillsWorkersAfterDrainTimeout(t *testing.T) {
	h := newHarness(t, testsupport.WithStubWorker(slowWorker))
	h.cfg.Workers.DrainTimeout = 1
	setSlowSeconds(t, h.cfg, "30")
	id, _ := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	h.start(t)

	deadline := time.Now().Add(10 * time.Second)
	for !h.manager.Slots()[0].Busy() {
		if time.Now().After(deadline) {
			t.Fatal("asset never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}
	started := time.Now()
	h.manager.Stop()
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Fatalf("stop took %s", elapsed)
	}
	h.waitState(t, id, asset.StateTransformError)
}

func TestSpawnFailureDoesNotStopThePool(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workers.Binary = filepath.Join(testsupport.BaseDir(h.cfg), "missing-worker")
	id, _ := testsupport.WriteAsset(t, h.cfg, "mat.mat", testsupport.AssetSpec{})
	h.start(t)

	h.waitState(t, id, asset.StateTransformError)
	if !h.manager.Running() {
		t.Fatal("pool stopped after a spawn failure")
	}
	if h.manager.Status().LastError == "" {
		t.Fatal("expected last error to be recorded")
	}
}
