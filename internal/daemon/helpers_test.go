package daemon

import (
	"context"
	"testing"
	"time"

	"curator/internal/api"
	"curator/internal/config"
	"curator/internal/curator"
	"curator/internal/events"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/processor"
	"curator/internal/testsupport"
)

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	ctx := context.Background()
	st := testsupport.MustOpenStore(t, cfg)
	hub := events.NewHub()
	cur, err := curator.New(ctx, curator.Options{Config: cfg, Store: st, Events: hub})
	if err != nil {
		t.Fatalf("curator.New: %v", err)
	}
	m := metrics.New(cur.Stats)
	proc, err := processor.New(processor.Options{Config: cfg, Curator: cur, Events: hub, Metrics: m})
	if err != nil {
		t.Fatalf("processor.New: %v", err)
	}
	d, err := New(Options{
		Config:    cfg,
		Store:     st,
		Curator:   cur,
		Processor: proc,
		Events:    hub,
		Metrics:   m,
		LogHub:    logging.NewStreamHub(64),
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func waitForState(t *testing.T, d *Daemon, ref, want string) api.AssetView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var view api.AssetView
	for time.Now().Before(deadline) {
		var err error
		view, err = d.Assets().Describe(ref)
		if err == nil && view.State == want && !view.Updating {
			return view
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("asset %s: want %s, have %+v", ref, want, view)
	return view
}
