package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"curator/internal/config"
	"curator/internal/curator"
	"curator/internal/daemon"
	"curator/internal/events"
	"curator/internal/ipc"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/processor"
	"curator/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	logPath    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	cfg := testsupport.NewConfig(t, testsupport.WithStubWorker(testsupport.EchoWorker))
	cfg.API.Bind = ""

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	logPath := filepath.Join(cfg.Paths.LogDir, "curator.log")
	testsupport.WriteText(t, logPath, "daemon booted\n")

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
	d, err := daemon.New(daemon.Options{
		Config:    cfg,
		Store:     st,
		Curator:   cur,
		Processor: proc,
		Events:    hub,
		Metrics:   m,
		LogHub:    logging.NewStreamHub(64),
		LogPath:   logPath,
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	srv, err := ipc.NewServer(srvCtx, cfg.Paths.SocketPath, d, logging.NewNop())
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		_ = d.Close()
	})

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: cfg.Paths.SocketPath,
		configPath: configPath,
		logPath:    logPath,
	}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, args, e.socketPath, e.configPath)
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
