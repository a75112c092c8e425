package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"curator/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// File watching is off and timings are short.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDirs = []string{filepath.Join(base, "data")}
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.OutputDir = filepath.Join(base, "cache", "output")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SocketPath = filepath.Join(base, "curator.sock")
	cfgVal.Project.Name = "test"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Workers.Count = 1
	cfgVal.Workers.PollIntervalMS = 10
	cfgVal.Workers.DrainTimeout = 5
	cfgVal.Workers.ShutdownGrace = 1
	cfgVal.Scanner.Watch = false
	cfgVal.Scanner.WatchDebounceMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorkers sets the worker slot count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Workers.Count = n
	}
}

// WithPlatform overrides the active platform.
func WithPlatform(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Project.Platform = name
	}
}

// WithAssetType appends an asset type declaration.
func WithAssetType(at config.AssetType) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.AssetTypes = append(b.cfg.AssetTypes, at)
	}
}

// WithStubWorker writes script as an executable worker binary and points
// the config at it.
func WithStubWorker(script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "curator-worker")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write stub worker: %v", err)
		}
		b.cfg.Workers.Binary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CacheDir)
}

// DataDir returns the first data directory of cfg.
func DataDir(cfg *config.Config) string {
	return cfg.Paths.DataDirs[0]
}
