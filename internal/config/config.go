package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"curator/internal/asset"
)

// Paths contains directory and socket configuration.
type Paths struct {
	DataDirs   []string `toml:"data_dirs"`
	CacheDir   string   `toml:"cache_dir"`
	OutputDir  string   `toml:"output_dir"`
	LogDir     string   `toml:"log_dir"`
	SocketPath string   `toml:"socket_path"`
}

// Project identifies the project the workers operate on.
type Project struct {
	Name     string `toml:"name"`
	File     string `toml:"file"`
	AppName  string `toml:"app_name"`
	Platform string `toml:"platform"`
}

// Workers contains configuration for the external worker process pool.
type Workers struct {
	Count          int      `toml:"count"`
	Binary         string   `toml:"binary"`
	ExtraArgs      []string `toml:"extra_args"`
	PollIntervalMS int      `toml:"poll_interval_ms"`
	DrainTimeout   int      `toml:"drain_timeout"`
	ShutdownGrace  int      `toml:"shutdown_grace"`
}

// Scanner controls file-system sweeps and the persistent cache.
type Scanner struct {
	Watch                bool   `toml:"watch"`
	IgnoreFile           string `toml:"ignore_file"`
	SidecarExtension     string `toml:"sidecar_extension"`
	CaseInsensitivePaths bool   `toml:"case_insensitive_paths"`
	CacheSaveInterval    int    `toml:"cache_save_interval"`
	WatchDebounceMS      int    `toml:"watch_debounce_ms"`
}

// API contains configuration for the HTTP status surface.
type API struct {
	Bind        string `toml:"bind"`
	EventBuffer int    `toml:"event_buffer"`

	// Token, when set, is required as a bearer token on mutating routes.
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format     string `toml:"format"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Notifications configures ntfy alerts.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`

	// CrashAlerts sends an alert whenever a worker dies mid-transform.
	CrashAlerts bool `toml:"crash_alerts"`
}

// AssetType declares a document type the curator tracks.
type AssetType struct {
	Name                string   `toml:"name"`
	Extensions          []string `toml:"extensions"`
	ManualTransformOnly bool     `toml:"manual_transform_only"`
	TransformDisabled   bool     `toml:"transform_disabled"`
	Thumbnail           bool     `toml:"thumbnail"`
}

// Config encapsulates all configuration values for the curator.
//
// Configuration sections by subsystem:
//   - Paths: data directories, cache/output locations, control socket
//   - Project: project file, application name, active platform profile
//   - Workers: worker binary, pool size, poll and drain timing
//   - Scanner: file watching, ignore rules, cache persistence cadence
//   - API: HTTP status and event stream surface
//   - Logging: log format, level, and rotation
//   - Notifications: ntfy alerts for full runs and worker crashes
//   - AssetTypes: known document types and their transform policy
type Config struct {
	Paths         Paths         `toml:"paths"`
	Project       Project       `toml:"project"`
	Workers       Workers       `toml:"workers"`
	Scanner       Scanner       `toml:"scanner"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	AssetTypes    []AssetType   `toml:"asset_types"`
}

// EnsureDirectories creates required directories for daemon operation.
// Data directories are created on a best-effort basis so the curator can run
// while a network share is temporarily unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range c.Paths.DataDirs {
		_ = os.MkdirAll(dir, 0o755)
	}
	return nil
}

// CacheDBPath returns the SQLite cache location.
func (c *Config) CacheDBPath() string {
	return filepath.Join(c.Paths.CacheDir, "curator.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.LogDir, "curatord.lock")
}

// PIDPath returns the daemon pid file.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.LogDir, "curator.pid")
}

// PollInterval returns the supervisor fallback poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workers.PollIntervalMS) * time.Millisecond
}

// DrainTimeout bounds how long a stopping supervisor waits for in-flight work.
// Zero means wait indefinitely.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Workers.DrainTimeout) * time.Second
}

// ShutdownGrace is how long a worker gets to exit after a shutdown message.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Workers.ShutdownGrace) * time.Second
}

// CacheSaveInterval returns how often the daemon persists curator caches.
func (c *Config) CacheSaveInterval() time.Duration {
	return time.Duration(c.Scanner.CacheSaveInterval) * time.Second
}

// WatchDebounce returns the quiet period applied to file change bursts.
func (c *Config) WatchDebounce() time.Duration {
	return time.Duration(c.Scanner.WatchDebounceMS) * time.Millisecond
}

// Descriptors converts the configured asset types into type descriptors.
func (c *Config) Descriptors() []asset.TypeDescriptor {
	out := make([]asset.TypeDescriptor, 0, len(c.AssetTypes))
	for _, t := range c.AssetTypes {
		exts := make([]string, len(t.Extensions))
		copy(exts, t.Extensions)
		out = append(out, asset.TypeDescriptor{
			Name:                t.Name,
			Extensions:          exts,
			ManualTransformOnly: t.ManualTransformOnly,
			TransformDisabled:   t.TransformDisabled,
			SupportsThumbnail:   t.Thumbnail,
		})
	}
	return out
}
