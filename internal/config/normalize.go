package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides holds CURATOR_* environment values that take precedence over the file.
type envOverrides struct {
	WorkerCount  int    `envconfig:"WORKER_COUNT"`
	WorkerBinary string `envconfig:"WORKER_BINARY"`
	Platform     string `envconfig:"PLATFORM"`
	ProjectFile  string `envconfig:"PROJECT"`
	LogLevel     string `envconfig:"LOG_LEVEL"`
	LogFormat    string `envconfig:"LOG_FORMAT"`
	APIBind      string `envconfig:"API_BIND"`
	NtfyTopic    string `envconfig:"NTFY_TOPIC"`
	APIToken     string `envconfig:"API_TOKEN"`
}

func defaultWorkerCount() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

func (c *Config) normalize() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeProject(); err != nil {
		return err
	}
	c.normalizeWorkers()
	c.normalizeScanner()
	c.normalizeAPI()
	c.normalizeLogging()
	c.normalizeNotifications()
	c.normalizeAssetTypes()
	return nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("curator", &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if env.WorkerCount > 0 {
		c.Workers.Count = env.WorkerCount
	}
	if v := strings.TrimSpace(env.WorkerBinary); v != "" {
		c.Workers.Binary = v
	}
	if v := strings.TrimSpace(env.Platform); v != "" {
		c.Project.Platform = v
	}
	if v := strings.TrimSpace(env.ProjectFile); v != "" {
		c.Project.File = v
	}
	if v := strings.TrimSpace(env.LogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(env.LogFormat); v != "" {
		c.Logging.Format = v
	}
	if v := strings.TrimSpace(env.APIBind); v != "" {
		c.API.Bind = v
	}
	if v := strings.TrimSpace(env.APIToken); v != "" {
		c.API.Token = v
	}
	if v := strings.TrimSpace(env.NtfyTopic); v != "" {
		c.Notifications.NtfyTopic = v
	}
	return nil
}

func (c *Config) normalizePaths() error {
	dirs := make([]string, 0, len(c.Paths.DataDirs))
	seen := make(map[string]struct{}, len(c.Paths.DataDirs))
	for _, dir := range c.Paths.DataDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		expanded, err := ExpandPath(strings.TrimSpace(dir))
		if err != nil {
			return fmt.Errorf("paths.data_dirs: %w", err)
		}
		if _, ok := seen[expanded]; ok {
			continue
		}
		seen[expanded] = struct{}{}
		dirs = append(dirs, expanded)
	}
	c.Paths.DataDirs = dirs

	var err error
	if strings.TrimSpace(c.Paths.CacheDir) == "" {
		c.Paths.CacheDir = defaultCacheDir
	}
	if c.Paths.CacheDir, err = ExpandPath(c.Paths.CacheDir); err != nil {
		return fmt.Errorf("paths.cache_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = filepath.Join(c.Paths.CacheDir, "output")
	}
	if c.Paths.OutputDir, err = ExpandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = filepath.Join(c.Paths.LogDir, "curator.sock")
	}
	if c.Paths.SocketPath, err = ExpandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeProject() error {
	c.Project.Name = strings.TrimSpace(c.Project.Name)
	c.Project.AppName = strings.TrimSpace(c.Project.AppName)
	if c.Project.AppName == "" {
		c.Project.AppName = defaultAppName
	}
	c.Project.Platform = strings.TrimSpace(c.Project.Platform)
	if c.Project.Platform == "" {
		c.Project.Platform = defaultPlatform
	}
	if file := strings.TrimSpace(c.Project.File); file != "" {
		expanded, err := ExpandPath(file)
		if err != nil {
			return fmt.Errorf("project.file: %w", err)
		}
		c.Project.File = expanded
	}
	if c.Project.Name == "" && c.Project.File != "" {
		base := filepath.Base(c.Project.File)
		c.Project.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	c.Workers.Binary = strings.TrimSpace(c.Workers.Binary)
	if c.Workers.Binary == "" {
		c.Workers.Binary = defaultWorkerBinary
	}
	if c.Workers.Count == 0 {
		c.Workers.Count = defaultWorkerCount()
	}
	if c.Workers.PollIntervalMS == 0 {
		c.Workers.PollIntervalMS = defaultWorkerPollIntervalMS
	}
	if c.Workers.ShutdownGrace == 0 {
		c.Workers.ShutdownGrace = defaultWorkerShutdownGrace
	}
}

func (c *Config) normalizeScanner() {
	c.Scanner.IgnoreFile = strings.TrimSpace(c.Scanner.IgnoreFile)
	c.Scanner.SidecarExtension = normalizeExtension(c.Scanner.SidecarExtension)
	if c.Scanner.SidecarExtension == "" {
		c.Scanner.SidecarExtension = defaultSidecarExtension
	}
	if c.Scanner.WatchDebounceMS == 0 {
		c.Scanner.WatchDebounceMS = defaultWatchDebounceMS
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.EventBuffer <= 0 {
		c.API.EventBuffer = defaultEventBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}

func (c *Config) normalizeAssetTypes() {
	for i := range c.AssetTypes {
		t := &c.AssetTypes[i]
		t.Name = strings.ToLower(strings.TrimSpace(t.Name))
		exts := make([]string, 0, len(t.Extensions))
		for _, ext := range t.Extensions {
			if norm := normalizeExtension(ext); norm != "" {
				exts = append(exts, norm)
			}
		}
		t.Extensions = exts
	}
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
