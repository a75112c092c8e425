package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAssetTypes(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if len(c.Paths.DataDirs) == 0 {
		return errors.New("paths.data_dirs must list at least one directory")
	}
	for i, a := range c.Paths.DataDirs {
		for _, b := range c.Paths.DataDirs[i+1:] {
			if within(a, b) || within(b, a) {
				return fmt.Errorf("paths.data_dirs must not nest: %q and %q", a, b)
			}
		}
	}
	if c.Paths.CacheDir == "" {
		return errors.New("paths.cache_dir must be set")
	}
	for _, dir := range c.Paths.DataDirs {
		if within(dir, c.Paths.OutputDir) {
			return fmt.Errorf("paths.output_dir %q must not live inside data directory %q", c.Paths.OutputDir, dir)
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.Count < 1 || c.Workers.Count > maxWorkerCount {
		return fmt.Errorf("workers.count must be between 1 and %d", maxWorkerCount)
	}
	if c.Workers.Binary == "" {
		return errors.New("workers.binary must be set")
	}
	if c.Workers.PollIntervalMS < 0 {
		return errors.New("workers.poll_interval_ms must be positive")
	}
	if c.Workers.DrainTimeout < 0 {
		return errors.New("workers.drain_timeout must be zero (wait forever) or positive")
	}
	if c.Workers.ShutdownGrace < 0 {
		return errors.New("workers.shutdown_grace must be positive")
	}
	return nil
}

func (c *Config) validateScanner() error {
	if c.Scanner.CacheSaveInterval < 0 {
		return errors.New("scanner.cache_save_interval must be zero (disabled) or positive")
	}
	if c.Scanner.WatchDebounceMS < 0 {
		return errors.New("scanner.watch_debounce_ms must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateAssetTypes() error {
	if len(c.AssetTypes) == 0 {
		return errors.New("at least one [[asset_types]] entry is required")
	}
	names := make(map[string]struct{}, len(c.AssetTypes))
	owners := make(map[string]string)
	for _, t := range c.AssetTypes {
		if t.Name == "" {
			return errors.New("asset_types.name must be set")
		}
		if _, ok := names[t.Name]; ok {
			return fmt.Errorf("asset type %q declared twice", t.Name)
		}
		names[t.Name] = struct{}{}
		if len(t.Extensions) == 0 {
			return fmt.Errorf("asset type %q must list at least one extension", t.Name)
		}
		for _, ext := range t.Extensions {
			if ext == c.Scanner.SidecarExtension {
				return fmt.Errorf("asset type %q cannot claim the sidecar extension %q", t.Name, ext)
			}
			if owner, ok := owners[ext]; ok {
				return fmt.Errorf("extension %q claimed by both %q and %q", ext, owner, t.Name)
			}
			owners[ext] = t.Name
		}
	}
	return nil
}

func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
