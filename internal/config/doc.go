// Package config loads, normalizes, and validates curator configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours CURATOR_* environment overrides
// such as CURATOR_WORKER_COUNT. The Config type centralizes every knob the
// daemon, the CLI, and the worker pool need, including the table of asset
// types that decides which files become assets.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
