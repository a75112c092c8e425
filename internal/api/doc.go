// Package api defines wire-format types and converters shared by the IPC and
// HTTP surfaces. It translates curator records into transport-friendly DTOs
// that the CLI and dashboards can render without coupling to internal types.
//
// # Key Types
//
// AssetView: one asset with its state, hashes, and unresolved inputs.
//
// Stats: per-state counts across the registry.
//
// DaemonStatus: daemon runtime information including the worker pool and
// dependency checks.
//
// LogStreamResponse: structured log payloads for live tailing.
//
// # Design Notes
//
// DTOs use snake_case JSON tags. Hashes are rendered as 16-digit hex strings
// because JSON numbers cannot carry a full uint64. Timestamps use RFC3339
// with milliseconds.
package api
