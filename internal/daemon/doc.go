// Package daemon coordinates the long-running curator process.
//
// It wires the cache store, the curator, the worker pool, and the file
// watcher into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon periodically persists curator caches,
// exposes asset maintenance helpers for the IPC layer, and serves the HTTP
// API with its websocket event stream and Prometheus endpoint.
//
// Keep orchestration logic here: state decisions belong to the curator and
// process handling to the processor.
package daemon
