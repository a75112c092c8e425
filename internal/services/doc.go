// Package services defines shared error markers and context helpers consumed
// by the curator, the worker slots, and the daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp asset IDs, worker slots, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent asset states (transform error vs needs import).
//
// Use these helpers when wiring new processing paths so failure handling and
// observability stay uniform across the pipeline.
package services
