// Package preflight provides readiness checks for the filesystem paths and
// worker program the curator depends on.
//
// The daemon runs RunAll before starting the worker pool and refuses to start
// when a required check fails. The CLI "curator status" command reuses the
// same checks to report health.
package preflight
