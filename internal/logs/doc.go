// Package logs provides file tailing and the HTTP log stream client shared by
// the CLI and daemon diagnostics.
//
// Tail reads the daemon log file with bounded memory, supports a negative
// offset for "last N lines", and can block for new lines in follow mode.
// StreamClient queries the structured event stream served at /api/logs.
package logs
