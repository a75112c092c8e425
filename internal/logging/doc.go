// Package logging builds the slog loggers used by the daemon, the CLI and the
// worker host.
//
// Records render either as single console lines or as JSON objects with
// ts/level/msg keys. File outputs rotate through lumberjack. A StreamHub can
// be attached to retain recent events for the control socket and the HTTP
// event stream; helpers such as WithContext tag records with the asset and
// worker slot carried on a context.
package logging
