// Package store persists curator caches in SQLite.
//
// The database keeps three kinds of state across restarts: the file status
// cache (modification time and content hash per tracked file), the output
// ledger (the hashes of the last successful transform and thumbnail per asset
// and platform), and a snapshot of asset records so the registry can be
// restored before the first full sweep completes. The schema is versioned;
// a mismatch asks the user to clear the cache rather than migrating in place.
package store
