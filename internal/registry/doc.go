// Package registry is the curator's in-memory asset table.
//
// It owns every asset.Info, the file status cache, the per-state id sets,
// the dependency and reference indexes and the unresolved edge set. All
// access that reads or writes more than one of these structures goes through
// Locked, which hands the callback a Tx valid only for the duration of the
// call. Records live in a generational slot map so a Handle to a removed
// asset fails lookups instead of aliasing whatever reused its slot.
//
// Mutations queue events that are published after the lock is released.
package registry
