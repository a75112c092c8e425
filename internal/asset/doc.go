// Package asset defines the curator data model: per-asset metadata, tracked
// file status, transform states, and the records exchanged between the
// scheduler and the worker slots.
//
// Types here carry no locking of their own. The registry owns every Info and
// hands out copies, so values returned to callers are safe to read without
// holding the registry lock.
package asset
