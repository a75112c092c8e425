// Package processor drives the worker slot pool.
//
// A Manager owns one slot per configured worker and a single goroutine that
// alternates FinishExecute and BeginExecute across the slots. The loop
// sleeps on a wake channel fed by worker output, worker exits, and curator
// work notifications, with the configured poll interval as a fallback.
// Stop drains in-flight assignments before shutting the worker processes
// down; assignments still running when the drain timeout expires have
// their workers killed and are reported as crashes.
package processor
