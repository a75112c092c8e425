// Package curator decides which assets need processing and in what order.
//
// A Curator owns the asset registry and keeps it in sync with the data
// directories (CheckFileSystem, NotifyFileChange). Each asset is classified
// lazily by a background updater into one transform state: its combined hash
// covers its own bytes, settings and transform dependencies, and a separate
// reference hash drives thumbnail staleness. Worker slots pull assignments
// through NextEligible, which hands out dependencies before dependents and
// never gives the same asset to two slots, and report back through Complete.
package curator
