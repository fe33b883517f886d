// Package corpus holds the in-memory corpus and serialises every write to it.
//
// A Store publishes immutable Snapshots through an atomic pointer. Readers
// take the current snapshot and never block; a ranking computed against one
// snapshot is unaffected by writes that land while it runs.
//
// All writes go through InsertOrMerge (or Reload), which holds a single write
// lock across check, durable persist and publish. A new snapshot is only
// published after the backend reports the write durable, so a failed write
// leaves the in-memory corpus identical to what is on disk.
package corpus
