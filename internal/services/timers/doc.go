// Package timers is the in-memory registry of pending one-shot jobs.
//
// # Model
//
// A Job is a (id, trigger time, callback) triple. Ids are deterministic and
// composite (namespace + suffix), so re-deriving the same job always lands on
// the same id and Schedule() can safely replace a previous generation
// (last-write-wins). CancelPrefix removes a whole namespace at once, which is
// what reconciliation uses for atomic bulk replace.
//
// # Firing
//
// A single loop sleeps until the earliest pending trigger (or until a
// mutation wakes it), then pops every due job. A due job is removed from the
// pending set BEFORE its callback is enqueued, so a cancel racing with a fire
// is a plain no-op rather than a double fire. Callbacks run on a small worker
// pool; a slow delivery never delays other due jobs.
//
// # Lifecycle
//
// Pending -> Fired (removed, callback runs exactly once) or
// Pending -> Cancelled (removed, callback never runs). There is no way back
// to Pending and nothing is persisted: on restart the set is empty until the
// owning engine reconciles it from source data.
package timers
