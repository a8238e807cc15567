// Package state implements the application-state store: a versioned,
// serializable state tree with exactly-one-writer mutation semantics,
// lock-free snapshot reads, typed change subscriptions, and debounce-
// coalesced persistence through a host-provided storage collaborator.
//
// Concurrency model: a write mutex serializes mutations and ordered
// subscriber notification; a second mutex guards only the current snapshot
// cell, held for the duration of a read or swap, never across caller work.
// Snapshots have value semantics, so readers never observe a state
// mid-mutation.
package state
