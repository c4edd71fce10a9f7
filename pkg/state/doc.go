// Package state persists the last observed state of managed resources.
// It defines the Store interface the planning and execution layers depend
// on, plus in-memory, file-backed, and Postgres-backed implementations.
// All implementations provide per-identity compare-and-swap through a
// monotonic serial so racing plan runs cannot silently lose updates.
package state
