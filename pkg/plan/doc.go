// Package plan computes what has to change. It diffs declared resources
// against recorded observed state, decides create, update, delete, no-op, or
// replace per identity, resolves reference values where they are already
// known, and emits an ordered change set for the executor.
package plan
