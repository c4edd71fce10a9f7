// Package engine applies a computed plan against a provider.
//
// The executor walks the change set in dependency order, running
// independent operations concurrently under a bounded worker pool. An
// operation does not start until every operation it depends on has
// succeeded and had its observed state written to the store, so a
// consumer never reads outputs that are not durably recorded. Failures
// are contained: the failing operation and its transitive dependents
// are marked, everything else keeps going.
package engine
