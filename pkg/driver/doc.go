// Package driver defines the provider boundary of the engine. A Driver
// provisions resources of a single type; a Registry maps resource types to
// drivers. Drivers classify provider failures as retryable or terminal and
// never look at the dependency graph or the state store.
package driver
