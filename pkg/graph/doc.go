// Package graph builds the dependency graph for a set of resource
// declarations. It validates specs, turns references and well-known attach
// positions into producer-to-consumer edges, rejects duplicates, dangling
// references, and cycles, and computes a deterministic topological order.
package graph
