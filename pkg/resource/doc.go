// Package resource defines the typed resource model for the load balancer
// topology: resource types, identities, attribute values and references,
// per-type attribute schemas, and desired-state fingerprinting.
package resource
