package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/ballast/pkg/resource"
)

// Driver provisions resources of a single type against a provider. Attribute
// maps are fully resolved literals; references have already been substituted
// by the time a driver sees them.
type Driver interface {
	// Type reports the resource type this driver manages.
	Type() resource.Type

	// Create provisions a new resource and returns its live attributes,
	// including provider-assigned outputs.
	Create(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error)

	// Read fetches the live attributes of an existing resource, or
	// ErrNotFound.
	Read(ctx context.Context, id resource.ID) (map[string]any, error)

	// Update mutates an existing resource in place and returns its live
	// attributes after the change.
	Update(ctx context.Context, id resource.ID, attrs map[string]any) (map[string]any, error)

	// Delete removes the resource. Deleting a resource the provider does
	// not know is not an error.
	Delete(ctx context.Context, id resource.ID) error
}

// Registry maps resource types to their drivers.
type Registry struct {
	mu      sync.RWMutex
	drivers map[resource.Type]Driver
}

// NewRegistry creates an empty driver registry
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[resource.Type]Driver)}
}

// Register adds a driver. Registering a second driver for the same type is an
// error.
func (r *Registry) Register(d Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := d.Type()
	if _, exists := r.drivers[t]; exists {
		return fmt.Errorf("driver already registered for type %s", t)
	}
	r.drivers[t] = d
	return nil
}

// Lookup returns the driver for a resource type.
func (r *Registry) Lookup(t resource.Type) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[t]
	if !ok {
		return nil, fmt.Errorf("no driver registered for type %s", t)
	}
	return d, nil
}

// Types returns the registered resource types, sorted
func (r *Registry) Types() []resource.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]resource.Type, 0, len(r.drivers))
	for t := range r.drivers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
