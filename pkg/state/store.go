package state

import (
	"context"
	"errors"
	"time"

	"github.com/chazu/ballast/pkg/resource"
)

var (
	// ErrNotFound is returned by Get when no observed state exists for an
	// identity
	ErrNotFound = errors.New("observed state not found")

	// ErrSerialConflict is returned by Put when the record's serial does not
	// follow the currently stored serial, meaning another writer got there
	// first
	ErrSerialConflict = errors.New("observed state serial conflict")
)

// ObservedState is the last-known live representation of a resource
type ObservedState struct {
	// ID is the resource identity this record describes
	ID resource.ID `json:"id"`

	// LiveAttributes are the provider-reported attributes, including
	// provider-assigned outputs such as self links and addresses
	LiveAttributes map[string]any `json:"live_attributes,omitempty"`

	// Fingerprint is the content hash of the desired attributes used for
	// the create/update that produced this state
	Fingerprint string `json:"fingerprint"`

	// Serial increments on every write and carries the per-identity
	// compare-and-swap: a Put must present the successor of the stored
	// serial
	Serial int64 `json:"serial"`

	// UpdatedAt is when this record was written
	UpdatedAt time.Time `json:"updated_at"`
}

// Output returns a named live output field, if present
func (o *ObservedState) Output(field string) (any, bool) {
	if o == nil || o.LiveAttributes == nil {
		return nil, false
	}
	v, ok := o.LiveAttributes[field]
	return v, ok
}

// Clone returns a copy safe to hand to callers
func (o *ObservedState) Clone() *ObservedState {
	if o == nil {
		return nil
	}
	cp := *o
	if o.LiveAttributes != nil {
		cp.LiveAttributes = make(map[string]any, len(o.LiveAttributes))
		for k, v := range o.LiveAttributes {
			cp.LiveAttributes[k] = v
		}
	}
	return &cp
}

// Store is the persisted-state backend the engine depends on. Each record
// is keyed by resource identity. Put enforces serial compare-and-swap: the
// presented record's Serial must be exactly one greater than the stored
// serial (or 1 when no record exists), otherwise ErrSerialConflict.
type Store interface {
	// Get returns the observed state for id, or ErrNotFound
	Get(ctx context.Context, id resource.ID) (*ObservedState, error)

	// Put writes a new observed state record, enforcing the serial CAS
	Put(ctx context.Context, obs *ObservedState) error

	// Delete removes the record for id; deleting a missing record is not
	// an error
	Delete(ctx context.Context, id resource.ID) error

	// List returns all records ordered by identity
	List(ctx context.Context) ([]*ObservedState, error)
}

// NextSerial returns the serial a successor record of prior must carry.
// prior may be nil when no state exists yet.
func NextSerial(prior *ObservedState) int64 {
	if prior == nil {
		return 1
	}
	return prior.Serial + 1
}
