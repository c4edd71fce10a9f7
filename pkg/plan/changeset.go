package plan

import (
	"fmt"

	"github.com/chazu/ballast/pkg/resource"
)

// OpKind is the action an operation performs against the provider
type OpKind string

const (
	// OpCreate provisions a resource that does not exist yet
	OpCreate OpKind = "create"

	// OpUpdate mutates an existing resource in place
	OpUpdate OpKind = "update"

	// OpDelete removes an existing resource
	OpDelete OpKind = "delete"

	// OpNoOp records that the resource is already converged
	OpNoOp OpKind = "noop"
)

// ResolvedReference binds one reference position in the desired attributes to
// its concrete value. Deferred positions point at a producer that has not
// been applied yet; the executor fills them from the producer's freshly
// recorded outputs.
type ResolvedReference struct {
	// Attr is the attribute position the value substitutes into
	Attr string

	// Index is the position within a list value, -1 for scalar positions
	Index int

	// Ref is the declared reference
	Ref resource.Reference

	// Value is the substituted live value once known
	Value any

	// Deferred marks a value that only exists after the producer applies
	Deferred bool
}

// Operation is one provider action the executor will run. A replaced
// identity contributes two operations, a delete followed by a create, both
// marked PartOfReplace.
type Operation struct {
	// Kind is the action to perform
	Kind OpKind

	// Target is the resource identity the action applies to
	Target resource.ID

	// Desired is the declared spec the action realizes; attribute defaults
	// are materialized
	Desired *resource.Spec

	// Resolved carries the value substitutions for every reference position
	// in Desired; empty for deletes and no-ops
	Resolved []ResolvedReference

	// PriorSerial is the observed-state serial the plan was computed
	// against, 0 when no record existed. Writes present PriorSerial+1 so a
	// racing plan run loses instead of silently overwriting.
	PriorSerial int64

	// DependsOn lists the keys of operations that must succeed and record
	// their state before this one may begin
	DependsOn []string

	// PartOfReplace marks the two halves of a replacement
	PartOfReplace bool

	// Reason is a short human-readable cause for the operation
	Reason string
}

// Key uniquely identifies the operation within its change set. An identity
// has at most one apply-phase operation and one delete-phase operation.
func (op *Operation) Key() string {
	if op.Kind == OpDelete {
		return "delete " + op.Target.String()
	}
	return "apply " + op.Target.String()
}

// Attrs materializes the driver-facing attribute map, substituting every
// resolved reference value into its position. Calling Attrs while a deferred
// reference is still unresolved is an error.
func (op *Operation) Attrs() (map[string]any, error) {
	if op.Desired == nil {
		return nil, nil
	}

	byPos := make(map[string]any, len(op.Resolved))
	for i := range op.Resolved {
		rr := &op.Resolved[i]
		if rr.Deferred {
			return nil, fmt.Errorf("reference %s at %s is not resolved", rr.Ref, rr.Attr)
		}
		byPos[posKey(rr.Attr, rr.Index)] = rr.Value
	}

	attrs := make(map[string]any, len(op.Desired.Attributes))
	for name, v := range op.Desired.Attributes {
		switch {
		case v.IsRef():
			val, ok := byPos[posKey(name, -1)]
			if !ok {
				return nil, fmt.Errorf("no resolution recorded for %s", name)
			}
			attrs[name] = val
		case v.IsList():
			list := make([]any, len(v.List))
			for i, elem := range v.List {
				if elem.IsRef() {
					val, ok := byPos[posKey(name, i)]
					if !ok {
						return nil, fmt.Errorf("no resolution recorded for %s[%d]", name, i)
					}
					list[i] = val
				} else {
					list[i] = elem.Literal
				}
			}
			attrs[name] = list
		default:
			attrs[name] = v.Literal
		}
	}
	return attrs, nil
}

func posKey(attr string, index int) string {
	return fmt.Sprintf("%s[%d]", attr, index)
}

// ChangeSet is the ordered list of operations for one plan run. The order is
// executable: every operation appears after the operations it depends on.
// A change set is consumed by the executor exactly once.
type ChangeSet struct {
	Operations []*Operation
}

// Get returns the operation with the given key
func (cs *ChangeSet) Get(key string) (*Operation, bool) {
	for _, op := range cs.Operations {
		if op.Key() == key {
			return op, true
		}
	}
	return nil, false
}

// HasChanges reports whether any operation touches the provider
func (cs *ChangeSet) HasChanges() bool {
	for _, op := range cs.Operations {
		if op.Kind != OpNoOp {
			return true
		}
	}
	return false
}

// Summary counts the decisions in the change set. A replacement counts once,
// not as a separate delete and create.
type Summary struct {
	Create  int
	Update  int
	Delete  int
	NoOp    int
	Replace int
}

// Summarize tallies the change set by decision
func (cs *ChangeSet) Summarize() Summary {
	var s Summary
	for _, op := range cs.Operations {
		if op.PartOfReplace {
			if op.Kind == OpDelete {
				s.Replace++
			}
			continue
		}
		switch op.Kind {
		case OpCreate:
			s.Create++
		case OpUpdate:
			s.Update++
		case OpDelete:
			s.Delete++
		case OpNoOp:
			s.NoOp++
		}
	}
	return s
}

// String renders the summary in one line
func (s Summary) String() string {
	return fmt.Sprintf("%d to create, %d to update, %d to replace, %d to delete, %d unchanged",
		s.Create, s.Update, s.Replace, s.Delete, s.NoOp)
}
