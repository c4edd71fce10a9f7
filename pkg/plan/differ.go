package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/chazu/ballast/pkg/graph"
	"github.com/chazu/ballast/pkg/resource"
	"github.com/chazu/ballast/pkg/state"
)

// decision is the per-identity outcome of the diff. Replace keeps kind
// OpCreate for its apply phase; the expansion adds the delete operation.
type decision struct {
	kind    OpKind
	replace bool
	reason  string
	obs     *state.ObservedState
}

// Diff computes the change set for a dependency graph against the recorded
// observed state. Identities are decided in topological order so that every
// consumer sees its producers' decisions:
//
//   - desired present, no record            -> create
//   - desired present, immutable drift      -> replace (delete then create)
//   - desired present, fingerprint drift    -> update
//   - desired present, converged            -> no-op, unless a producer is
//     being created or replaced, which promotes the consumer to update
//   - desired absent, record exists         -> delete
//   - desired absent, no record             -> no-op
//
// Promotion does not cascade: an update never promotes its own consumers.
func Diff(ctx context.Context, g *graph.DependencyGraph, store state.Store) (*ChangeSet, error) {
	order := g.GetOrder()
	decisions := make(map[resource.ID]*decision, len(order))

	for _, id := range order {
		s, _ := g.GetSpec(id)

		obs, err := store.Get(ctx, id)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("reading observed state of %s: %w", id, err)
		}

		d := &decision{obs: obs}
		switch {
		case s.Desired == resource.DesiredAbsent && obs == nil:
			d.kind = OpNoOp
			d.reason = "already absent"
		case s.Desired == resource.DesiredAbsent:
			d.kind = OpDelete
			d.reason = "declared absent"
		case obs == nil:
			d.kind = OpCreate
			d.reason = "not recorded in state"
		default:
			if attr, changed := immutableChanged(s, obs, decisions); changed {
				d.kind = OpCreate
				d.replace = true
				d.reason = fmt.Sprintf("immutable attribute %s changed", attr)
			} else if fp := resource.Fingerprint(s); fp != obs.Fingerprint {
				d.kind = OpUpdate
				d.reason = "fingerprint drift"
			} else if producer, promoted := promotedBy(s, decisions); promoted {
				d.kind = OpUpdate
				d.reason = "refreshes outputs of " + producer.String()
			} else {
				d.kind = OpNoOp
				d.reason = "converged"
			}
		}
		decisions[id] = d
	}

	cs := &ChangeSet{}

	// Delete phase runs consumer-first, so walk the order backwards
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		d := decisions[id]
		if d.kind != OpDelete && !d.replace {
			continue
		}

		s, _ := g.GetSpec(id)
		op := &Operation{
			Kind:          OpDelete,
			Target:        id,
			Desired:       s,
			PriorSerial:   d.obs.Serial,
			PartOfReplace: d.replace,
			Reason:        d.reason,
		}
		for _, c := range g.GetDependents(id) {
			if cd := decisions[c]; cd.kind == OpDelete || cd.replace {
				op.DependsOn = append(op.DependsOn, "delete "+c.String())
			}
		}
		cs.Operations = append(cs.Operations, op)
	}

	// Apply phase runs producer-first
	for _, id := range order {
		d := decisions[id]
		if d.kind == OpDelete {
			continue
		}

		s, _ := g.GetSpec(id)
		op := &Operation{
			Kind:          d.kind,
			Target:        id,
			Desired:       s,
			PartOfReplace: d.replace,
			Reason:        d.reason,
		}
		if d.obs != nil && !d.replace {
			op.PriorSerial = d.obs.Serial
		}
		if d.replace {
			op.DependsOn = append(op.DependsOn, "delete "+id.String())
		}
		for _, p := range g.GetDependencies(id) {
			if pd := decisions[p]; pd.kind != OpDelete {
				op.DependsOn = append(op.DependsOn, "apply "+p.String())
			}
		}
		if d.kind == OpCreate || d.kind == OpUpdate {
			resolved, err := resolveReferences(s, decisions)
			if err != nil {
				return nil, fmt.Errorf("planning %s: %w", id, err)
			}
			op.Resolved = resolved
		}
		cs.Operations = append(cs.Operations, op)
	}

	return cs, nil
}

// immutableChanged reports whether any immutable attribute of s differs from
// the observed live value, naming the first offender in schema order.
// Reference positions compare their plan-time value; a reference into a
// producer that is being created or replaced takes a fresh value and counts
// as changed, except for the name output, which is identity-derived and
// stable.
func immutableChanged(s *resource.Spec, obs *state.ObservedState, decisions map[resource.ID]*decision) (string, bool) {
	for _, attr := range resource.ImmutableAttrs(s.ID.Type) {
		v, declared := s.Attributes[attr]
		if !declared {
			continue
		}
		live, lived := obs.LiveAttributes[attr]

		if v.IsRef() {
			if v.Ref.Field == "name" {
				if !lived || !equalLive(live, v.Ref.Target.Name) {
					return attr, true
				}
				continue
			}
			pd := decisions[v.Ref.Target]
			if pd == nil || pd.kind == OpCreate {
				return attr, true
			}
			want, ok := pd.obs.Output(v.Ref.Field)
			if !ok || !lived || !equalLive(live, want) {
				return attr, true
			}
			continue
		}

		if !lived || !equalLive(live, literalOf(v)) {
			return attr, true
		}
	}
	return "", false
}

// promotedBy returns the first producer of s that is being created or
// replaced through a reference position whose value will change. References
// to the name output never promote; the name survives replacement.
func promotedBy(s *resource.Spec, decisions map[resource.ID]*decision) (resource.ID, bool) {
	for _, ref := range s.References() {
		if ref.Field == "name" {
			continue
		}
		if pd := decisions[ref.Target]; pd != nil && pd.kind == OpCreate {
			return ref.Target, true
		}
	}
	return resource.ID{}, false
}

// resolveReferences binds every reference position of s to a value. Targets
// that already exist resolve from their recorded outputs; targets being
// created or replaced stay deferred for the executor.
func resolveReferences(s *resource.Spec, decisions map[resource.ID]*decision) ([]ResolvedReference, error) {
	var resolved []ResolvedReference
	for _, attr := range s.AttrNames() {
		v := s.Attributes[attr]
		if v.IsRef() {
			rr, err := resolveOne(attr, -1, *v.Ref, decisions)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, rr)
		}
		for i, elem := range v.List {
			if !elem.IsRef() {
				continue
			}
			rr, err := resolveOne(attr, i, *elem.Ref, decisions)
			if err != nil {
				return nil, err
			}
			resolved = append(resolved, rr)
		}
	}
	return resolved, nil
}

func resolveOne(attr string, index int, ref resource.Reference, decisions map[resource.ID]*decision) (ResolvedReference, error) {
	rr := ResolvedReference{Attr: attr, Index: index, Ref: ref}

	if ref.Field == "name" {
		rr.Value = ref.Target.Name
		return rr, nil
	}

	pd := decisions[ref.Target]
	if pd == nil {
		return rr, fmt.Errorf("reference %s has no planned producer", ref)
	}
	if pd.kind == OpCreate {
		rr.Deferred = true
		return rr, nil
	}
	val, ok := pd.obs.Output(ref.Field)
	if !ok {
		return rr, fmt.Errorf("observed state of %s lacks output %q", ref.Target, ref.Field)
	}
	rr.Value = val
	return rr, nil
}

// literalOf flattens a literal value for comparison. Lists of literals come
// back as []any.
func literalOf(v resource.Value) any {
	if !v.IsList() {
		return v.Literal
	}
	list := make([]any, len(v.List))
	for i, elem := range v.List {
		list[i] = elem.Literal
	}
	return list
}

// equalLive compares a desired literal against a live attribute value. Live
// values may have round-tripped through JSON, so numbers and string lists are
// normalized first; string lists compare order-insensitively because the
// schema treats them as sets.
func equalLive(live, desired any) bool {
	a, errA := json.Marshal(normalizeForCompare(live))
	b, errB := json.Marshal(normalizeForCompare(desired))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func normalizeForCompare(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case []string:
		cp := append([]string(nil), x...)
		sort.Strings(cp)
		return cp
	case []any:
		ss := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return x
			}
			ss = append(ss, s)
		}
		sort.Strings(ss)
		return ss
	}
	return v
}
