package graph

import (
	"sort"

	"github.com/chazu/ballast/pkg/resource"
)

// typePriority groups resource types into foundation, workload, attachment,
// routing, and entry tiers. It only breaks ties between nodes the reference
// edges leave unordered, so that plan output is deterministic and reads in
// provisioning order.
var typePriority = map[resource.Type]int{
	resource.TypeGlobalAddress:        0,
	resource.TypeManagedCertificate:   0,
	resource.TypeSecurityPolicy:       0,
	resource.TypeComputeService:       1,
	resource.TypeIAMBinding:           1,
	resource.TypeNetworkEndpointGroup: 2,
	resource.TypeBackendService:       2,
	resource.TypeUrlMap:               3,
	resource.TypeHttpProxy:            3,
	resource.TypeHttpsProxy:           3,
	resource.TypeForwardingRule:       4,
}

// DependencyGraph is the validated, acyclic dependency structure for one
// plan. Edges run producer to consumer, so the topological order lists
// producers first. Built fresh per plan by Build; immutable afterwards.
type DependencyGraph struct {
	// specs maps identity to the declared spec
	specs map[resource.ID]*resource.Spec

	// declared preserves declaration order for deterministic tie-breaks
	declared []resource.ID

	// consumers maps producer -> consumers, producers the reverse
	consumers map[resource.ID][]resource.ID
	producers map[resource.ID][]resource.ID

	// refs holds each consumer's explicit references, the ones that carry
	// value substitution as well as ordering
	refs map[resource.ID][]resource.Reference

	// order contains the topologically sorted identities
	order []resource.ID
}

// GetSpec retrieves a declared spec by identity
func (g *DependencyGraph) GetSpec(id resource.ID) (*resource.Spec, bool) {
	s, found := g.specs[id]
	return s, found
}

// GetOrder returns the topologically sorted identities. Identities earlier in
// the list never depend on identities later in the list.
func (g *DependencyGraph) GetOrder() []resource.ID {
	order := make([]resource.ID, len(g.order))
	copy(order, g.order)
	return order
}

// GetDependencies returns the identities the given node depends on, sorted
func (g *DependencyGraph) GetDependencies(id resource.ID) []resource.ID {
	return sortedCopy(g.producers[id])
}

// GetDependents returns the identities that depend on the given node, sorted
func (g *DependencyGraph) GetDependents(id resource.ID) []resource.ID {
	return sortedCopy(g.consumers[id])
}

// GetReferences returns the explicit references declared by the given node,
// in declaration order. Adopted attach-position edges are not included; they
// order execution but never substitute values.
func (g *DependencyGraph) GetReferences(id resource.ID) []resource.Reference {
	refs := make([]resource.Reference, len(g.refs[id]))
	copy(refs, g.refs[id])
	return refs
}

// Size returns the number of nodes in the graph
func (g *DependencyGraph) Size() int {
	return len(g.specs)
}

// GetRootNodes returns identities that have no dependencies, sorted
func (g *DependencyGraph) GetRootNodes() []resource.ID {
	var roots []resource.ID
	for _, id := range g.declared {
		if len(g.producers[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return sortedCopy(roots)
}

// GetLeafNodes returns identities that no other node depends on, sorted
func (g *DependencyGraph) GetLeafNodes() []resource.ID {
	var leaves []resource.ID
	for _, id := range g.declared {
		if len(g.consumers[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	return sortedCopy(leaves)
}

func sortedCopy(ids []resource.ID) []resource.ID {
	cp := make([]resource.ID, len(ids))
	copy(cp, ids)
	sort.Slice(cp, func(i, j int) bool { return cp[i].String() < cp[j].String() })
	return cp
}
