package graph

import (
	"errors"
	"fmt"

	"github.com/dominikbraun/graph"

	"github.com/chazu/ballast/pkg/resource"
)

// attachPositions names the attribute positions where a plain string naming a
// declared resource stands in for a handle to it. A BackendService whose
// security_policy is "edge-policy" must still wait for
// SecurityPolicy/edge-policy even though no explicit reference was written.
// The literal is left untouched; only the ordering edge is adopted.
var attachPositions = map[resource.Type]map[string][]resource.Type{
	resource.TypeIAMBinding: {
		"service": {resource.TypeComputeService},
	},
	resource.TypeNetworkEndpointGroup: {
		"cloud_run_service": {resource.TypeComputeService},
	},
	resource.TypeBackendService: {
		"backend_group":   {resource.TypeNetworkEndpointGroup},
		"security_policy": {resource.TypeSecurityPolicy},
	},
	resource.TypeUrlMap: {
		"default_service": {resource.TypeBackendService},
	},
	resource.TypeHttpProxy: {
		"url_map": {resource.TypeUrlMap},
	},
	resource.TypeHttpsProxy: {
		"url_map":          {resource.TypeUrlMap},
		"ssl_certificates": {resource.TypeManagedCertificate},
	},
	resource.TypeForwardingRule: {
		"target":     {resource.TypeHttpProxy, resource.TypeHttpsProxy},
		"ip_address": {resource.TypeGlobalAddress},
	},
}

// Build validates the declarations and assembles their dependency graph.
// Explicit references and adopted attach positions both become producer to
// consumer edges. Build rejects duplicate identities, references to
// undeclared or absent resources, and cycles; on any error no graph is
// produced.
func Build(specs []*resource.Spec) (*DependencyGraph, error) {
	g := &DependencyGraph{
		specs:     make(map[resource.ID]*resource.Spec, len(specs)),
		consumers: make(map[resource.ID][]resource.ID),
		producers: make(map[resource.ID][]resource.ID),
		refs:      make(map[resource.ID][]resource.Reference),
	}

	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.specs[s.ID]; exists {
			return nil, &DuplicateIdentityError{ID: s.ID}
		}
		g.specs[s.ID] = s
		g.declared = append(g.declared, s.ID)
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	byHash := make(map[string]resource.ID, len(g.declared))
	declIndex := make(map[resource.ID]int, len(g.declared))
	for i, id := range g.declared {
		if err := dg.AddVertex(id.String()); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", id, err)
		}
		byHash[id.String()] = id
		declIndex[id] = i
	}

	for _, id := range g.declared {
		s := g.specs[id]

		for _, ref := range s.References() {
			target, declared := g.specs[ref.Target]
			if !declared {
				return nil, &UnresolvedReferenceError{From: id, Ref: ref, Reason: "no declared resource with that identity"}
			}
			if s.Desired == resource.DesiredPresent && target.Desired == resource.DesiredAbsent {
				return nil, &UnresolvedReferenceError{From: id, Ref: ref, Reason: "target is declared absent"}
			}
			g.refs[id] = append(g.refs[id], ref)
			if err := g.addEdge(dg, ref.Target, id); err != nil {
				return nil, err
			}
		}

		for _, target := range adoptedTargets(s, g.specs) {
			if s.Desired == resource.DesiredPresent && g.specs[target].Desired == resource.DesiredAbsent {
				ref := resource.Reference{Target: target, Field: "name"}
				return nil, &UnresolvedReferenceError{From: id, Ref: ref, Reason: "attachment target is declared absent"}
			}
			if err := g.addEdge(dg, target, id); err != nil {
				return nil, err
			}
		}
	}

	// Ready nodes tie-break by type tier, then declaration order
	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool {
		ia, ib := byHash[a], byHash[b]
		if pa, pb := typePriority[ia.Type], typePriority[ib.Type]; pa != pb {
			return pa < pb
		}
		return declIndex[ia] < declIndex[ib]
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute topological sort: %w", err)
	}

	g.order = make([]resource.ID, len(order))
	for i, h := range order {
		g.order[i] = byHash[h]
	}
	return g, nil
}

// addEdge records a producer -> consumer edge. Repeated pairs collapse to one
// edge; an edge that would close a loop becomes a CycleError.
func (g *DependencyGraph) addEdge(dg graph.Graph[string, string], producer, consumer resource.ID) error {
	err := dg.AddEdge(producer.String(), consumer.String())
	switch {
	case err == nil:
	case errors.Is(err, graph.ErrEdgeAlreadyExists):
		return nil
	case errors.Is(err, graph.ErrEdgeCreatesCycle):
		return &CycleError{Cycle: g.findCycle(producer, consumer)}
	default:
		return fmt.Errorf("failed to add edge %s -> %s: %w", producer, consumer, err)
	}

	g.consumers[producer] = append(g.consumers[producer], consumer)
	g.producers[consumer] = append(g.producers[consumer], producer)
	return nil
}

// findCycle reconstructs the loop the rejected producer -> consumer edge
// would have closed: a path from consumer back to producer already exists.
// The result reads in reference direction, starting and ending at consumer.
func (g *DependencyGraph) findCycle(producer, consumer resource.ID) []resource.ID {
	path := g.findPath(consumer, producer)
	if path == nil {
		return []resource.ID{consumer, producer, consumer}
	}
	cycle := make([]resource.ID, 0, len(path)+1)
	cycle = append(cycle, path[0])
	for i := len(path) - 1; i >= 1; i-- {
		cycle = append(cycle, path[i])
	}
	return append(cycle, path[0])
}

// findPath runs a breadth-first search from one identity to another along
// producer -> consumer edges, returning the node sequence inclusive of both
// ends, or nil when unreachable.
func (g *DependencyGraph) findPath(from, to resource.ID) []resource.ID {
	if from == to {
		return []resource.ID{from}
	}

	parent := map[resource.ID]resource.ID{from: from}
	queue := []resource.ID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.consumers[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				var path []resource.ID
				for at := to; at != from; at = parent[at] {
					path = append(path, at)
				}
				path = append(path, from)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// adoptedTargets resolves the attach positions of s against the declared
// specs and returns the identities its plain-string attachments name.
func adoptedTargets(s *resource.Spec, specs map[resource.ID]*resource.Spec) []resource.ID {
	positions, ok := attachPositions[s.ID.Type]
	if !ok {
		return nil
	}

	var targets []resource.ID
	for _, attr := range s.AttrNames() {
		allowed, ok := positions[attr]
		if !ok {
			continue
		}
		for _, name := range literalStrings(s.Attributes[attr]) {
			for _, t := range allowed {
				id := resource.ID{Type: t, Name: name}
				if _, declared := specs[id]; declared {
					targets = append(targets, id)
				}
			}
		}
	}
	return targets
}

// literalStrings returns the plain string literals inside v. References and
// non-string members carry no attachment by name.
func literalStrings(v resource.Value) []string {
	if v.IsRef() {
		return nil
	}
	if v.IsList() {
		var out []string
		for _, elem := range v.List {
			if elem.IsRef() {
				continue
			}
			if s, ok := elem.Literal.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	if s, ok := v.Literal.(string); ok {
		return []string{s}
	}
	return nil
}
