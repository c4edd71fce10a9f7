package plan

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/ballast/pkg/graph"
	"github.com/chazu/ballast/pkg/resource"
	"github.com/chazu/ballast/pkg/state"
)

// Plan couples a change set with the dependency graph it was computed from.
// A plan is immutable once computed; applying it consumes the change set.
type Plan struct {
	// ID identifies this plan run in logs and reports
	ID string

	// CreatedAt is when the plan was computed
	CreatedAt time.Time

	// Graph is the validated dependency graph
	Graph *graph.DependencyGraph

	// Changes is the ordered change set
	Changes *ChangeSet
}

// Compute validates the declarations, builds their dependency graph, and
// diffs it against the observed state. Any validation, duplicate-identity,
// reference, or cycle error aborts planning; no partial plan is produced.
func Compute(ctx context.Context, specs []*resource.Spec, store state.Store) (*Plan, error) {
	g, err := graph.Build(specs)
	if err != nil {
		return nil, err
	}

	cs, err := Diff(ctx, g, store)
	if err != nil {
		return nil, err
	}

	return &Plan{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Graph:     g,
		Changes:   cs,
	}, nil
}
