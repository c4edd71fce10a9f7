package graph

import (
	"fmt"
	"strings"

	"github.com/chazu/ballast/pkg/resource"
)

// DuplicateIdentityError means the same (type, name) identity was declared
// more than once. Declarations are never deduplicated, even when equal.
type DuplicateIdentityError struct {
	ID resource.ID
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate resource identity: %s", e.ID)
}

// UnresolvedReferenceError means a declared reference points at an identity
// or output the plan cannot provide.
type UnresolvedReferenceError struct {
	From   resource.ID
	Ref    resource.Reference
	Reason string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %s -> %s: %s", e.From, e.Ref, e.Reason)
}

// CycleError means the reference edges form a loop, so no valid apply order
// exists. Cycle lists the identities along the loop in reference direction,
// with the starting identity repeated at the end.
type CycleError struct {
	Cycle []resource.ID
}

func (e *CycleError) Error() string {
	if len(e.Cycle) == 0 {
		return "reference cycle detected"
	}
	parts := make([]string, len(e.Cycle))
	for i := range e.Cycle {
		parts[i] = e.Cycle[i].String()
	}
	return "reference cycle detected: " + strings.Join(parts, " -> ")
}
