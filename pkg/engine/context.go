package engine

import (
	"github.com/authzed/controller-idioms/typedctx"
)

// Context keys for the apply pipeline
//
// These typed context keys provide type-safe access to per-run values
// without the runtime type assertions of raw context.Value().
var (
	// CtxPlanID is the identifier of the plan being applied
	CtxPlanID = typedctx.NewKey[string]()

	// CtxOperationKey is the change-set key of the operation in flight
	CtxOperationKey = typedctx.NewKey[string]()
)
