package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
	"github.com/sourcegraph/conc/pool"

	"github.com/chazu/ballast/pkg/driver"
	"github.com/chazu/ballast/pkg/metrics"
	"github.com/chazu/ballast/pkg/plan"
	"github.com/chazu/ballast/pkg/resource"
	"github.com/chazu/ballast/pkg/state"
)

// Config contains configuration for the executor
type Config struct {
	// MaxConcurrency limits how many operations run at once
	MaxConcurrency int
	// RetryBackoffBase is the initial delay between retries
	RetryBackoffBase time.Duration
	// RetryBackoffMax caps the delay between retries
	RetryBackoffMax time.Duration
	// MaxRetries bounds retries per operation, not counting the first
	// attempt
	MaxRetries int
}

// DefaultConfig returns sensible executor defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   10,
		RetryBackoffBase: 1 * time.Second,
		RetryBackoffMax:  5 * time.Minute,
		MaxRetries:       3,
	}
}

// Executor applies change sets with dependency-aware parallel execution
type Executor struct {
	config   Config
	registry *driver.Registry
	store    state.Store
	log      logr.Logger
}

// NewExecutor creates an executor backed by the given drivers and state
// store
func NewExecutor(registry *driver.Registry, store state.Store, config Config, log logr.Logger) *Executor {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Executor{
		config:   config,
		registry: registry,
		store:    store,
		log:      log.WithName("executor"),
	}
}

// Execute applies the plan's change set. Operations run concurrently up
// to MaxConcurrency, but an operation does not begin until every
// operation it depends on has succeeded and recorded its observed state.
// Operation failures do not abort the run; they fail the operation's
// transitive dependents and everything else continues. Canceling ctx
// lets in-flight operations finish and skips the rest.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan) (*Report, error) {
	if p == nil {
		return nil, fmt.Errorf("plan cannot be nil")
	}

	cs := p.Changes
	keys := make([]string, 0, len(cs.Operations))
	for _, op := range cs.Operations {
		keys = append(keys, op.Key())
	}
	execState := NewExecutionState(keys)

	ctx = CtxPlanID.WithValue(ctx, p.ID)
	e.log.Info("Starting apply",
		"plan", p.ID,
		"operations", len(keys),
		"maxConcurrency", e.config.MaxConcurrency)

	canceled := false
	for !execState.IsComplete() {
		if ctx.Err() != nil {
			canceled = true
			e.skipRemaining(cs, execState, "apply canceled")
			break
		}

		if skipped := e.propagateSkips(cs, execState); skipped > 0 {
			continue
		}

		ready := e.findReadyOperations(cs, execState)
		if len(ready) == 0 {
			break
		}

		e.log.V(1).Info("Executing wave", "operations", len(ready))
		e.executeOperations(ctx, cs, execState, ready)
	}
	execState.MarkComplete()

	report := newReport(p, execState, canceled)
	e.log.Info("Apply complete",
		"plan", p.ID,
		"status", string(report.Status),
		"succeeded", report.Summary.Succeeded,
		"failed", report.Summary.Failed,
		"skipped", report.Summary.Skipped,
		"duration", report.Summary.Elapsed())
	return report, nil
}

// findReadyOperations returns pending operations whose dependencies have
// all succeeded, in change-set order
func (e *Executor) findReadyOperations(cs *plan.ChangeSet, execState *ExecutionState) []string {
	var ready []string
	for _, op := range cs.Operations {
		key := op.Key()
		st, err := execState.GetState(key)
		if err != nil || st != OpPending {
			continue
		}

		allDone := true
		for _, dep := range op.DependsOn {
			depState, err := execState.GetState(dep)
			if err != nil || depState != OpSucceeded {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, key)
		}
	}
	return ready
}

// propagateSkips marks pending operations whose dependencies failed or
// were skipped. Walking in change-set order settles transitive chains in
// one pass because dependencies always precede their dependents.
func (e *Executor) propagateSkips(cs *plan.ChangeSet, execState *ExecutionState) int {
	skipped := 0
	for _, op := range cs.Operations {
		key := op.Key()
		st, err := execState.GetState(key)
		if err != nil || st != OpPending {
			continue
		}

		for _, dep := range op.DependsOn {
			depState, err := execState.GetState(dep)
			if err != nil {
				continue
			}
			if depState == OpFailed || depState == OpSkipped {
				reason := fmt.Sprintf("dependency %s did not succeed", dep)
				if err := execState.MarkSkipped(key, reason); err == nil {
					e.log.V(1).Info("Skipping operation", "operation", key, "reason", reason)
					skipped++
				}
				break
			}
		}
	}
	return skipped
}

// skipRemaining marks every still-pending operation Skipped
func (e *Executor) skipRemaining(cs *plan.ChangeSet, execState *ExecutionState, reason string) {
	for _, op := range cs.Operations {
		key := op.Key()
		st, err := execState.GetState(key)
		if err != nil || st != OpPending {
			continue
		}
		if err := execState.MarkSkipped(key, reason); err == nil {
			e.log.V(1).Info("Skipping operation", "operation", key, "reason", reason)
		}
	}
}

// executeOperations runs a wave of ready operations on the bounded pool
func (e *Executor) executeOperations(ctx context.Context, cs *plan.ChangeSet, execState *ExecutionState, ready []string) {
	p := pool.New().WithMaxGoroutines(e.config.MaxConcurrency).WithErrors()

	for _, key := range ready {
		key := key // Capture for goroutine
		op, ok := cs.Get(key)
		if !ok {
			continue
		}
		p.Go(func() error {
			return e.executeOperation(ctx, op, execState)
		})
	}

	// Errors are recorded in the execution state; other operations in
	// the wave keep running
	_ = p.Wait()
}

// executeOperation runs a single operation to a terminal state
func (e *Executor) executeOperation(ctx context.Context, op *plan.Operation, execState *ExecutionState) error {
	key := op.Key()
	planID, _ := CtxPlanID.Value(ctx)
	log := e.log.WithValues("plan", planID, "operation", key)
	ctx = CtxOperationKey.WithValue(ctx, key)

	if op.Kind == plan.OpNoOp {
		if err := execState.SetState(key, OpApplying); err != nil {
			return err
		}
		if err := execState.SetState(key, OpSucceeded); err != nil {
			return err
		}
		log.V(2).Info("Nothing to do", "reason", op.Reason)
		return nil
	}

	if err := e.resolveDeferred(ctx, op); err != nil {
		log.Error(err, "Operation failed before starting")
		_ = execState.SetError(key, err)
		metrics.RecordOperation("failure", string(op.Kind), string(op.Target.Type), 0)
		return err
	}

	if err := execState.SetState(key, OpApplying); err != nil {
		return err
	}
	log.V(1).Info("Executing operation", "kind", string(op.Kind), "reason", op.Reason)

	start := time.Now()
	operate := func() error {
		_ = execState.RecordAttempt(key)
		err := e.invoke(ctx, op)
		if err == nil {
			return nil
		}
		if driver.IsRetryable(err) {
			status, _ := execState.GetStatus(key)
			log.V(1).Info("Retrying operation", "attempt", status.Attempts, "error", err.Error())
			metrics.RecordRetry(string(op.Kind), string(op.Target.Type))
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.config.RetryBackoffBase
	bo.MaxInterval = e.config.RetryBackoffMax
	bo.MaxElapsedTime = 0 // retries are bounded by count, not elapsed time
	err := backoff.Retry(operate, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(e.config.MaxRetries)), ctx))

	duration := time.Since(start)
	status, _ := execState.GetStatus(key)
	if err != nil {
		log.Error(err, "Operation failed", "attempts", status.Attempts, "duration", duration)
		_ = execState.SetError(key, err)
		metrics.RecordOperation("failure", string(op.Kind), string(op.Target.Type), duration.Seconds())
		return err
	}

	if err := execState.SetState(key, OpSucceeded); err != nil {
		return err
	}
	log.V(1).Info("Operation applied", "attempts", status.Attempts, "duration", duration)
	metrics.RecordOperation("success", string(op.Kind), string(op.Target.Type), duration.Seconds())
	return nil
}

// resolveDeferred fills reference values that only became known when
// their producers applied and recorded outputs
func (e *Executor) resolveDeferred(ctx context.Context, op *plan.Operation) error {
	for i := range op.Resolved {
		rr := &op.Resolved[i]
		if !rr.Deferred {
			continue
		}
		obs, err := e.store.Get(ctx, rr.Ref.Target)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", rr.Ref, err)
		}
		val, ok := obs.Output(rr.Ref.Field)
		if !ok {
			return fmt.Errorf("resolving %s: observed state has no output %q", rr.Ref, rr.Ref.Field)
		}
		rr.Value = val
		rr.Deferred = false
	}
	return nil
}

// invoke performs the driver call for an operation and records the
// result. The observed-state write happens before the operation is
// marked succeeded, so dependents never read unrecorded outputs.
func (e *Executor) invoke(ctx context.Context, op *plan.Operation) error {
	d, err := e.registry.Lookup(op.Target.Type)
	if err != nil {
		return err
	}

	// A started attempt and its state write run to completion even when
	// the apply is canceled mid-flight
	callCtx := context.WithoutCancel(ctx)

	switch op.Kind {
	case plan.OpCreate:
		attrs, err := op.Attrs()
		if err != nil {
			return err
		}
		live, err := d.Create(callCtx, op.Target, attrs)
		if err != nil {
			return err
		}
		return e.record(callCtx, op, live)

	case plan.OpUpdate:
		attrs, err := op.Attrs()
		if err != nil {
			return err
		}
		live, err := d.Update(callCtx, op.Target, attrs)
		if err != nil {
			return err
		}
		return e.record(callCtx, op, live)

	case plan.OpDelete:
		if err := d.Delete(callCtx, op.Target); err != nil {
			return err
		}
		if err := e.store.Delete(callCtx, op.Target); err != nil {
			return fmt.Errorf("removing state for %s: %w", op.Target, err)
		}
		return nil

	default:
		return fmt.Errorf("unexpected operation kind %q for %s", op.Kind, op.Target)
	}
}

// record writes the post-apply observed state under the serial the plan
// reserved
func (e *Executor) record(ctx context.Context, op *plan.Operation, live map[string]any) error {
	obs := &state.ObservedState{
		ID:             op.Target,
		LiveAttributes: live,
		Fingerprint:    resource.Fingerprint(op.Desired),
		Serial:         op.PriorSerial + 1,
	}
	if err := e.store.Put(ctx, obs); err != nil {
		return fmt.Errorf("recording state for %s: %w", op.Target, err)
	}
	return nil
}
