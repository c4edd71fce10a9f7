package engine

import (
	"time"

	"github.com/chazu/ballast/pkg/plan"
	"github.com/chazu/ballast/pkg/resource"
)

// Status is the overall outcome of an apply run
type Status string

const (
	// StatusConverged means every operation succeeded
	StatusConverged Status = "Converged"
	// StatusPartiallyFailed means at least one operation failed or was
	// skipped; the successful operations' state is still recorded
	StatusPartiallyFailed Status = "PartiallyFailed"
)

// OperationResult is the recorded outcome of one operation
type OperationResult struct {
	// Key identifies the operation within the change set
	Key string
	// Target is the resource identity acted on
	Target resource.ID
	// Kind is the action that was planned
	Kind plan.OpKind
	// State is the terminal execution state
	State OpState
	// Error holds the failure message when State is Failed
	Error string
	// Reason explains a skip
	Reason string
	// Attempts counts driver invocations, including retries
	Attempts int
	// Duration is how long the operation ran
	Duration time.Duration
}

// Report is the durable outcome of applying one plan
type Report struct {
	// PlanID names the plan this report describes
	PlanID string
	// Status is the overall outcome
	Status Status
	// Canceled is true when the run stopped early because its context
	// was canceled
	Canceled bool
	// StartedAt and FinishedAt bound the run
	StartedAt  time.Time
	FinishedAt time.Time
	// Results lists every operation's outcome in change-set order
	Results []OperationResult
	// Summary aggregates the terminal states
	Summary ExecutionSummary
}

// newReport assembles a report from the change set and final execution
// state
func newReport(p *plan.Plan, es *ExecutionState, canceled bool) *Report {
	summary := es.GetSummary()

	report := &Report{
		PlanID:    p.ID,
		Status:    StatusConverged,
		Canceled:  canceled,
		StartedAt: summary.StartTime,
		Results:   make([]OperationResult, 0, len(p.Changes.Operations)),
		Summary:   summary,
	}
	if summary.EndTime != nil {
		report.FinishedAt = *summary.EndTime
	}
	if summary.Failed > 0 || summary.Skipped > 0 {
		report.Status = StatusPartiallyFailed
	}

	for _, op := range p.Changes.Operations {
		key := op.Key()
		status, err := es.GetStatus(key)
		if err != nil {
			continue
		}
		report.Results = append(report.Results, OperationResult{
			Key:      key,
			Target:   op.Target,
			Kind:     op.Kind,
			State:    status.State,
			Error:    status.Error,
			Reason:   status.Reason,
			Attempts: status.Attempts,
			Duration: status.Duration(),
		})
	}
	return report
}

// Converged reports whether the run left the topology matching its
// declaration
func (r *Report) Converged() bool {
	return r.Status == StatusConverged
}

// Failed returns the results of operations that failed
func (r *Report) Failed() []OperationResult {
	var failed []OperationResult
	for _, res := range r.Results {
		if res.State == OpFailed {
			failed = append(failed, res)
		}
	}
	return failed
}

// SkippedResults returns the results of operations that never ran
func (r *Report) SkippedResults() []OperationResult {
	var skipped []OperationResult
	for _, res := range r.Results {
		if res.State == OpSkipped {
			skipped = append(skipped, res)
		}
	}
	return skipped
}
