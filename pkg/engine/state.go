package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// OpState represents the execution state of a single operation
type OpState string

const (
	// OpPending means the operation has not started yet
	OpPending OpState = "Pending"
	// OpApplying means the operation is currently running
	OpApplying OpState = "Applying"
	// OpSucceeded means the operation finished and its observed state is
	// recorded
	OpSucceeded OpState = "Succeeded"
	// OpFailed means the operation exhausted its attempts
	OpFailed OpState = "Failed"
	// OpSkipped means the operation never ran because a dependency did
	// not succeed or the apply was canceled
	OpSkipped OpState = "Skipped"
)

// IsTerminal returns true when the state cannot change anymore
func (s OpState) IsTerminal() bool {
	return s == OpSucceeded || s == OpFailed || s == OpSkipped
}

// validOpTransitions defines the allowed state machine transitions
var validOpTransitions = map[OpState][]OpState{
	OpPending:   {OpApplying, OpFailed, OpSkipped},
	OpApplying:  {OpSucceeded, OpFailed},
	OpSucceeded: {},
	OpFailed:    {},
	OpSkipped:   {},
}

func isValidOpTransition(from, to OpState) bool {
	for _, allowed := range validOpTransitions[from] {
		if to == allowed {
			return true
		}
	}
	return false
}

// OpStatus tracks the detailed status of an operation during an apply
type OpStatus struct {
	State OpState
	// Error holds the final error message when State is Failed
	Error string
	// Reason explains a skip
	Reason string
	// Attempts counts driver invocations, including retries
	Attempts int
	// StartTime is when the operation entered Applying
	StartTime *time.Time
	// EndTime is when the operation reached a terminal state
	EndTime *time.Time
}

// Duration returns how long the operation ran, zero if it never started
func (s OpStatus) Duration() time.Duration {
	if s.StartTime == nil || s.EndTime == nil {
		return 0
	}
	return s.EndTime.Sub(*s.StartTime)
}

// ExecutionState tracks the state of all operations during an apply run.
// It is safe for concurrent use.
type ExecutionState struct {
	mu        sync.RWMutex
	statuses  map[string]*OpStatus
	startTime time.Time
	endTime   *time.Time
}

// NewExecutionState creates an execution state with all operations Pending
func NewExecutionState(keys []string) *ExecutionState {
	statuses := make(map[string]*OpStatus, len(keys))
	for _, key := range keys {
		statuses[key] = &OpStatus{State: OpPending}
	}
	return &ExecutionState{
		statuses:  statuses,
		startTime: time.Now(),
	}
}

// GetState returns the current state of an operation
func (es *ExecutionState) GetState(key string) (OpState, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, ok := es.statuses[key]
	if !ok {
		return "", fmt.Errorf("unknown operation: %s", key)
	}
	return status.State, nil
}

// GetStatus returns a copy of the full status of an operation
func (es *ExecutionState) GetStatus(key string) (OpStatus, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	status, ok := es.statuses[key]
	if !ok {
		return OpStatus{}, fmt.Errorf("unknown operation: %s", key)
	}
	return *status, nil
}

// SetState transitions an operation to a new state, validating the
// transition
func (es *ExecutionState) SetState(key string, state OpState) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, ok := es.statuses[key]
	if !ok {
		return fmt.Errorf("unknown operation: %s", key)
	}
	if !isValidOpTransition(status.State, state) {
		return fmt.Errorf("invalid state transition for %s: %s -> %s", key, status.State, state)
	}

	now := time.Now()
	status.State = state
	switch {
	case state == OpApplying:
		status.StartTime = &now
	case state.IsTerminal():
		status.EndTime = &now
	}
	return nil
}

// SetError marks an operation Failed with the given error
func (es *ExecutionState) SetError(key string, err error) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, ok := es.statuses[key]
	if !ok {
		return fmt.Errorf("unknown operation: %s", key)
	}

	now := time.Now()
	status.State = OpFailed
	status.Error = err.Error()
	status.EndTime = &now
	return nil
}

// MarkSkipped marks a pending operation Skipped with a reason
func (es *ExecutionState) MarkSkipped(key, reason string) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, ok := es.statuses[key]
	if !ok {
		return fmt.Errorf("unknown operation: %s", key)
	}
	if status.State != OpPending {
		return fmt.Errorf("cannot skip %s in state %s", key, status.State)
	}

	now := time.Now()
	status.State = OpSkipped
	status.Reason = reason
	status.EndTime = &now
	return nil
}

// RecordAttempt increments the attempt counter for an operation
func (es *ExecutionState) RecordAttempt(key string) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	status, ok := es.statuses[key]
	if !ok {
		return fmt.Errorf("unknown operation: %s", key)
	}
	status.Attempts++
	return nil
}

// GetKeysInState returns all operation keys currently in the given state,
// sorted for determinism
func (es *ExecutionState) GetKeysInState(state OpState) []string {
	es.mu.RLock()
	defer es.mu.RUnlock()

	var keys []string
	for key, status := range es.statuses {
		if status.State == state {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// GetAllStates returns a snapshot of all operation states
func (es *ExecutionState) GetAllStates() map[string]OpState {
	es.mu.RLock()
	defer es.mu.RUnlock()

	states := make(map[string]OpState, len(es.statuses))
	for key, status := range es.statuses {
		states[key] = status.State
	}
	return states
}

// IsComplete returns true when every operation is in a terminal state
func (es *ExecutionState) IsComplete() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.statuses {
		if !status.State.IsTerminal() {
			return false
		}
	}
	return true
}

// HasFailures returns true if any operation failed
func (es *ExecutionState) HasFailures() bool {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, status := range es.statuses {
		if status.State == OpFailed {
			return true
		}
	}
	return false
}

// MarkComplete records the end of the apply run
func (es *ExecutionState) MarkComplete() {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	es.endTime = &now
}

// ExecutionSummary provides aggregate statistics for an apply run
type ExecutionSummary struct {
	Total     int
	Pending   int
	Applying  int
	Succeeded int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   *time.Time
}

// Elapsed returns the wall-clock duration of the run so far
func (s ExecutionSummary) Elapsed() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// GetSummary returns aggregate statistics for the run
func (es *ExecutionState) GetSummary() ExecutionSummary {
	es.mu.RLock()
	defer es.mu.RUnlock()

	summary := ExecutionSummary{
		Total:     len(es.statuses),
		StartTime: es.startTime,
		EndTime:   es.endTime,
	}
	for _, status := range es.statuses {
		switch status.State {
		case OpPending:
			summary.Pending++
		case OpApplying:
			summary.Applying++
		case OpSucceeded:
			summary.Succeeded++
		case OpFailed:
			summary.Failed++
		case OpSkipped:
			summary.Skipped++
		}
	}
	return summary
}
