// Package workflow executes capability-typed step DAGs against the agent
// registry, persisting every status change into the knowledge store so a
// restarted process can resume where it left off.
package workflow

import (
	"github.com/nicholaskb/semant/pkg/capability"
	"github.com/nicholaskb/semant/pkg/errors"
)

// Status is shared by workflows and their steps.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCommitted  Status = "committed"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusRolledBack Status = "rolled_back"
)

// Action is a capability-typed dispatch: the unit of work for a step and
// for its compensation.
type Action struct {
	Capability capability.Capability
	Payload    any
}

// Step is one node of the workflow DAG. A step cannot start until every id
// in DependsOn has committed.
type Step struct {
	ID         string
	Action     Action
	DependsOn  []string
	Compensate *Action

	Status  Status
	Result  any
	LastErr string
	Retries int
}

// Workflow is a named DAG of steps with a single overall status.
type Workflow struct {
	ID     string
	Name   string
	Status Status
	Steps  map[string]*Step

	// commitOrder records step ids in the order they committed; rollback
	// compensates in reverse.
	commitOrder []string

	failedStep string
	lastErr    string
}

// Result is the caller-visible outcome of an execution.
type Result struct {
	WorkflowID string
	Status     Status
	Committed  []string
	FailedStep string
	LastError  string
	Outputs    map[string]any
}

func (w *Workflow) result() *Result {
	outputs := make(map[string]any)
	for id, st := range w.Steps {
		if st.Status == StatusCommitted {
			outputs[id] = st.Result
		}
	}
	committed := make([]string, len(w.commitOrder))
	copy(committed, w.commitOrder)
	return &Result{
		WorkflowID: w.ID,
		Status:     w.Status,
		Committed:  committed,
		FailedStep: w.failedStep,
		LastError:  w.lastErr,
		Outputs:    outputs,
	}
}

// readySteps returns pending steps whose dependencies have all committed.
func (w *Workflow) readySteps() []*Step {
	var ready []*Step
	for _, st := range w.Steps {
		if st.Status != StatusPending {
			continue
		}
		ok := true
		for _, dep := range st.DependsOn {
			if w.Steps[dep].Status != StatusCommitted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, st)
		}
	}
	return ready
}

// skipDependents marks every transitive dependent of failedID as skipped and
// returns the ids it touched.
func (w *Workflow) skipDependents(failedID string) []string {
	dependents := make(map[string][]string)
	for id, st := range w.Steps {
		for _, dep := range st.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var skipped []string
	queue := []string{failedID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, id := range dependents[cur] {
			st := w.Steps[id]
			if st.Status != StatusPending {
				continue
			}
			st.Status = StatusSkipped
			skipped = append(skipped, id)
			queue = append(queue, id)
		}
	}
	return skipped
}

func validateStep(s Step) error {
	if s.ID == "" {
		return errors.New(errors.CodeValidation, "step id is required", nil)
	}
	if !s.Action.Capability.Type.Valid() {
		return errors.New(errors.CodeValidation, "step requires a known capability type", nil).
			WithContext("step", s.ID).
			WithContext("type", string(s.Action.Capability.Type))
	}
	if s.Compensate != nil && !s.Compensate.Capability.Type.Valid() {
		return errors.New(errors.CodeValidation, "compensation requires a known capability type", nil).
			WithContext("step", s.ID).
			WithContext("type", string(s.Compensate.Capability.Type))
	}
	return nil
}
