// Copyright Contributors to the env360 project

package workflow

import (
	"context"
	"time"

	"github.com/env360/env360/internal/domain"
)

// StepStatus is one step's entry in a StatusSnapshot.
type StepStatus struct {
	FunctionID int
	Name string
	Output map[string]any
	Error string
	ChildWorkflowID string
	StartedAt time.Time
	CompletedAt time.Time
}

// StatusSnapshot is the point-in-time read of a workflow: status,
// steps_completed, and the per-step detail. It carries no num_steps.
type StatusSnapshot struct {
	WorkflowUUID string
	Name string
	Status domain.WorkflowStatus
	StepsCompleted int
	Steps []StepStatus
}

// Status builds a StatusSnapshot for workflowUUID from the WorkflowStore
//.
func (e *Engine) Status(ctx context.Context, workflowUUID string) (StatusSnapshot, error) {
	rec, err := e.Store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return StatusSnapshot{}, err
	}
	outputs, err := e.Store.ListStepOutputs(ctx, workflowUUID)
	if err != nil {
		return StatusSnapshot{}, err
	}

	snap := StatusSnapshot{WorkflowUUID: workflowUUID, Name: rec.Name, Status: rec.Status}
	for _, o := range outputs {
		step := StepStatus{
			FunctionID: o.FunctionID,
			Name: o.FunctionName,
			Output: o.Output,
			Error: o.Error,
			ChildWorkflowID: o.ChildWorkflowID,
			StartedAt: msToTime(o.StartedAtMS),
			CompletedAt: msToTime(o.CompletedAtMS),
		}
		snap.Steps = append(snap.Steps, step)
		if o.Error == "" {
			snap.StepsCompleted++
		}
	}
	return snap, nil
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
