// Copyright Contributors to the env360 project

package workflow_test

import (
	"context"
	"testing"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store/memstore"
	"github.com/env360/env360/internal/workflow"
)

func TestStepMemoizationSkipsReexecution(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)

	calls := 0
	e.Register("counter", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		_, err := r.Step(ctx, "increment", func(ctx context.Context) (map[string]any, error) {
			calls++
			return map[string]any{"calls": calls}, nil
		})
		return nil, err
	})

	id, err := e.Enqueue(ctx, "counter", nil, "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := e.Start(ctx, id); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := e.Start(ctx, id); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if calls != 1 {
		t.Fatalf("calls = %d, want 1 (memoized step must not re-execute)", calls)
	}
}

func TestStartTransitionsToSucceeded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)
	e.Register("noop", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	id, _ := e.Enqueue(ctx, "noop", nil, "")
	if _, err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := st.GetWorkflow(ctx, id)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if rec.Status != domain.WorkflowSucceeded {
		t.Errorf("status = %v, want succeeded", rec.Status)
	}
}

func TestStartTransitionsToFailedOnError(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)
	e.Register("boom", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		return nil, apperr.New(apperr.KindFatal, "kaboom")
	})

	id, _ := e.Enqueue(ctx, "boom", nil, "")
	if _, err := e.Start(ctx, id); err == nil {
		t.Fatal("expected Start to return the workflow's error")
	}

	rec, _ := st.GetWorkflow(ctx, id)
	if rec.Status != domain.WorkflowFailed {
		t.Errorf("status = %v, want failed", rec.Status)
	}
}

func TestCancelNotRunningTransitionsImmediately(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)
	e.Register("noop", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		return nil, nil
	})

	id, _ := e.Enqueue(ctx, "noop", nil, "")
	if err := e.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec, _ := st.GetWorkflow(ctx, id)
	if rec.Status != domain.WorkflowCancelled {
		t.Errorf("status = %v, want cancelled", rec.Status)
	}
}

func TestCancelStopsSubsequentSteps(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)

	var secondStepRan bool
	e.Register("twostep", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		if _, err := r.Step(ctx, "first", func(ctx context.Context) (map[string]any, error) {
			return nil, nil
		}); err != nil {
			return nil, err
		}
		// Simulate cancellation having arrived between steps.
		if err := st.SetEvent(ctx, r.WorkflowUUID, "__cancel_requested__", []byte("1")); err != nil {
			return nil, err
		}
		_, err := r.Step(ctx, "second", func(ctx context.Context) (map[string]any, error) {
			secondStepRan = true
			return nil, nil
		})
		return nil, err
	})

	id, _ := e.Enqueue(ctx, "twostep", nil, "")
	_, err := e.Start(ctx, id)
	if !apperr.IsCancelled(err) {
		t.Fatalf("Start error = %v, want KindCancelled", err)
	}
	if secondStepRan {
		t.Fatal("second step ran after cancellation was requested")
	}

	rec, _ := st.GetWorkflow(ctx, id)
	if rec.Status != domain.WorkflowCancelled {
		t.Errorf("status = %v, want cancelled", rec.Status)
	}
}

func TestForkReusesStepsBelowStartStepAndReruns(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)

	var secondStepCalls int
	e.Register("twostep", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		if _, err := r.Step(ctx, "first", func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"v": 1}, nil
		}); err != nil {
			return nil, err
		}
		_, err := r.Step(ctx, "second", func(ctx context.Context) (map[string]any, error) {
			secondStepCalls++
			return map[string]any{"v": 2}, nil
		})
		return nil, err
	})

	id, _ := e.Enqueue(ctx, "twostep", nil, "")
	if _, err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if secondStepCalls != 1 {
		t.Fatalf("secondStepCalls = %d, want 1", secondStepCalls)
	}

	newID, err := e.Fork(ctx, id, 1, "")
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	// Fork only persists the copied record; this call is what actually
	// resumes execution from startStep.
	if _, err := e.Start(ctx, newID); err != nil {
		t.Fatalf("Start(forked): %v", err)
	}

	if secondStepCalls != 2 {
		t.Fatalf("secondStepCalls after fork = %d, want 2 (step 0 reused, step >=1 reruns)", secondStepCalls)
	}

	first, found, err := st.GetStepOutput(ctx, newID, 0)
	if err != nil || !found {
		t.Fatalf("expected forked workflow to carry step 0's output: found=%v err=%v", found, err)
	}
	if first.Output["v"] != float64(1) && first.Output["v"] != 1 {
		t.Errorf("carried step output = %v, want v=1", first.Output)
	}
}

func TestSendIdempotencyKeySkipsDuplicateDelivery(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)

	dest := "dest-wf"
	if err := e.Send(ctx, dest, []byte("hello"), "", "msg-1"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := e.Send(ctx, dest, []byte("hello-again"), "", "msg-1"); err != nil {
		t.Fatalf("Send (dup): %v", err)
	}

	values, err := st.ReadStream(ctx, dest, "inbox:default", 0)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("inbox has %d items, want 1 (duplicate idempotency key must be skipped)", len(values))
	}
}

func TestStatusSnapshotCountsCompletedSteps(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	e := workflow.New(st)
	e.Register("twostep", func(ctx context.Context, r *workflow.Run) (map[string]any, error) {
		if _, err := r.Step(ctx, "first", func(ctx context.Context) (map[string]any, error) {
			return map[string]any{}, nil
		}); err != nil {
			return nil, err
		}
		return r.Step(ctx, "second", func(ctx context.Context) (map[string]any, error) {
			return map[string]any{}, nil
		})
	})

	id, _ := e.Enqueue(ctx, "twostep", nil, "")
	if _, err := e.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, err := e.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.StepsCompleted != 2 {
		t.Errorf("StepsCompleted = %d, want 2", snap.StepsCompleted)
	}
	if snap.Status != domain.WorkflowSucceeded {
		t.Errorf("Status = %v, want succeeded", snap.Status)
	}
}
