// Copyright Contributors to the env360 project

// Package workflow implements a durable workflow engine: step-wise
// execution with exactly-once-per-position step memoization, a
// queue/status store, events, streams, and cancel/resume/fork/send
// operations. Each workflow instance runs on its own goroutine and
// relies entirely on the Store for durability -- a crash at any point
// can be recovered by re-running the workflow function, since every
// already-completed step's output replays from its memoized row.
package workflow

import (
	"context"
	"time"

	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

var log = zapr.NewLogger(zap.L()).WithName("workflow")

// cancelEventKey is the workflow-local event Cancel sets and Run.Step
// checks at every step boundary.
const cancelEventKey = "__cancel_requested__"

// defaultTopic is used by Send when no topic is given.
const defaultTopic = "default"

// Func is a named workflow: a JSON-serializable-args-in,
// JSON-serializable-output-out function built from a sequence of Step
// calls against its Run.
type Func func(ctx context.Context, r *Run) (map[string]any, error)

// Engine runs registered Funcs against a durable WorkflowStore.
type Engine struct {
	Store store.WorkflowStore
	registry map[string]Func
}

// New returns an Engine with no workflows registered.
func New(st store.WorkflowStore) *Engine {
	return &Engine{Store: st, registry: map[string]Func{}}
}

// Register adds a named workflow. It is not safe to call concurrently
// with Start/Resume/Fork.
func (e *Engine) Register(name string, fn Func) {
	e.registry[name] = fn
}

// Run is the handle a workflow Func uses to execute memoized steps and
// to read events/streams scoped to its own workflow_uuid.
type Run struct {
	WorkflowUUID string
	Name string
	Args map[string]any

	store store.WorkflowStore
	nextFunctionID int
}

// Step executes fn at the Run's next deterministic position
// (function_id), recording its output exactly once. If this position
// was already recorded by a prior attempt at this workflow_uuid -- a
// resumed run after a crash -- the persisted output is returned and fn
// is never invoked.
func (r *Run) Step(ctx context.Context, name string, fn func(ctx context.Context) (map[string]any, error)) (map[string]any, error) {
	functionID := r.nextFunctionID
	r.nextFunctionID++

	if existing, found, err := r.store.GetStepOutput(ctx, r.WorkflowUUID, functionID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "workflow: loading persisted step output", err)
	} else if found {
		log.V(1).Info("replaying memoized step", "workflow", r.WorkflowUUID, "step", name, "function_id", functionID)
		if existing.Error != "" {
			return existing.Output, apperr.New(apperr.KindFatal, existing.Error)
		}
		return existing.Output, nil
	}

	if cancelled, err := r.cancelRequested(ctx); err != nil {
		return nil, err
	} else if cancelled {
		return nil, apperr.New(apperr.KindCancelled, "workflow: cancelled before step "+name)
	}

	startedAt := time.Now()
	out, runErr := fn(ctx)
	completedAt := time.Now()

	rec := store.StepOutput{
		WorkflowUUID: r.WorkflowUUID,
		FunctionID: functionID,
		FunctionName: name,
		Output: out,
		StartedAtMS: startedAt.UnixMilli(),
		CompletedAtMS: completedAt.UnixMilli(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := r.store.RecordStepOutput(ctx, rec); err != nil {
		return nil, err
	}
	return out, runErr
}

func (r *Run) cancelRequested(ctx context.Context) (bool, error) {
	_, found, err := r.store.GetEvent(ctx, r.WorkflowUUID, cancelEventKey)
	return found, err
}

// SetEvent implements setEvent(): keys are workflow-local.
func (r *Run) SetEvent(ctx context.Context, key string, value []byte) error {
	return r.store.SetEvent(ctx, r.WorkflowUUID, key, value)
}

// GetEvent implements getEvent(): polls until the key appears
// or timeout elapses.
func (r *Run) GetEvent(ctx context.Context, key string, timeout time.Duration) ([]byte, bool, error) {
	return getEventPoll(ctx, r.store, r.WorkflowUUID, key, timeout)
}

// AppendStream implements "Streams": append-only value
// sequences addressable by key.
func (r *Run) AppendStream(ctx context.Context, key string, value []byte) error {
	return r.store.AppendStream(ctx, r.WorkflowUUID, key, value)
}

// ReadStream returns a snapshot of at most maxItems values from key.
func (r *Run) ReadStream(ctx context.Context, key string, maxItems int) ([][]byte, error) {
	return r.store.ReadStream(ctx, r.WorkflowUUID, key, maxItems)
}

func getEventPoll(ctx context.Context, st store.WorkflowStore, workflowUUID, key string, timeout time.Duration) ([]byte, bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		value, found, err := st.GetEvent(ctx, workflowUUID, key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return value, true, nil
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-ctx.Done():
			return nil, false, apperr.Wrap(apperr.KindCancelled, "workflow: getEvent cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// Enqueue persists a new workflow_status row in the "enqueued" state. It
// does not start execution; a dispatcher does that (internal/scheduler).
func (e *Engine) Enqueue(ctx context.Context, name string, args map[string]any, appVersion string) (string, error) {
	id := uuid.NewString()
	rec := store.WorkflowRecord{
		WorkflowUUID: id,
		Name: name,
		Status: domain.WorkflowEnqueued,
		Inputs: args,
		ApplicationVersion: appVersion,
	}
	if err := e.Store.CreateWorkflow(ctx, rec); err != nil {
		return "", err
	}
	return id, nil
}

// Start transitions workflowUUID to running and executes its registered
// Func synchronously to completion. Calling Start again on a
// workflow that already has persisted step outputs resumes it: every
// already-recorded Step call returns its memoized output without
// re-executing.
func (e *Engine) Start(ctx context.Context, workflowUUID string) (map[string]any, error) {
	rec, err := e.Store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}

	fn, ok := e.registry[rec.Name]
	if !ok {
		ferr := apperr.Newf(apperr.KindFatal, "workflow: no workflow registered for name %q", rec.Name)
		_ = e.Store.UpdateWorkflowStatus(ctx, workflowUUID, domain.WorkflowFailed)
		return nil, ferr
	}

	if err := e.Store.UpdateWorkflowStatus(ctx, workflowUUID, domain.WorkflowRunning); err != nil {
		return nil, err
	}

	run := &Run{WorkflowUUID: workflowUUID, Name: rec.Name, Args: rec.Inputs, store: e.Store}
	out, runErr := fn(ctx, run)

	status := domain.WorkflowSucceeded
	if runErr != nil {
		status = domain.WorkflowFailed
		if apperr.IsCancelled(runErr) {
			status = domain.WorkflowCancelled
		}
		log.Error(runErr, "workflow failed", "workflow", workflowUUID, "name", rec.Name)
	}
	if updErr := e.Store.UpdateWorkflowStatus(ctx, workflowUUID, status); updErr != nil {
		return out, updErr
	}
	return out, runErr
}

// StartAsync launches Start on its own goroutine with a background
// context, logging (but not propagating) its terminal error. Resume uses
// this; internal/scheduler's Dispatcher calls Start on its own
// capacity-bounded goroutines instead.
func (e *Engine) StartAsync(workflowUUID string) {
	go func() {
		if _, err := e.Start(context.Background(), workflowUUID); err != nil {
			log.Error(err, "workflow run ended in error", "workflow", workflowUUID)
		}
	}()
}

// Cancel implements cancel(): cooperative cancellation. A
// currently-running workflow's executing step finishes, then Start sees
// the event at the next Step boundary and reports KindCancelled, which
// Start maps to status=cancelled. A workflow not currently running has
// no in-flight step to let finish, so it is marked cancelled immediately.
func (e *Engine) Cancel(ctx context.Context, workflowUUID string) error {
	if err := e.Store.SetEvent(ctx, workflowUUID, cancelEventKey, []byte("1")); err != nil {
		return err
	}
	rec, err := e.Store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return err
	}
	if rec.Status != domain.WorkflowRunning {
		return e.Store.UpdateWorkflowStatus(ctx, workflowUUID, domain.WorkflowCancelled)
	}
	return nil
}

// Resume implements resume(): re-invoke Start asynchronously.
// Every already-completed step replays from its persisted output; only
// the first unrecorded step actually executes.
func (e *Engine) Resume(workflowUUID string) {
	e.StartAsync(workflowUUID)
}

// Fork implements fork(wf, startStep, appVersion?)->newWfId: a
// new workflow instance that reuses every step output strictly below
// startStep. Fork only persists the new record and copied step outputs,
// in the "enqueued" state -- exactly like Enqueue -- leaving the caller
// (typically a dispatcher, or a direct Start/Resume call) to execute it,
// so a caller that wants forked output deterministically can call Start
// itself without racing a background goroutine.
func (e *Engine) Fork(ctx context.Context, workflowUUID string, startStep int, appVersion string) (string, error) {
	rec, err := e.Store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return "", err
	}
	priorOutputs, err := e.Store.ListStepOutputs(ctx, workflowUUID)
	if err != nil {
		return "", err
	}

	newID := uuid.NewString()
	version := appVersion
	if version == "" {
		version = rec.ApplicationVersion
	}
	if err := e.Store.CreateWorkflow(ctx, store.WorkflowRecord{
		WorkflowUUID: newID,
		Name: rec.Name,
		Status: domain.WorkflowEnqueued,
		Inputs: rec.Inputs,
		ApplicationVersion: version,
	}); err != nil {
		return "", err
	}

	for _, so := range priorOutputs {
		if so.FunctionID >= startStep {
			continue
		}
		so.WorkflowUUID = newID
		if err := e.Store.RecordStepOutput(ctx, so); err != nil {
			return "", err
		}
	}

	return newID, nil
}

// Send implements send(destId, msg, topic?, idempotencyKey?):
// appends msg to the destination workflow's inbox stream for topic,
// skipping delivery if idempotencyKey has already been used.
func (e *Engine) Send(ctx context.Context, destWorkflowUUID string, msg []byte, topic, idempotencyKey string) error {
	if idempotencyKey != "" {
		key := "idempotency:" + idempotencyKey
		if _, found, err := e.Store.GetEvent(ctx, destWorkflowUUID, key); err != nil {
			return err
		} else if found {
			return nil
		}
		if err := e.Store.SetEvent(ctx, destWorkflowUUID, key, []byte("1")); err != nil {
			return err
		}
	}
	if topic == "" {
		topic = defaultTopic
	}
	return e.Store.AppendStream(ctx, destWorkflowUUID, "inbox:"+topic, msg)
}
