// Copyright Contributors to the env360 project

// Package scheduler implements the Scheduler/Dispatcher:
// enqueue(workflowName, args, queue) -> workflow_uuid, persisting the
// workflow record before returning so callers can durably reference the
// id, then handing the run off to internal/workflow asynchronously
// subject to a bounded pool of concurrently-executing instances.
package scheduler

import (
	"context"
	"sync"

	"github.com/go-logr/zapr"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
	"github.com/env360/env360/internal/workflow"
)

var log = zapr.NewLogger(zap.L()).WithName("scheduler")

// defaultCapacity bounds how many workflow instances this Dispatcher
// runs at once when the caller doesn't specify one.
const defaultCapacity = 8

// Dispatcher is the single named queue described. env360
// runs one in-process queue per Dispatcher; multiple named queues are
// multiple Dispatcher instances sharing the same Engine and Store.
type Dispatcher struct {
	Engine *workflow.Engine
	Store store.WorkflowStore
	Queue string

	sem chan struct{}

	mu sync.Mutex
	sweep *cron.Cron
}

// New returns a Dispatcher whose queue name is settings'
// DBOS_WORKFLOW_QUEUE_NAME, or a hardcoded default when that is unset,
// with room for capacity concurrently-running workflow instances.
func New(engine *workflow.Engine, st store.WorkflowStore, settings *config.Settings, capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	queue := "env360-default"
	if settings != nil && settings.WorkflowQueueName != "" {
		queue = settings.WorkflowQueueName
	}
	return &Dispatcher{
		Engine: engine,
		Store: st,
		Queue: queue,
		sem: make(chan struct{}, capacity),
	}
}

// Enqueue implements: persists the workflow_status row in
// "enqueued" state via the Engine (durability guarantee) before
// returning workflowUUID, then schedules execution without blocking the
// caller ("Execution is asynchronous").
func (d *Dispatcher) Enqueue(ctx context.Context, workflowName string, args map[string]any, appVersion string) (string, error) {
	id, err := d.Engine.Enqueue(ctx, workflowName, args, appVersion)
	if err != nil {
		return "", err
	}
	d.dispatch(id)
	return id, nil
}

// dispatch claims a capacity slot (blocking if the queue is full) on its
// own goroutine, then runs the workflow to completion. It never blocks
// the calling goroutine of Enqueue/Resume.
func (d *Dispatcher) dispatch(workflowUUID string) {
	go func() {
		d.sem <- struct{}{}
		defer func() { <-d.sem }()
		if _, err := d.Engine.Start(context.Background(), workflowUUID); err != nil {
			log.Error(err, "dispatched workflow ended in error", "queue", d.Queue, "workflow", workflowUUID)
		}
	}()
}

// Resume re-dispatches an existing workflow (e.g. after a manual
// fork/resume call reached this Dispatcher rather than the Engine
// directly), honoring the same capacity bound as Enqueue.
func (d *Dispatcher) Resume(workflowUUID string) {
	d.dispatch(workflowUUID)
}

// StartSweep launches a robfig/cron job on cronSpec (e.g. "@every 30s")
// that re-dispatches every workflow left in "enqueued" or "running" --
// the state a row is left in if a process crashes between Enqueue
// persisting the record and dispatch() ever claiming a capacity slot, or
// mid-step. Calling
// StartSweep twice is a no-op; call StopSweep to tear it down.
func (d *Dispatcher) StartSweep(cronSpec string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sweep != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(cronSpec, d.sweepOnce); err != nil {
		return apperr.Wrap(apperr.KindInvalid, "scheduler: invalid sweep schedule", err)
	}
	c.Start()
	d.sweep = c
	return nil
}

// StopSweep stops the background sweep started by StartSweep, waiting
// for any in-flight sweep tick to finish.
func (d *Dispatcher) StopSweep() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sweep == nil {
		return
	}
	<-d.sweep.Stop().Done()
	d.sweep = nil
}

func (d *Dispatcher) sweepOnce() {
	ctx := context.Background()
	for _, status := range []domain.WorkflowStatus{domain.WorkflowEnqueued, domain.WorkflowRunning} {
		recs, err := d.Store.ListWorkflowsByStatus(ctx, status)
		if err != nil {
			log.Error(err, "sweep: listing workflows by status failed", "status", status)
			continue
		}
		for _, rec := range recs {
			log.Info("sweep: re-dispatching orphaned workflow", "workflow", rec.WorkflowUUID, "name", rec.Name, "status", rec.Status)
			d.dispatch(rec.WorkflowUUID)
		}
	}
}
