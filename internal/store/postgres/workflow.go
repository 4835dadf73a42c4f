// Copyright Contributors to the env360 project

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/env360/env360/internal/apperr"
	"github.com/env360/env360/internal/domain"
	"github.com/env360/env360/internal/store"
)

// workflow_status / operation_outputs back the durable workflow engine;
// workflow_events / workflow_streams are the optional pair this
// implementation also provides so internal/workflow can run entirely on
// Postgres when no Redis backing is configured.

type workflowRow struct {
	WorkflowUUID string `db:"workflow_uuid"`
	Status string `db:"status"`
	Name string `db:"name"`
	Inputs []byte `db:"inputs"`
	ApplicationVersion string `db:"application_version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r workflowRow) toRecord() store.WorkflowRecord {
	rec := store.WorkflowRecord{
		WorkflowUUID: r.WorkflowUUID,
		Status: domain.WorkflowStatus(r.Status),
		Name: r.Name,
		ApplicationVersion: r.ApplicationVersion,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Inputs) > 0 {
		_ = json.Unmarshal(r.Inputs, &rec.Inputs)
	}
	return rec
}

func (s *Store) CreateWorkflow(ctx context.Context, wf store.WorkflowRecord) error {
	inputs, err := json.Marshal(wf.Inputs)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "marshalling workflow inputs", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_status (workflow_uuid, status, name, inputs, application_version)
		VALUES ($1,$2,$3,$4,$5)`,
		wf.WorkflowUUID, string(wf.Status), wf.Name, inputs, wf.ApplicationVersion)
	if err != nil {
		return wrapWrite(err, fmt.Sprintf("workflow %s already exists", wf.WorkflowUUID))
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, workflowUUID string) (store.WorkflowRecord, error) {
	var row workflowRow
	err := s.db.GetContext(ctx, &row, `SELECT workflow_uuid, status, name, inputs, application_version, created_at, updated_at FROM workflow_status WHERE workflow_uuid=$1`, workflowUUID)
	if err != nil {
		return store.WorkflowRecord{}, notFoundIf(err, fmt.Sprintf("workflow %s not found", workflowUUID))
	}
	return row.toRecord(), nil
}

func (s *Store) ListWorkflowsByStatus(ctx context.Context, status domain.WorkflowStatus) ([]store.WorkflowRecord, error) {
	var rows []workflowRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT workflow_uuid, status, name, inputs, application_version, created_at, updated_at FROM workflow_status WHERE status=$1 ORDER BY created_at`, string(status)); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing workflows by status", err)
	}
	out := make([]store.WorkflowRecord, len(rows))
	for i, r := range rows {
		out[i] = r.toRecord()
	}
	return out, nil
}

func (s *Store) UpdateWorkflowStatus(ctx context.Context, workflowUUID string, status domain.WorkflowStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE workflow_status SET status=$1, updated_at=now() WHERE workflow_uuid=$2`, string(status), workflowUUID)
	return softDeleteResult(err, res, fmt.Sprintf("workflow %s not found", workflowUUID))
}

func (s *Store) RecordStepOutput(ctx context.Context, out store.StepOutput) error {
	output, err := json.Marshal(out.Output)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalid, "marshalling step output", err)
	}
	var childID *string
	if out.ChildWorkflowID != "" {
		childID = &out.ChildWorkflowID
	}
	var completed *int64
	if out.CompletedAtMS != 0 {
		completed = &out.CompletedAtMS
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO operation_outputs (workflow_uuid, function_id, function_name, output, error, child_workflow_id, started_at_epoch_ms, completed_at_epoch_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (workflow_uuid, function_id) DO NOTHING`,
		out.WorkflowUUID, out.FunctionID, out.FunctionName, output, nullIfEmpty(out.Error), childID, out.StartedAtMS, completed)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "recording step output", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type stepOutputRow struct {
	WorkflowUUID string `db:"workflow_uuid"`
	FunctionID int `db:"function_id"`
	FunctionName string `db:"function_name"`
	Output []byte `db:"output"`
	Error *string `db:"error"`
	ChildWorkflowID *string `db:"child_workflow_id"`
	StartedAtMS int64 `db:"started_at_epoch_ms"`
	CompletedAtMS *int64 `db:"completed_at_epoch_ms"`
}

func (r stepOutputRow) toDomain() store.StepOutput {
	out := store.StepOutput{
		WorkflowUUID: r.WorkflowUUID,
		FunctionID: r.FunctionID,
		FunctionName: r.FunctionName,
		StartedAtMS: r.StartedAtMS,
	}
	if len(r.Output) > 0 {
		_ = json.Unmarshal(r.Output, &out.Output)
	}
	if r.Error != nil {
		out.Error = *r.Error
	}
	if r.ChildWorkflowID != nil {
		out.ChildWorkflowID = *r.ChildWorkflowID
	}
	if r.CompletedAtMS != nil {
		out.CompletedAtMS = *r.CompletedAtMS
	}
	return out
}

func (s *Store) GetStepOutput(ctx context.Context, workflowUUID string, functionID int) (store.StepOutput, bool, error) {
	var row stepOutputRow
	err := s.db.GetContext(ctx, &row, `SELECT workflow_uuid, function_id, function_name, output, error, child_workflow_id, started_at_epoch_ms, completed_at_epoch_ms FROM operation_outputs WHERE workflow_uuid=$1 AND function_id=$2`, workflowUUID, functionID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.StepOutput{}, false, nil
	}
	if err != nil {
		return store.StepOutput{}, false, apperr.Wrap(apperr.KindUnavailable, "loading step output", err)
	}
	return row.toDomain(), true, nil
}

func (s *Store) ListStepOutputs(ctx context.Context, workflowUUID string) ([]store.StepOutput, error) {
	var rows []stepOutputRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT workflow_uuid, function_id, function_name, output, error, child_workflow_id, started_at_epoch_ms, completed_at_epoch_ms FROM operation_outputs WHERE workflow_uuid=$1 ORDER BY function_id`, workflowUUID); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "listing step outputs", err)
	}
	out := make([]store.StepOutput, len(rows))
	for i, r := range rows {
		out[i] = r.toDomain()
	}
	return out, nil
}

func (s *Store) SetEvent(ctx context.Context, workflowUUID, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_events (workflow_uuid, key, value) VALUES ($1,$2,$3)
		ON CONFLICT (workflow_uuid, key) DO UPDATE SET value=EXCLUDED.value`,
		workflowUUID, key, value)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "setting workflow event", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, workflowUUID, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM workflow_events WHERE workflow_uuid=$1 AND key=$2`, workflowUUID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.KindUnavailable, "reading workflow event", err)
	}
	return value, true, nil
}

func (s *Store) AppendStream(ctx context.Context, workflowUUID, key string, value []byte) error {
	var nextSeq int
	err := s.db.GetContext(ctx, &nextSeq, `SELECT COALESCE(MAX(seq)+1, 0) FROM workflow_streams WHERE workflow_uuid=$1 AND key=$2`, workflowUUID, key)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "computing next stream sequence", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO workflow_streams (workflow_uuid, key, seq, value) VALUES ($1,$2,$3,$4)`, workflowUUID, key, nextSeq, value)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, "appending to workflow stream", err)
	}
	return nil
}

func (s *Store) ReadStream(ctx context.Context, workflowUUID, key string, maxItems int) ([][]byte, error) {
	query := `SELECT value FROM workflow_streams WHERE workflow_uuid=$1 AND key=$2 ORDER BY seq`
	args := []any{workflowUUID, key}
	if maxItems > 0 {
		query += " LIMIT $3"
		args = append(args, maxItems)
	}
	var out [][]byte
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, apperr.Wrap(apperr.KindUnavailable, "reading workflow stream", err)
	}
	return out, nil
}
