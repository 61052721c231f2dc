package fsm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/ingest"
	"github.com/superfly/fsm"
)

// Finisher records the final outcome of a run. runErr is nil on success.
type Finisher interface {
	Finish(ctx context.Context, runID string, result *ingest.Result, runErr error)
}

// StatusUpdater marks a run's progress in the store.
type StatusUpdater interface {
	UpdateRunStatus(ctx context.Context, id, status, errorMessage string) error
}

// Machine holds dependencies for FSM transitions
type Machine struct {
	pipeline *ingest.Pipeline
	runs     StatusUpdater
	finisher Finisher
}

// NewMachine creates a new FSM machine with dependencies
func NewMachine(pipeline *ingest.Pipeline, runs StatusUpdater, finisher Finisher) *Machine {
	return &Machine{
		pipeline: pipeline,
		runs:     runs,
		finisher: finisher,
	}
}

// abort finishes the run as failed and stops the FSM without retry.
func (m *Machine) abort(ctx context.Context, req *fsm.Request[RunRequest, RunResponse], err error) (*fsm.Response[RunResponse], error) {
	if resp := req.W.Msg; resp != nil {
		resp.Status = db.StatusFailed
		resp.ErrorMessage = err.Error()
	}
	m.finisher.Finish(ctx, req.Msg.RunID, nil, err)
	return nil, fsm.Abort(err)
}

// handleFetch marks the run running and pulls raw items from the catalog
func (m *Machine) handleFetch(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_fetch", "run_id", req.Msg.RunID, "source", req.Msg.Source)

	resp := req.W.Msg
	if resp == nil {
		resp = &RunResponse{}
	}

	if err := m.runs.UpdateRunStatus(ctx, req.Msg.RunID, db.StatusRunning, ""); err != nil {
		slog.Error("status_update_failed", "run_id", req.Msg.RunID, "status", db.StatusRunning, "error", err)
		return m.abort(ctx, req, errors.Wrap(err, "failed to update status"))
	}

	items, err := m.pipeline.Fetch(ctx)
	if err != nil {
		slog.Error("fetch_failed", "run_id", req.Msg.RunID, "error", err)
		return m.abort(ctx, req, err)
	}

	slog.Info("fetch_complete", "run_id", req.Msg.RunID, "items", len(items))
	resp.Items = items

	return fsm.NewResponse(resp), nil
}

// handleStage deduplicates, validates and resolves labels
func (m *Machine) handleStage(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_stage", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil {
		return m.abort(ctx, req, fmt.Errorf("response not initialized"))
	}

	staged, err := m.pipeline.Stage(ctx, resp.Items)
	if err != nil {
		slog.Error("stage_failed", "run_id", req.Msg.RunID, "error", err)
		return m.abort(ctx, req, err)
	}

	resp.Staged = staged
	resp.Items = nil

	return fsm.NewResponse(resp), nil
}

// handlePersist commits the staged batch in one transaction
func (m *Machine) handlePersist(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_persist", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil || resp.Staged == nil {
		return m.abort(ctx, req, fmt.Errorf("nothing staged for persist"))
	}

	result, err := m.pipeline.Commit(ctx, resp.Staged)
	if err != nil {
		slog.Error("persist_failed", "run_id", req.Msg.RunID, "error", err)
		return m.abort(ctx, req, err)
	}

	resp.Result = result
	resp.Staged = nil

	return fsm.NewResponse(resp), nil
}

// handleComplete records the successful outcome
func (m *Machine) handleComplete(ctx context.Context, req *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error) {
	slog.Info("fsm_state_complete", "run_id", req.Msg.RunID)

	resp := req.W.Msg
	if resp == nil || resp.Result == nil {
		return m.abort(ctx, req, fmt.Errorf("run finished without a result"))
	}

	resp.Status = db.StatusSucceeded
	m.finisher.Finish(ctx, req.Msg.RunID, resp.Result, nil)

	slog.Info("fsm_complete", "run_id", req.Msg.RunID,
		"records_added", resp.Result.RecordsAdded, "labels_added", resp.Result.LabelsAdded)

	return fsm.NewResponse(resp), nil
}
