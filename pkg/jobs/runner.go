// Package jobs starts ingestion runs on the FSM and records their outcome.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	appfsm "github.com/catvault/catvault/pkg/fsm"
	"github.com/catvault/catvault/pkg/ingest"
	"github.com/catvault/catvault/pkg/metrics"
	"github.com/catvault/catvault/pkg/storage"
	"github.com/google/uuid"
	"github.com/superfly/fsm"
)

// Run sources.
const (
	SourceCLI   = "cli"
	SourceHTTP  = "http"
	SourceQueue = "queue"
)

// Store is the run bookkeeping the runner needs.
type Store interface {
	CreateRun(ctx context.Context, run *db.Run) error
	UpdateRunStatus(ctx context.Context, id, status, errorMessage string) error
	FinishRun(ctx context.Context, run *db.Run) error
	GetRun(ctx context.Context, id string) (*db.Run, error)
}

// Reporter uploads run reports.
type Reporter interface {
	Upload(ctx context.Context, key, contentType string, body []byte) (*storage.UploadResult, error)
}

// Report is the JSON document uploaded for every finished run.
type Report struct {
	RunID      string         `json:"run_id"`
	Source     string         `json:"source"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Result     *ingest.Result `json:"result,omitempty"`
}

// Options configures a Runner.
type Options struct {
	Pipeline  *ingest.Pipeline
	Store     Store
	FSMDBPath string
	Metrics   *metrics.Metrics
	// Reporter is optional; without it no reports are uploaded.
	Reporter     Reporter
	ReportPrefix string
}

// Runner owns the FSM manager and tracks in-flight runs.
type Runner struct {
	store        Store
	manager      *fsm.Manager
	start        fsm.Start[appfsm.RunRequest, appfsm.RunResponse]
	metrics      *metrics.Metrics
	reporter     Reporter
	reportPrefix string

	// base outlives request contexts so async runs keep going after the
	// triggering request returns.
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	outcomes map[string]error
}

// NewRunner creates the FSM manager and registers the ingestion workflow.
func NewRunner(ctx context.Context, opts Options) (*Runner, error) {
	if opts.Pipeline == nil || opts.Store == nil {
		return nil, errors.Configuration("new runner", "pipeline and store are required")
	}

	manager, err := fsm.New(fsm.Config{DBPath: opts.FSMDBPath})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Runner{
		store:        opts.Store,
		manager:      manager,
		metrics:      opts.Metrics,
		reporter:     opts.Reporter,
		reportPrefix: opts.ReportPrefix,
		base:         base,
		cancel:       cancel,
		outcomes:     make(map[string]error),
	}

	machine := appfsm.NewMachine(opts.Pipeline, opts.Store, r)
	start, _, err := machine.Register(ctx, manager)
	if err != nil {
		cancel()
		manager.Shutdown(10 * time.Second)
		return nil, err
	}
	r.start = start

	return r, nil
}

// Submit creates a pending run and executes it in the background.
func (r *Runner) Submit(ctx context.Context, source string) (*db.Run, error) {
	run, err := r.create(ctx, source)
	if err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.execute(r.base, run); err != nil {
			slog.Error("run_failed", "run_id", run.ID, "source", source, "error", err)
		}
	}()

	return run, nil
}

// RunSync executes a run to completion and returns its final record.
func (r *Runner) RunSync(ctx context.Context, source string) (*db.Run, error) {
	run, err := r.create(ctx, source)
	if err != nil {
		return nil, err
	}

	runErr := r.execute(ctx, run)

	final, err := r.store.GetRun(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return nil, err
	}
	if final == nil {
		return nil, errors.NotFound("run sync", "run not found: id=%s", run.ID)
	}
	return final, runErr
}

// Shutdown waits for in-flight runs and stops the FSM manager.
func (r *Runner) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("runner_shutdown_timeout", "timeout", timeout)
		r.cancel()
	}

	r.manager.Shutdown(timeout)
	r.cancel()
}

func (r *Runner) create(ctx context.Context, source string) (*db.Run, error) {
	run := &db.Run{
		ID:     uuid.NewString(),
		Source: source,
		Status: db.StatusPending,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, errors.Wrap(err, "create run")
	}
	slog.Info("run_created", "run_id", run.ID, "source", source)
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *db.Run) error {
	defer r.forget(run.ID)

	req := &appfsm.RunRequest{RunID: run.ID, Source: run.Source}
	resp := &appfsm.RunResponse{}

	version, err := r.start(ctx, run.ID, fsm.NewRequest(req, resp))
	if err != nil {
		err = errors.Wrap(err, "FSM start failed")
		r.Finish(ctx, run.ID, nil, err)
		return err
	}

	slog.Info("fsm_started", "run_id", run.ID, "version", version)

	if err := r.manager.Wait(ctx, version); err != nil {
		err = errors.Wrap(err, "FSM execution failed")
		// No-op when a state handler already recorded the failure.
		r.Finish(ctx, run.ID, nil, err)
		return err
	}

	ok, runErr := r.outcome(run.ID)
	if !ok {
		err := errors.New("run ended without an outcome")
		r.Finish(ctx, run.ID, nil, err)
		return err
	}
	return runErr
}

func (r *Runner) outcome(runID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	err, ok := r.outcomes[runID]
	return ok, err
}

func (r *Runner) forget(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.outcomes, runID)
}

// Finish records the outcome of a run exactly once: run row, metrics and
// report. It implements fsm.Finisher.
func (r *Runner) Finish(ctx context.Context, runID string, result *ingest.Result, runErr error) {
	r.mu.Lock()
	if _, done := r.outcomes[runID]; done {
		r.mu.Unlock()
		return
	}
	r.outcomes[runID] = runErr
	r.mu.Unlock()

	// The outcome must be written even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	run, err := r.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		slog.Error("run_finish_lookup_failed", "run_id", runID, "error", err)
		return
	}

	run.Status = db.StatusSucceeded
	if runErr != nil {
		run.Status = db.StatusFailed
		run.ErrorMessage = runErr.Error()
	}
	if result != nil {
		run.RecordsAdded = result.RecordsAdded
		run.LabelsAdded = result.LabelsAdded
		run.Skipped = result.Skipped
		run.Violations = len(result.Violations)
	}

	if err := r.store.FinishRun(ctx, run); err != nil {
		slog.Error("run_finish_failed", "run_id", runID, "error", err)
	}

	duration := time.Duration(0)
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt)
	}
	r.metrics.ObserveRun(run.Status, duration, run.RecordsAdded, run.LabelsAdded, run.Skipped, run.Violations)

	slog.Info("run_finished", "run_id", runID, "status", run.Status,
		"records_added", run.RecordsAdded, "labels_added", run.LabelsAdded,
		"skipped", run.Skipped, "violations", run.Violations, "duration", duration)

	r.upload(ctx, run, result)
}

func (r *Runner) upload(ctx context.Context, run *db.Run, result *ingest.Result) {
	if r.reporter == nil {
		return
	}

	report := Report{
		RunID:     run.ID,
		Source:    run.Source,
		Status:    run.Status,
		Error:     run.ErrorMessage,
		StartedAt: run.StartedAt,
		Result:    result,
	}
	if run.FinishedAt != nil {
		report.FinishedAt = *run.FinishedAt
	}

	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		slog.Error("run_report_encode_failed", "run_id", run.ID, "error", err)
		return
	}

	// A failed upload never changes the run outcome.
	if _, err := r.reporter.Upload(ctx, ReportKey(r.reportPrefix, run.ID), "application/json", body); err != nil {
		slog.Warn("run_report_upload_failed", "run_id", run.ID, "error", err)
	}
}

// ReportKey is the object key of a run report.
func ReportKey(prefix, runID string) string {
	return prefix + runID + ".json"
}
