package fsm

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/catvault/catvault/pkg/catalog"
	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superfly/fsm"
)

type stubFetcher struct {
	items []catalog.RawItem
	err   error
}

func (f stubFetcher) Fetch(ctx context.Context, limit int, filter catalog.Filter) ([]catalog.RawItem, error) {
	return f.items, f.err
}

type finishCall struct {
	runID  string
	result *ingest.Result
	err    error
}

type recordingFinisher struct {
	calls []finishCall
}

func (f *recordingFinisher) Finish(ctx context.Context, runID string, result *ingest.Result, runErr error) {
	f.calls = append(f.calls, finishCall{runID: runID, result: result, err: runErr})
}

func setup(t *testing.T, fetcher ingest.Fetcher) (*Machine, *db.Repository, *recordingFinisher) {
	t.Helper()

	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "catvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	require.NoError(t, repo.CreateRun(context.Background(), &db.Run{ID: "run-1", Source: "test"}))

	finisher := &recordingFinisher{}
	return NewMachine(ingest.NewPipeline(fetcher, repo, 10), repo, finisher), repo, finisher
}

func temperament(s string) *string { return &s }

func TestStates_HappyPath(t *testing.T) {
	ctx := context.Background()
	machine, repo, finisher := setup(t, stubFetcher{items: []catalog.RawItem{
		{ExternalID: "cat1", URL: "https://x/1.jpg", Width: 600, Height: 400, Temperament: temperament("Playful, Calm")},
		{ExternalID: "cat2", URL: "not a url", Width: 600, Height: 400},
	}})

	resp := &RunResponse{}
	req := fsm.NewRequest(&RunRequest{RunID: "run-1", Source: "test"}, resp)

	_, err := machine.handleFetch(ctx, req)
	require.NoError(t, err)
	assert.Len(t, resp.Items, 2)

	run, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, db.StatusRunning, run.Status)

	_, err = machine.handleStage(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Staged)
	assert.Nil(t, resp.Items)
	assert.Len(t, resp.Staged.Batch.Records, 1)
	assert.Len(t, resp.Staged.Violations, 1)

	_, err = machine.handlePersist(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.RecordsAdded)
	assert.Equal(t, 2, resp.Result.LabelsAdded)

	_, err = machine.handleComplete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSucceeded, resp.Status)

	require.Len(t, finisher.calls, 1)
	assert.Equal(t, "run-1", finisher.calls[0].runID)
	assert.NoError(t, finisher.calls[0].err)
	assert.Equal(t, 1, finisher.calls[0].result.RecordsAdded)
}

func TestStates_FetchFailureAborts(t *testing.T) {
	ctx := context.Background()
	fetchErr := errors.E(errors.KindNetwork, "catalog fetch", errors.New("connection refused"))
	machine, _, finisher := setup(t, stubFetcher{err: fetchErr})

	resp := &RunResponse{}
	req := fsm.NewRequest(&RunRequest{RunID: "run-1", Source: "test"}, resp)

	_, err := machine.handleFetch(ctx, req)
	require.Error(t, err)

	assert.Equal(t, db.StatusFailed, resp.Status)
	assert.Contains(t, resp.ErrorMessage, "connection refused")

	require.Len(t, finisher.calls, 1)
	assert.Nil(t, finisher.calls[0].result)
	assert.True(t, errors.Is(finisher.calls[0].err, errors.ErrNetwork))
}

func TestStates_UnknownRunAborts(t *testing.T) {
	ctx := context.Background()
	machine, _, finisher := setup(t, stubFetcher{})

	req := fsm.NewRequest(&RunRequest{RunID: "missing", Source: "test"}, &RunResponse{})

	_, err := machine.handleFetch(ctx, req)
	require.Error(t, err)
	require.Len(t, finisher.calls, 1)
	assert.True(t, errors.Is(finisher.calls[0].err, errors.ErrNotFound))
}

func TestStates_PersistWithoutStageAborts(t *testing.T) {
	ctx := context.Background()
	machine, _, finisher := setup(t, stubFetcher{})

	req := fsm.NewRequest(&RunRequest{RunID: "run-1"}, &RunResponse{})

	_, err := machine.handlePersist(ctx, req)
	require.Error(t, err)
	require.Len(t, finisher.calls, 1)
	assert.Error(t, finisher.calls[0].err)
}

func TestStates_EmptyFetchSucceeds(t *testing.T) {
	ctx := context.Background()
	machine, _, finisher := setup(t, stubFetcher{})

	resp := &RunResponse{}
	req := fsm.NewRequest(&RunRequest{RunID: "run-1"}, resp)

	for _, h := range []func(context.Context, *fsm.Request[RunRequest, RunResponse]) (*fsm.Response[RunResponse], error){
		machine.handleFetch, machine.handleStage, machine.handlePersist, machine.handleComplete,
	} {
		_, err := h(ctx, req)
		require.NoError(t, err)
	}

	require.Len(t, finisher.calls, 1)
	assert.Equal(t, 0, finisher.calls[0].result.RecordsAdded)
	assert.Equal(t, db.StatusSucceeded, resp.Status)
}
