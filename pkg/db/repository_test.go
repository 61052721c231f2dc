package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/catvault/catvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(filepath.Join(t.TempDir(), "catvault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func record(externalID string, labelIDs ...int64) BatchRecord {
	return BatchRecord{
		ExternalID: externalID,
		Width:      600,
		Height:     400,
		ImageURL:   "https://cdn2.thecatapi.com/images/" + externalID + ".jpg",
		CreatedAt:  time.Now().UTC(),
		LabelIDs:   labelIDs,
	}
}

func label(name, key string) BatchLabel {
	return BatchLabel{Name: name, NameKey: key, CreatedAt: time.Now().UTC()}
}

func TestRepository_CommitBatchAndQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	res, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("cat123", -1, -2), record("cat456", -2)},
		Labels:  []BatchLabel{label("Playful", "playful"), label("Friendly", "friendly")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.RecordsAdded)
	assert.Equal(t, 2, res.LabelsAdded)

	total, images, err := repo.QueryImages(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, images, 2)
	assert.Equal(t, "cat123", images[0].ExternalID)
	assert.Equal(t, []string{"Playful", "Friendly"}, images[0].Labels)
	assert.Equal(t, []string{"Friendly"}, images[1].Labels)

	total, images, err = repo.QueryImages(ctx, "playful", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, images, 1)
	assert.Equal(t, "cat123", images[0].ExternalID)
}

func TestRepository_CommitBatch_AbsorbsConflicts(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("cat123", -1)},
		Labels:  []BatchLabel{label("Calm", "calm")},
	})
	require.NoError(t, err)

	// A concurrent run staged the same image and label before seeing ours.
	res, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("cat123", -1), record("cat789", -1)},
		Labels:  []BatchLabel{label("CALM", "calm")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RecordsAdded)
	assert.Equal(t, 0, res.LabelsAdded)

	labels, err := repo.Labels(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, "Calm", labels[0].Name)

	total, images, err := repo.QueryImages(ctx, "calm", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, []string{"Calm"}, images[1].Labels)
}

func TestRepository_CommitBatch_SkipsLabelsOfAbsorbedRecords(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CommitBatch(ctx, &Batch{Records: []BatchRecord{record("cat123")}})
	require.NoError(t, err)

	res, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("cat123", -1)},
		Labels:  []BatchLabel{label("Shy", "shy")},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.RecordsAdded)
	assert.Equal(t, 0, res.LabelsAdded)

	labels, err := repo.Labels(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)

	total, _, err := repo.QueryImages(ctx, "shy", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestRepository_CommitBatch_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	bad := record("bad")
	bad.Width = 0

	_, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("good", -1), bad},
		Labels:  []BatchLabel{label("Active", "active")},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))

	ids, err := repo.ExternalIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	labels, err := repo.Labels(ctx)
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestRepository_CommitBatch_Empty(t *testing.T) {
	repo := newTestRepository(t)

	res, err := repo.CommitBatch(context.Background(), &Batch{})
	require.NoError(t, err)
	assert.Equal(t, &CommitResult{}, res)
}

func TestRepository_QueryImages_Pagination(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("a"), record("b"), record("c")},
	})
	require.NoError(t, err)

	total, images, err := repo.QueryImages(ctx, "", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, images, 1)
	assert.Equal(t, "b", images[0].ExternalID)

	total, images, err = repo.QueryImages(ctx, "", 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, images)
}

func TestRepository_GetImage(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.CommitBatch(ctx, &Batch{
		Records: []BatchRecord{record("cat123", -1)},
		Labels:  []BatchLabel{label("Curious", "curious")},
	})
	require.NoError(t, err)

	_, images, err := repo.QueryImages(ctx, "", 0, 1)
	require.NoError(t, err)
	require.Len(t, images, 1)

	img, err := repo.GetImage(ctx, images[0].ID)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "cat123", img.ExternalID)
	assert.Equal(t, []string{"Curious"}, img.Labels)
	assert.False(t, img.CreatedAt.IsZero())

	missing, err := repo.GetImage(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_Runs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	run := &Run{ID: "run-1", Source: "cli"}
	require.NoError(t, repo.CreateRun(ctx, run))
	require.NoError(t, repo.UpdateRunStatus(ctx, "run-1", StatusRunning, ""))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)

	run.Status = StatusSucceeded
	run.RecordsAdded = 3
	run.LabelsAdded = 2
	run.Violations = 1
	require.NoError(t, repo.FinishRun(ctx, run))

	got, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.Equal(t, 3, got.RecordsAdded)
	assert.Equal(t, 1, got.Violations)
	require.NotNil(t, got.FinishedAt)

	runs, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	missing, err := repo.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.UpdateRunStatus(ctx, "nope", StatusFailed, "x")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRepository_FailStaleRuns(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.CreateRun(ctx, &Run{ID: "pending", Source: "api"}))
	require.NoError(t, repo.CreateRun(ctx, &Run{ID: "running", Source: "api"}))
	require.NoError(t, repo.UpdateRunStatus(ctx, "running", StatusRunning, ""))
	done := &Run{ID: "done", Source: "cli"}
	require.NoError(t, repo.CreateRun(ctx, done))
	done.Status = StatusSucceeded
	require.NoError(t, repo.FinishRun(ctx, done))

	n, err := repo.FailStaleRuns(ctx, "interrupted")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetRun(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "interrupted", got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)

	got, err = repo.GetRun(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
}
