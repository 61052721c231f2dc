package labels

import (
	"context"
	"strings"
	"testing"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	labels []db.Label
	err    error
	calls  int
}

func (f *fakeLoader) Labels(ctx context.Context) ([]db.Label, error) {
	f.calls++
	return f.labels, f.err
}

func TestResolve_CaseInsensitive(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(&fakeLoader{})

	first, err := reg.Resolve(ctx, "Calm")
	require.NoError(t, err)
	for _, name := range []string{"calm", "CALM", "  Calm  "} {
		ref, err := reg.Resolve(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, first, ref, name)
	}

	staged := reg.Staged()
	require.Len(t, staged, 1)
	assert.Equal(t, "Calm", staged[0].Name)
	assert.Equal(t, "calm", staged[0].NameKey)
	assert.True(t, first.Staged())
	assert.Equal(t, int64(-1), first.ID)
}

func TestResolve_SeedsOnceFromStore(t *testing.T) {
	ctx := context.Background()
	loader := &fakeLoader{labels: []db.Label{{ID: 7, Name: "Playful", NameKey: "playful"}}}
	reg := NewRegistry(loader)

	ref, err := reg.Resolve(ctx, "PLAYFUL")
	require.NoError(t, err)
	assert.Equal(t, Ref{ID: 7, Name: "Playful"}, ref)

	ref, err = reg.Resolve(ctx, "Friendly")
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ref.ID)

	assert.Equal(t, 1, loader.calls)
	assert.Len(t, reg.Staged(), 1)
}

func TestResolve_RejectsBadNames(t *testing.T) {
	reg := NewRegistry(&fakeLoader{})

	for _, name := range []string{"", "   ", strings.Repeat("x", MaxNameLength+1)} {
		_, err := reg.Resolve(context.Background(), name)
		require.Error(t, err)
		assert.Equal(t, errors.KindInvalidArgument, errors.KindOf(err))
	}
	assert.Empty(t, reg.Staged())

	_, err := reg.Resolve(context.Background(), strings.Repeat("é", MaxNameLength))
	assert.NoError(t, err)
}

func TestResolve_SeedFailure(t *testing.T) {
	reg := NewRegistry(&fakeLoader{err: errors.E(errors.KindPersistence, "load labels", errors.New("disk"))})

	_, err := reg.Resolve(context.Background(), "Calm")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrPersistence))
}
