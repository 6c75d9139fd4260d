package stagerun

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/brazildatacube/cubebuilder/internal/barrier"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ledgerstore.SQLiteStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store, err := ledgerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func claimedMerge(t *testing.T, store *ledgerstore.SQLiteStore, id string) *models.Activity {
	t.Helper()
	ctx := context.Background()
	act := &models.Activity{
		ActivityID: id, Action: models.ActionMerge, DatacubeID: "mycube_10",
		TileID: "003003", Band: "red", Period: "2019-01", Status: models.StatusNotDone,
	}
	require.NoError(t, store.CreateActivities(ctx, []*models.Activity{act}))
	claimed, err := store.ClaimActivities(ctx, "mycube_10", models.ActionMerge, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestFinishCompletesOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coord := barrier.New(store)
	act := claimedMerge(t, store, "act-1")

	require.NoError(t, Finish(ctx, store, coord, act, nil, 3))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusDone, got.Status)
}

func TestFinishRetriesTransientUpToMaxRetries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coord := barrier.New(store)
	act := claimedMerge(t, store, "act-1")

	workErr := errorsx.New(errorsx.Transient, "scene fetch timed out")
	require.NoError(t, Finish(ctx, store, coord, act, workErr, 2))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusNotDone, got.Status)
	require.Equal(t, 1, got.Retries)
}

// TestFinishDemotesToErrorOnceRetriesExhausted exercises the exhausted-
// retries path: once retries exceed maxRetries, the activity must land
// in ERROR, not get stuck at NOTDONE forever.
func TestFinishDemotesToErrorOnceRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coord := barrier.New(store)
	act := claimedMerge(t, store, "act-1")
	workErr := errorsx.New(errorsx.Transient, "scene fetch timed out")

	require.NoError(t, Finish(ctx, store, coord, act, workErr, 0))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
	require.Contains(t, got.ErrorMsg, "scene fetch timed out")
}

func TestFinishFailsNonTransientImmediatelyWithoutRetry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coord := barrier.New(store)
	act := claimedMerge(t, store, "act-1")

	workErr := errorsx.New(errorsx.DataError, "unreadable raster")
	require.NoError(t, Finish(ctx, store, coord, act, workErr, 5))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
	require.Equal(t, 0, got.Retries)
}

func TestFinishTreatsPlainErrorsAsFatalNonRetryable(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	coord := barrier.New(store)
	act := claimedMerge(t, store, "act-1")

	require.NoError(t, Finish(ctx, store, coord, act, errors.New("nil pointer somewhere"), 5))

	got, err := store.GetActivity(ctx, "act-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusError, got.Status)
}

func TestFinishToleratesNilCoordinator(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	act := claimedMerge(t, store, "act-1")
	require.NoError(t, Finish(ctx, store, nil, act, nil, 3))
}
