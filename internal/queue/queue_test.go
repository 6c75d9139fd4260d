package queue

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestBatchLaneClaimRespectsBudget(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store, err := ledgerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	activities := make([]*models.Activity, 0, 5)
	for i := 0; i < 5; i++ {
		activities = append(activities, &models.Activity{
			ActivityID: "act-" + string(rune('a'+i)),
			Action:     models.ActionMerge, DatacubeID: "mycube_10", TileID: "003003",
			Band: "red", Period: "2019-01", Status: models.StatusNotDone,
		})
	}
	require.NoError(t, store.CreateActivities(ctx, activities))

	lane := NewBatchLane(store, 2)
	claimed, err := lane.Claim(ctx, "mycube_10", models.ActionMerge)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
}

func TestNewBatchLaneDefaultsBudgetWhenNonPositive(t *testing.T) {
	lane := NewBatchLane(nil, 0)
	require.Equal(t, 256, lane.budget)
	lane = NewBatchLane(nil, -5)
	require.Equal(t, 256, lane.budget)
}
