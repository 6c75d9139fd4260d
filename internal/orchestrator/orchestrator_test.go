package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/blend"
	"github.com/brazildatacube/cubebuilder/internal/catalog"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/stac"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testCatalogYAML = `
collections:
  mycube_10:
    is_cube: true
    grs_schema_id: grid-a
    raster_size_schema_id: size-a
    temporal_composition_schema_id: monthly
    composite_function_id: MED
    bands_quicklook: [red, green, blue]
    stac_url: %s
    bands:
      - {name: red, kind: reflectance, data_type: int16, fill: -9999, common_name: red}
      - {name: nir, kind: reflectance, data_type: int16, fill: -9999, common_name: nir}
      - {name: CLEAROB, kind: quality, data_type: uint8}
tiles:
  grid-a:
    - id: "003003"
      geom_wgs84: "{}"
      pixel_width: 512
      pixel_height: 512
      crs: "EPSG:4326"
      bounds_projected: [0, 0, 100, 100]
schemas:
  monthly:
    kind: M
    step: 0
`

func newTestOrchestrator(t *testing.T, stacURL string) (*Orchestrator, *ledgerstore.SQLiteStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	store, err := ledgerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	catalogPath := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(fmt.Sprintf(testCatalogYAML, stacURL)), 0o644))
	cat, err := catalog.Load(catalogPath)
	require.NoError(t, err)

	resolver := stac.New(http.DefaultClient, 1000, nil)
	return New(store, cat, resolver, logger), store
}

func stacSceneServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"features": []map[string]any{
				{
					"id": "scene-1",
					"properties": map[string]any{
						"datetime": time.Date(2019, 1, 15, 0, 0, 0, 0, time.UTC).Format(time.RFC3339),
					},
					"assets": map[string]any{
						"red":     map[string]string{"href": "https://example.test/scene-1/red.tif"},
						"nir":     map[string]string{"href": "https://example.test/scene-1/nir.tif"},
						"CLEAROB": map[string]string{"href": "https://example.test/scene-1/clearob.tif"},
					},
				},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPlanRegistersMergeActivitiesAndDownstreamSkeletons(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, store := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID:  "mycube_10",
		TileIDs:     []string{"003003"},
		Collections: []string{"landsat8"},
		StartDate:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	result, err := orc.Plan(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, result.Periods)
	// One scene, 3 merge-eligible bands (red, nir, CLEAROB).
	require.Equal(t, 3, result.MergeCreated)
	require.Equal(t, 5, result.BlendCreated) // red + nir + CLEAROB + TOTALOB + PROVENANCE
	require.Equal(t, 1, result.PublishCreated)
	require.Empty(t, result.Warnings)

	merges, err := store.ListActivities(ctx, "mycube_10", "003003", "2019-01-01_2019-02-01", models.ActionMerge)
	require.NoError(t, err)
	require.Len(t, merges, 3)
	for _, m := range merges {
		require.Equal(t, models.StatusNotDone, m.Status)
	}
}

func TestPlanRegistersProvenanceSkeletonWithFirstReflectanceBandAsSource(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, store := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID:  "mycube_10",
		TileIDs:     []string{"003003"},
		Collections: []string{"landsat8"},
		StartDate:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := orc.Plan(ctx, req)
	require.NoError(t, err)

	blends, err := store.ListActivities(ctx, "mycube_10", "003003", "2019-01-01_2019-02-01", models.ActionBlend)
	require.NoError(t, err)

	var provenance *models.Activity
	for _, a := range blends {
		if a.Band == models.BandProvenance {
			provenance = a
		}
	}
	require.NotNil(t, provenance, "MED collections must still register a PROVENANCE skeleton")

	payload, err := blend.UnmarshalPayload(provenance.Payload)
	require.NoError(t, err)
	require.Equal(t, "red", payload.ProvenanceBand)
	require.Equal(t, -9999.0, payload.Fill)
}

func TestPlanBlendSkeletonsAreGatedUntilMergeAdvances(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, store := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID:  "mycube_10",
		TileIDs:     []string{"003003"},
		Collections: []string{"landsat8"},
		StartDate:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := orc.Plan(ctx, req)
	require.NoError(t, err)

	claimed, err := store.ClaimActivities(ctx, "mycube_10", models.ActionBlend, 10)
	require.NoError(t, err)
	require.Empty(t, claimed, "blend skeletons must not be claimable before merge->blend advances")
}

func TestPlanRejectsEndBeforeStart(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, _ := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID: "mycube_10",
		TileIDs:    []string{"003003"},
		StartDate:  time.Date(2019, 2, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := orc.Plan(ctx, req)
	require.Error(t, err)
}

func TestPlanRejectsUnknownTile(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, _ := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID:  "mycube_10",
		TileIDs:     []string{"999999"},
		Collections: []string{"landsat8"},
		StartDate:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := orc.Plan(ctx, req)
	require.Error(t, err)
}

func TestPlanIsIdempotentOnRepeatedCalls(t *testing.T) {
	ctx := context.Background()
	stacSrv := stacSceneServer(t)
	orc, store := newTestOrchestrator(t, stacSrv.URL)

	req := BuildRequest{
		DatacubeID:  "mycube_10",
		TileIDs:     []string{"003003"},
		Collections: []string{"landsat8"},
		StartDate:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2019, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := orc.Plan(ctx, req)
	require.NoError(t, err)
	_, err = orc.Plan(ctx, req)
	require.NoError(t, err)

	merges, err := store.ListActivities(ctx, "mycube_10", "003003", "2019-01-01_2019-02-01", models.ActionMerge)
	require.NoError(t, err)
	require.Len(t, merges, 3, "re-submission with the same key must not duplicate activities")
}
