package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *ledgerstore.SQLiteStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store, err := ledgerstore.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewServer(nil, store, logger), store
}

func TestHandleStartRejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStartRejectsInvalidStartDate(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"datacube":"mycube_10","start_date":"not-a-date"}`
	req := httptest.NewRequest(http.MethodPost, "/start", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "invalid start_date")
}

func TestHandleStatusRequiresDatacubeParam(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStatusReportsUnfinishedWhileActivitiesOutstanding(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.CreateActivities(context.Background(), []*models.Activity{{
		ActivityID: "act-1", Action: models.ActionMerge, DatacubeID: "mycube_10",
		TileID: "003003", Band: "red", Period: "2019-01", Status: models.StatusNotDone,
	}}))

	req := httptest.NewRequest(http.MethodGet, "/status?datacube=mycube_10", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"finished":false`)
}

func TestHandleStatusReportsFinishedOnceAllActivitiesTerminal(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.CreateActivities(ctx, []*models.Activity{{
		ActivityID: "act-1", Action: models.ActionMerge, DatacubeID: "mycube_10",
		TileID: "003003", Band: "red", Period: "2019-01", Status: models.StatusNotDone,
	}}))
	claimed, err := store.ClaimActivities(ctx, "mycube_10", models.ActionMerge, 10)
	require.NoError(t, err)
	require.NoError(t, store.CompleteActivity(ctx, claimed[0].ActivityID, models.StatusDoing))

	req := httptest.NewRequest(http.MethodGet, "/status?datacube=mycube_10", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"finished":true`)
}
