package stac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/stretchr/testify/require"
)

func stacServer(t *testing.T, status int, features []stacItem) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		if features != nil {
			json.NewEncoder(w).Encode(stacSearchResponse{Features: features})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveDedupesAndSortsByAcquiredAt(t *testing.T) {
	t0, t1 := time.Now().Add(-24*time.Hour), time.Now()
	later := stacItem{ID: "scene-1", Properties: stacItemProperties{Datetime: t1}}
	earlier := stacItem{ID: "scene-1", Properties: stacItemProperties{Datetime: t0}}
	other := stacItem{ID: "scene-2", Properties: stacItemProperties{Datetime: t0.Add(time.Hour)}}
	srv := stacServer(t, http.StatusOK, []stacItem{later, earlier, other})

	r := New(srv.Client(), 1000, nil)
	scenes, err := r.Resolve(context.Background(), srv.URL, "mycube_10", `{"type":"Polygon"}`, t0, t1)
	require.NoError(t, err)
	require.Len(t, scenes, 2) // scene-1 deduplicated

	for i := 1; i < len(scenes); i++ {
		require.False(t, scenes[i].AcquiredAt.Before(scenes[i-1].AcquiredAt))
	}
}

func TestResolveClassifies5xxAsTransient(t *testing.T) {
	srv := stacServer(t, http.StatusServiceUnavailable, nil)
	r := New(srv.Client(), 1000, nil)
	_, err := r.Resolve(context.Background(), srv.URL, "mycube_10", `{}`, time.Now(), time.Now())
	require.Error(t, err)
	require.Equal(t, errorsx.Transient, errorsx.TypeOf(err))
}

func TestResolveClassifies4xxAsDataError(t *testing.T) {
	srv := stacServer(t, http.StatusBadRequest, nil)
	r := New(srv.Client(), 1000, nil)
	_, err := r.Resolve(context.Background(), srv.URL, "mycube_10", `{}`, time.Now(), time.Now())
	require.Error(t, err)
	require.Equal(t, errorsx.DataError, errorsx.TypeOf(err))
}

func TestResolveUsesCacheOnSecondCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(stacSearchResponse{Features: []stacItem{{ID: "scene-1"}}})
	}))
	t.Cleanup(srv.Close)

	cache := newTestCache(t, time.Hour)
	r := New(srv.Client(), 1000, cache)
	t0, t1 := time.Now().Add(-time.Hour), time.Now()

	_, err := r.Resolve(context.Background(), srv.URL, "mycube_10", `{}`, t0, t1)
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), srv.URL, "mycube_10", `{}`, t0, t1)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
}
