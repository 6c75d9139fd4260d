package objectstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key := MergeKey("mycube_10", "003003", "2019-01", "scene-1", "red")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("raster bytes")))

	r, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "raster bytes", string(got))
}

func TestPutOverwritesExistingObject(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key := CompositeKey("mycube_10", "003003", "2019-01", "red")
	require.NoError(t, store.Put(ctx, key, strings.NewReader("first")))
	require.NoError(t, store.Put(ctx, key, strings.NewReader("second")))

	r, err := store.Get(ctx, key)
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "second", string(got))
}

func TestHeadReportsExistence(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	key := QuicklookKey("mycube_10", "003003", "2019-01")

	exists, err := store.Head(ctx, key)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.Put(ctx, key, strings.NewReader("png")))
	exists, err = store.Head(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "merges/nope/nope/nope/nope_red.tif"))
}

func TestKeyLayoutMatchesObjectStoreScheme(t *testing.T) {
	require.Equal(t, "merges/mycube_10/003003/2019-01/scene-1_red.tif", MergeKey("mycube_10", "003003", "2019-01", "scene-1", "red"))
	require.Equal(t, "cubes/mycube_10/003003/2019-01/red.tif", CompositeKey("mycube_10", "003003", "2019-01", "red"))
	require.Equal(t, "items/mycube_10/003003/2019-01/quicklook.png", QuicklookKey("mycube_10", "003003", "2019-01"))
}
