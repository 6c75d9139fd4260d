package stac

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "stac.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheGetMissReturnsFalse(t *testing.T) {
	c := newTestCache(t, time.Hour)
	_, ok := c.Get("mycube_10", "POLYGON(...)", time.Now(), time.Now())
	require.False(t, ok)
}

func TestCachePutThenGetRoundTrips(t *testing.T) {
	c := newTestCache(t, time.Hour)
	t0, t1 := time.Now().Add(-time.Hour), time.Now()
	scenes := []Scene{{SceneID: "scene-1", CloudCover: 5}}

	c.Put("mycube_10", "POLYGON(...)", t0, t1, scenes)
	got, ok := c.Get("mycube_10", "POLYGON(...)", t0, t1)
	require.True(t, ok)
	require.Equal(t, scenes, got)
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	c := newTestCache(t, 1*time.Millisecond)
	t0, t1 := time.Now().Add(-time.Hour), time.Now()
	c.Put("mycube_10", "POLYGON(...)", t0, t1, []Scene{{SceneID: "scene-1"}})

	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("mycube_10", "POLYGON(...)", t0, t1)
	require.False(t, ok)
}

func TestCacheKeyDistinguishesCollections(t *testing.T) {
	c := newTestCache(t, time.Hour)
	t0, t1 := time.Now().Add(-time.Hour), time.Now()
	c.Put("cubeA", "POLYGON(...)", t0, t1, []Scene{{SceneID: "scene-1"}})

	_, ok := c.Get("cubeB", "POLYGON(...)", t0, t1)
	require.False(t, ok)
}
