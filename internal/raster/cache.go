package raster

import (
	"container/list"
	"sync"

	"github.com/airbusgeo/godal"
	"golang.org/x/sync/singleflight"
)

// DatasetCache is a thread-safe, bounded LRU cache of open source
// datasets, keyed by URL, so concurrent MERGE activities touching the
// same scene asset don't each pay the cost of opening it. Grounded on the
// zmanim elevation importer's LRUTileCache, generalized from point tiles
// to arbitrary source rasters, plus a singleflight guard against the
// thundering-herd open that cache alone doesn't prevent.
type DatasetCache struct {
	maxSize int
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	sf      singleflight.Group
}

type cacheEntry struct {
	key string
	ds  *godal.Dataset
}

// NewDatasetCache creates a cache holding at most maxSize open datasets.
func NewDatasetCache(maxSize int) *DatasetCache {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &DatasetCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Open returns the cached dataset for url, opening (and caching) it if
// absent. Concurrent calls for the same url block on a single open.
func (c *DatasetCache) Open(url string) (*godal.Dataset, error) {
	if ds, ok := c.get(url); ok {
		return ds, nil
	}

	result, err, _ := c.sf.Do(url, func() (interface{}, error) {
		if ds, ok := c.get(url); ok {
			return ds, nil
		}
		ds, err := Open(url)
		if err != nil {
			return nil, err
		}
		c.put(url, ds)
		return ds, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*godal.Dataset), nil
}

func (c *DatasetCache) get(key string) (*godal.Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).ds, true
	}
	return nil, false
}

func (c *DatasetCache) put(key string, ds *godal.Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).ds = ds
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		entry.ds.Close()
		delete(c.entries, entry.key)
		c.order.Remove(oldest)
	}

	elem := c.order.PushFront(&cacheEntry{key: key, ds: ds})
	c.entries[key] = elem
}

// Close closes every cached dataset.
func (c *DatasetCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, elem := range c.entries {
		elem.Value.(*cacheEntry).ds.Close()
	}
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}
