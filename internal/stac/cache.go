package stac

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("scenes")

// cacheEntry is what's persisted per key: the scene list plus the time it
// was written, so expired entries can be skipped without a separate index.
type cacheEntry struct {
	Scenes    []Scene   `json:"scenes"`
	WrittenAt time.Time `json:"written_at"`
}

// Cache is a bbolt-backed response cache for STAC searches, keyed by
// (collection, tile geometry, t0, t1), grounded on the teacher's
// cmd/crisk-check-server bbolt usage.
type Cache struct {
	db  *bolt.DB
	ttl time.Duration
}

// OpenCache opens (creating if needed) a bbolt database at path.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open stac cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init stac cache bucket: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func cacheKey(collection, tileGeom string, t0, t1 time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%s", collection, tileGeom, t0.Format(time.RFC3339), t1.Format(time.RFC3339)))
}

// Get returns a cached scene list, if present and not expired.
func (c *Cache) Get(collection, tileGeom string, t0, t1 time.Time) ([]Scene, bool) {
	var entry cacheEntry
	found := false
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(cacheKey(collection, tileGeom, t0, t1))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found || time.Since(entry.WrittenAt) > c.ttl {
		return nil, false
	}
	return entry.Scenes, true
}

// Put stores scenes for the given key, overwriting any prior entry.
func (c *Cache) Put(collection, tileGeom string, t0, t1 time.Time, scenes []Scene) {
	entry := cacheEntry{Scenes: scenes, WrittenAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(cacheKey(collection, tileGeom, t0, t1), data)
	})
}
