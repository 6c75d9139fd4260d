// Package objectstore is the narrow object-storage interface the build
// pipeline core depends on (§1 "Out of scope": object-storage client
// libraries). No object-storage SDK appears anywhere in the retrieved
// corpus, so this stays a minimal Put/Get/Head/Delete surface rather than
// a full client (documented as a stdlib exception in DESIGN.md), laid out
// per §6's object store key scheme.
package objectstore

import (
	"context"
	"io"
)

// Store is the object-storage interface consumed by MergeWorker,
// BlendWorker and PublishWorker (C5-C7).
type Store interface {
	// Put writes the full contents of r to key, overwriting any prior
	// object (the behavior a `force` rebuild relies on, §4.1).
	Put(ctx context.Context, key string, r io.Reader) error

	// Get opens key for reading. The caller must Close the returned
	// ReadCloser.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Head reports whether key exists without reading its contents.
	Head(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns an address the raster layer can open directly (a local
	// path for the filesystem backend; a signed/remote URL for cloud
	// backends were one ever added).
	URL(key string) string
}

// Key builders matching §6's object store layout.

// MergeKey returns "merges/<cube>/<tile>/<period>/<scene>_<band>.tif".
func MergeKey(cube, tile, period, scene, band string) string {
	return "merges/" + cube + "/" + tile + "/" + period + "/" + scene + "_" + band + ".tif"
}

// CompositeKey returns "cubes/<cube>/<tile>/<period>/<band>.tif".
func CompositeKey(cube, tile, period, band string) string {
	return "cubes/" + cube + "/" + tile + "/" + period + "/" + band + ".tif"
}

// QuicklookKey returns "items/<cube>/<tile>/<period>/quicklook.png".
func QuicklookKey(cube, tile, period string) string {
	return "items/" + cube + "/" + tile + "/" + period + "/quicklook.png"
}
