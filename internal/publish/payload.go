// Package publish implements the PublishWorker (C7): derives spectral
// indices from already-written composite bands, renders a quicklook PNG,
// and registers the collection item (§4.6).
package publish

import (
	"encoding/json"
	"time"
)

// IndexSpec defines one normalized-difference index derived from two
// already-published composite bands (§4.6 "e.g. NDVI = (NIR-RED)/(NIR+RED)").
// Other normalized-difference indices (NDWI, NDBI, ...) share this same
// shape, so one spec type covers the family.
type IndexSpec struct {
	Name  string `json:"name"`
	BandA string `json:"band_a"` // e.g. NIR
	BandB string `json:"band_b"` // e.g. RED
	Scale float64 `json:"scale"` // e.g. 10000, to render the [-1,1] ratio as int16
}

// Payload is the activity-specific data a PUBLISH activity carries.
type Payload struct {
	CollectionID   string      `json:"collection_id"`
	RequiredBands  []string    `json:"required_bands"` // every BLEND output band (reflectance bands plus CLEAROB/TOTALOB/PROVENANCE); publish fails if any is missing
	QuicklookBands [3]string   `json:"quicklook_bands"`
	Indices        []IndexSpec `json:"indices"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
	TileCRS        string      `json:"tile_crs"`
	Bounds         [4]float64  `json:"bounds"`
	PixelWidth     int         `json:"pixel_width"`
	PixelHeight    int         `json:"pixel_height"`
}

func (p Payload) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
