// Package merge implements the MergeWorker (C5): warps/clips/resamples
// one band of one scene onto one tile and writes a merge artifact (§4.3).
package merge

import (
	"encoding/json"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/models"
)

// Payload is the activity-specific data a MERGE activity carries (§4.3
// Input): target tile geometry/pixel extent, target CRS and resolution,
// source scene asset URL, source band, fill value and resampling kind.
// AcquiredAt and CloudCover are carried through so BlendWorker can apply
// the STK tie-break rule (§4.5) without re-resolving STAC.
type Payload struct {
	SceneID         string            `json:"scene_id"`
	AcquiredAt      time.Time         `json:"acquired_at"`
	CloudCover      float64           `json:"cloud_cover"`
	SourceHref      string            `json:"source_href"`
	SourceBandIndex int               `json:"source_band_index"`
	TileCRS         string            `json:"tile_crs"`
	Bounds          [4]float64        `json:"bounds"`
	PixelWidth      int               `json:"pixel_width"`
	PixelHeight     int               `json:"pixel_height"`
	Fill            float64           `json:"fill"`
	DataType        string            `json:"data_type"`
	Resampling      models.Resampling `json:"resampling"`
	QualityHref     string            `json:"quality_href,omitempty"` // paired quality band href; Worker.Process does not read it
}

func (p Payload) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
