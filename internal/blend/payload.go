// Package blend implements the BlendWorker (C6): combines every DONE
// MERGE artifact for a (tile, period, band) into one composite using the
// cube's composite function (§4.5), and derives CLEAROB/TOTALOB/
// PROVENANCE from the set of contributing merges.
package blend

import (
	"encoding/json"

	"github.com/brazildatacube/cubebuilder/internal/models"
)

// Payload is the activity-specific data a BLEND activity carries: the
// target grid (shared with its sibling MERGE activities) and the cube's
// composite function, so the worker doesn't need a catalog round-trip.
type Payload struct {
	Function       string            `json:"function"` // MED, STK or IDENTITY
	TileCRS        string            `json:"tile_crs"`
	Bounds         [4]float64        `json:"bounds"`
	PixelWidth     int               `json:"pixel_width"`
	PixelHeight    int               `json:"pixel_height"`
	Fill           float64           `json:"fill"`
	DataType       string            `json:"data_type"`
	Resampling     models.Resampling `json:"resampling"`
	QualityBand    string            `json:"quality_band,omitempty"`    // name of the collection's quality band, for CLEAROB/TOTALOB/PROVENANCE
	ProvenanceBand string            `json:"provenance_band,omitempty"` // reflectance band whose values determine the PROVENANCE winner
}

func (p Payload) Marshal() ([]byte, error) { return json.Marshal(p) }

func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	err := json.Unmarshal(data, &p)
	return p, err
}
