package orchestrator

import (
	"time"

	"github.com/brazildatacube/cubebuilder/internal/models"
)

// BuildContext is the explicit value threaded through period expansion,
// MERGE planning and BLEND/PUBLISH skeleton registration for one build
// request (§9: rearchitects the source's global `self.score`
// cross-invocation dictionary as a value passed by pointer, never stored
// on a long-lived receiver).
type BuildContext struct {
	Request    BuildRequest
	Collection *models.Collection
	Bands      []models.Band
	Periods    []models.Period
}

// BuildRequest is the §6 POST /start payload.
type BuildRequest struct {
	DatacubeID  string
	TileIDs     []string
	Collections []string
	Satellite   string
	StartDate   time.Time
	EndDate     time.Time
	Force       bool
}

// reflectanceAndObservationBands returns the bands a BLEND skeleton must
// cover for one (tile, period): every reflectance band plus the
// observation bands and PROVENANCE (§4.1 "Blend/publish skeletons").
// Plan rejects IDENTITY cubes before this is called, so
// compositeFunction is always a real composite (MED or STK) with a
// well-defined provenance scene per §4.5.
func reflectanceAndObservationBands(bands []models.Band, compositeFunction string) []string {
	names := make([]string, 0, len(bands)+3)
	for _, b := range bands {
		if b.Kind == models.BandReflectance {
			names = append(names, b.Name)
		}
	}
	names = append(names, models.BandClearOb, models.BandTotalOb, models.BandProvenance)
	return names
}
