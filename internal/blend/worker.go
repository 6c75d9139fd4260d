package blend

import (
	"context"
	"os"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/merge"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/objectstore"
	"github.com/brazildatacube/cubebuilder/internal/raster"
	"github.com/sirupsen/logrus"
)

// Deadline is the §5 per-operation deadline for a blend: 240s.
const Deadline = 240 * time.Second

// clearThreshold is the quality-band value below which a pixel is
// considered clear (0 = clear, nonzero = cloud/shadow/saturated, the
// common fmask-style convention this pipeline's source collections use).
const clearThreshold = 0.5

// Result reports auxiliary metadata about a composite to the caller; it
// is not persisted with the composite.
type Result struct {
	ContributingScenes int
}

// Worker is the BlendWorker (C6).
type Worker struct {
	store   ledgerstore.Store
	objects objectstore.Store
	logger  *logrus.Logger
}

func NewWorker(store ledgerstore.Store, objects objectstore.Store, logger *logrus.Logger) *Worker {
	return &Worker{store: store, objects: objects, logger: logger}
}

// Process runs the composite algorithm of §4.5 for one BLEND activity:
// gather every DONE MERGE for its (tile, period, band), combine them with
// the cube's composite function, and write the result.
func (w *Worker) Process(ctx context.Context, a *models.Activity) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	payload, err := UnmarshalPayload(a.Payload)
	if err != nil {
		return Result{}, errorsx.Wrap(errorsx.Fatal, err, "unmarshal blend payload")
	}

	switch a.Band {
	case models.BandClearOb, models.BandTotalOb, models.BandProvenance:
		return w.processDerivedBand(ctx, a, payload)
	default:
		return w.processCompositeBand(ctx, a, payload)
	}
}

// processCompositeBand handles a reflectance or quality band: read every
// contributing merge, combine via MED/STK, write the composite.
func (w *Worker) processCompositeBand(ctx context.Context, a *models.Activity, payload Payload) (Result, error) {
	grid := raster.Grid{CRS: payload.TileCRS, Bounds: payload.Bounds, PixelWidth: payload.PixelWidth, PixelHeight: payload.PixelHeight}
	n := payload.PixelWidth * payload.PixelHeight

	observations, err := w.gatherObservations(ctx, a.DatacubeID, a.TileID, a.Period, a.Band, payload.QualityBand, n)
	if err != nil {
		return Result{}, err
	}

	var composite []float64
	switch payload.Function {
	case "STK":
		composite, _ = STK(observations, n, payload.Fill)
	default: // MED and IDENTITY's single-scene case both reduce to the median
		composite = MED(observations, n, payload.Fill)
	}

	if err := w.writeComposite(ctx, a, payload, grid, composite); err != nil {
		return Result{}, err
	}
	return Result{ContributingScenes: len(observations)}, nil
}

// processDerivedBand handles CLEAROB, TOTALOB and PROVENANCE (§3
// GLOSSARY, §4.5). CLEAROB/TOTALOB come from the collection's
// quality-band merges alone; PROVENANCE needs the actual pixel values of
// payload.ProvenanceBand to pick the winning scene per §4.5, with
// clearness still read from the quality band.
func (w *Worker) processDerivedBand(ctx context.Context, a *models.Activity, payload Payload) (Result, error) {
	grid := raster.Grid{CRS: payload.TileCRS, Bounds: payload.Bounds, PixelWidth: payload.PixelWidth, PixelHeight: payload.PixelHeight}
	n := payload.PixelWidth * payload.PixelHeight

	if payload.QualityBand == "" {
		return Result{}, errorsx.New(errorsx.DataError, "collection has no quality band to derive %s from", a.Band)
	}

	var out []float64
	var contributing int
	switch a.Band {
	case models.BandClearOb, models.BandTotalOb:
		merges, err := w.doneMerges(ctx, a.DatacubeID, a.TileID, a.Period, payload.QualityBand)
		if err != nil {
			return Result{}, err
		}
		if len(merges) == 0 {
			return Result{}, errorsx.New(errorsx.DataError, "no quality merges for %s/%s", a.DatacubeID, a.TileID)
		}
		observations := make([]Observation, 0, len(merges))
		for _, m := range merges {
			clear, err := w.readClearMask(a.DatacubeID, a.TileID, a.Period, m.payload.SceneID, payload.QualityBand, n)
			if err != nil {
				return Result{}, err
			}
			observations = append(observations, Observation{SceneID: m.payload.SceneID, AcquiredAt: m.payload.AcquiredAt, Clear: clear})
		}
		clearOb, totalOb := ClearTotalObs(observations, n)
		if a.Band == models.BandClearOb {
			out = clearOb
		} else {
			out = totalOb
		}
		contributing = len(observations)
	case models.BandProvenance:
		if payload.ProvenanceBand == "" {
			return Result{}, errorsx.New(errorsx.DataError, "collection has no reflectance band to derive PROVENANCE from")
		}
		observations, err := w.gatherObservations(ctx, a.DatacubeID, a.TileID, a.Period, payload.ProvenanceBand, payload.QualityBand, n)
		if err != nil {
			return Result{}, err
		}
		var provenance []int
		switch payload.Function {
		case "STK":
			_, provenance = STK(observations, n, payload.Fill)
		default: // MED
			provenance = MEDProvenance(observations, n, payload.Fill)
		}
		out = ProvenanceBand(provenance)
		contributing = len(observations)
	}

	if err := w.writeComposite(ctx, a, payload, grid, out); err != nil {
		return Result{}, err
	}
	return Result{ContributingScenes: contributing}, nil
}

// gatherObservations reads every DONE merge of band for (cube, tile,
// period), pairing each scene's pixel values with its clear mask from
// qualityBand (if the collection declares one).
func (w *Worker) gatherObservations(ctx context.Context, cube, tile, period, band, qualityBand string, n int) ([]Observation, error) {
	merges, err := w.doneMerges(ctx, cube, tile, period, band)
	if err != nil {
		return nil, err
	}
	if len(merges) == 0 {
		return nil, errorsx.New(errorsx.DataError, "no merge artifacts for %s/%s/%s", cube, tile, band)
	}

	observations := make([]Observation, 0, len(merges))
	for _, m := range merges {
		data, err := w.readMergeArtifact(cube, tile, period, m.payload.SceneID, band, n)
		if err != nil {
			return nil, err
		}
		var clear []bool
		if qualityBand != "" {
			clear, err = w.readClearMask(cube, tile, period, m.payload.SceneID, qualityBand, n)
			if err != nil {
				return nil, err
			}
		}
		observations = append(observations, Observation{
			SceneID:    m.payload.SceneID,
			AcquiredAt: m.payload.AcquiredAt,
			Data:       data,
			Clear:      clear,
		})
	}
	return observations, nil
}

type doneMerge struct {
	payload merge.Payload
}

func (w *Worker) doneMerges(ctx context.Context, cube, tile, period, band string) ([]doneMerge, error) {
	activities, err := w.store.ListActivities(ctx, cube, tile, period, models.ActionMerge)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "list merge activities")
	}
	var out []doneMerge
	for _, act := range activities {
		if act.Band != band || act.Status != models.StatusDone {
			continue
		}
		p, err := merge.UnmarshalPayload(act.Payload)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.Fatal, err, "unmarshal merge payload for %s", act.ActivityID)
		}
		out = append(out, doneMerge{payload: p})
	}
	return out, nil
}

func (w *Worker) readMergeArtifact(cube, tile, period, scene, band string, n int) ([]float64, error) {
	key := objectstore.MergeKey(cube, tile, period, scene, band)
	return w.readRasterAt(key, n)
}

func (w *Worker) readClearMask(cube, tile, period, scene, qualityBand string, n int) ([]bool, error) {
	data, err := w.readMergeArtifact(cube, tile, period, scene, qualityBand, n)
	if err != nil {
		return nil, err
	}
	clear := make([]bool, n)
	for i, v := range data {
		clear[i] = v < clearThreshold
	}
	return clear, nil
}

func (w *Worker) readRasterAt(key string, n int) ([]float64, error) {
	url := w.objects.URL(key)
	ds, err := raster.Open(url)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errorsx.New(errorsx.DataError, "merge artifact %s has no bands", key)
	}
	buf := make([]float64, n)
	width, height := ds.Structure().SizeX, ds.Structure().SizeY
	if err := bands[0].Read(0, 0, buf, width, height); err != nil {
		return nil, errorsx.Wrap(errorsx.DataError, err, "read merge artifact %s", key)
	}
	return buf, nil
}

func (w *Worker) writeComposite(ctx context.Context, a *models.Activity, payload Payload, grid raster.Grid, data []float64) error {
	tmp, err := os.CreateTemp("", "blend-*.tif")
	if err != nil {
		return errorsx.Wrap(errorsx.Transient, err, "create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := raster.WriteCOG(tmpPath, grid, data, payload.DataType); err != nil {
		return err
	}

	key := objectstore.CompositeKey(a.DatacubeID, a.TileID, a.Period, a.Band)
	f, err := os.Open(tmpPath)
	if err != nil {
		return errorsx.Wrap(errorsx.Transient, err, "reopen composite artifact")
	}
	defer f.Close()

	if err := w.objects.Put(ctx, key, f); err != nil {
		return errorsx.Wrap(errorsx.Transient, err, "write composite artifact")
	}

	ref := models.CompositeRef{Cube: a.DatacubeID, Tile: a.TileID, Band: a.Band, Period: a.Period, Function: payload.Function, Path: key}
	if err := w.store.SaveComposite(ctx, ref); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "save composite reference")
	}
	return nil
}
