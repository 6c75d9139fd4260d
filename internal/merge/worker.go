package merge

import (
	"context"
	"os"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/objectstore"
	"github.com/brazildatacube/cubebuilder/internal/raster"
	"github.com/sirupsen/logrus"
)

// Deadline is the §5 per-operation deadline for a merge: 90s.
const Deadline = 90 * time.Second

// Result reports the merge's efficacy to the caller (§4.3 step 5). It is
// not persisted with the merge artifact, and no cloud-mask histogram is
// computed.
type Result struct {
	Efficacy float64 // fraction of non-fill pixels
}

// Worker is the MergeWorker (C5).
type Worker struct {
	objects  objectstore.Store
	datasets *raster.DatasetCache
	logger   *logrus.Logger
}

func NewWorker(objects objectstore.Store, datasets *raster.DatasetCache, logger *logrus.Logger) *Worker {
	return &Worker{objects: objects, datasets: datasets, logger: logger}
}

// Process runs the merge algorithm of §4.3 for one activity: open the
// source raster, warp/clip/resample onto the tile grid, write the merge
// artifact, and report efficacy.
func (w *Worker) Process(ctx context.Context, a *models.Activity) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	payload, err := UnmarshalPayload(a.Payload)
	if err != nil {
		return Result{}, errorsx.Wrap(errorsx.Fatal, err, "unmarshal merge payload")
	}

	src, err := w.datasets.Open(payload.SourceHref)
	if err != nil {
		return Result{}, classifyOpenErr(err)
	}

	grid := raster.Grid{
		CRS:         payload.TileCRS,
		Bounds:      payload.Bounds,
		PixelWidth:  payload.PixelWidth,
		PixelHeight: payload.PixelHeight,
	}

	warped, err := raster.WarpToGrid(src, payload.SourceBandIndex, grid, payload.Resampling, payload.Fill)
	if err != nil {
		return Result{}, err // already a *errorsx.Error (DataError) from raster package
	}
	defer warped.Close()

	data, err := raster.ReadFloat64(warped, grid)
	if err != nil {
		return Result{}, err
	}

	efficacy := fractionNonFill(data, payload.Fill)

	tmp, err := os.CreateTemp("", "merge-*.tif")
	if err != nil {
		return Result{}, errorsx.Wrap(errorsx.Transient, err, "create temp file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := raster.WriteCOG(tmpPath, grid, data, payload.DataType); err != nil {
		return Result{}, err
	}

	key := objectstore.MergeKey(a.DatacubeID, a.TileID, a.Period, payload.SceneID, a.Band)
	f, err := os.Open(tmpPath)
	if err != nil {
		return Result{}, errorsx.Wrap(errorsx.Transient, err, "reopen merge artifact")
	}
	defer f.Close()

	if err := w.objects.Put(ctx, key, f); err != nil {
		return Result{}, errorsx.Wrap(errorsx.Transient, err, "write merge artifact")
	}

	return Result{Efficacy: efficacy}, nil
}

func fractionNonFill(data []float64, fill float64) float64 {
	if len(data) == 0 {
		return 0
	}
	nonFill := 0
	for _, v := range data {
		if v != fill {
			nonFill++
		}
	}
	return float64(nonFill) / float64(len(data))
}

func classifyOpenErr(err error) error {
	if e, ok := errorsx.As(err); ok {
		return e
	}
	return errorsx.Wrap(errorsx.Transient, err, "open source raster")
}
