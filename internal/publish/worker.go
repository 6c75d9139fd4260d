package publish

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/objectstore"
	"github.com/brazildatacube/cubebuilder/internal/raster"
	"github.com/sirupsen/logrus"
)

// Deadline is the §5 per-operation deadline for a publish: 60s.
const Deadline = 60 * time.Second

// Worker is the PublishWorker (C7).
type Worker struct {
	store   ledgerstore.Store
	objects objectstore.Store
	logger  *logrus.Logger
}

func NewWorker(store ledgerstore.Store, objects objectstore.Store, logger *logrus.Logger) *Worker {
	return &Worker{store: store, objects: objects, logger: logger}
}

// Process runs the publish algorithm of §4.6 for one activity: derive
// indices, render the quicklook, and register the collection item. It
// fails with errorsx.DataError (not retried) when a required band or
// declared index is missing, per §3 invariant 3 / §4.4 "missing bands".
func (w *Worker) Process(ctx context.Context, a *models.Activity) error {
	ctx, cancel := context.WithTimeout(ctx, Deadline)
	defer cancel()

	payload, err := UnmarshalPayload(a.Payload)
	if err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "unmarshal publish payload")
	}

	if missing := w.missingBands(ctx, a.DatacubeID, a.TileID, a.Period, payload.RequiredBands); len(missing) > 0 {
		return errorsx.New(errorsx.DataError, "missing required bands: %v", missing)
	}

	assets := make(map[string]string, len(payload.RequiredBands)+len(payload.Indices))
	for _, band := range payload.RequiredBands {
		assets[band] = objectstore.CompositeKey(a.DatacubeID, a.TileID, a.Period, band)
	}

	n := payload.PixelWidth * payload.PixelHeight
	grid := raster.Grid{CRS: payload.TileCRS, Bounds: payload.Bounds, PixelWidth: payload.PixelWidth, PixelHeight: payload.PixelHeight}

	for _, idx := range payload.Indices {
		bandA, err := w.readComposite(a.DatacubeID, a.TileID, a.Period, idx.BandA, n)
		if err != nil {
			return err
		}
		bandB, err := w.readComposite(a.DatacubeID, a.TileID, a.Period, idx.BandB, n)
		if err != nil {
			return err
		}
		values := NormalizedDifference(bandA, bandB, idx.Scale)
		if err := w.writeIndex(ctx, a, grid, idx.Name, values); err != nil {
			return err
		}
		assets[idx.Name] = objectstore.CompositeKey(a.DatacubeID, a.TileID, a.Period, idx.Name)
	}

	quicklookKey, err := w.renderAndStoreQuicklook(ctx, a, payload, n)
	if err != nil {
		return err
	}

	item := models.CollectionItem{
		CollectionID:   payload.CollectionID,
		TileID:         a.TileID,
		ItemDate:       payload.PeriodStart,
		CompositeStart: payload.PeriodStart,
		CompositeEnd:   payload.PeriodEnd,
		QuicklookPath:  quicklookKey,
		AssetsByBand:   assets,
	}
	if err := w.store.SaveCollectionItem(ctx, item); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "save collection item")
	}
	return nil
}

func (w *Worker) missingBands(ctx context.Context, cube, tile, period string, bands []string) []string {
	var missing []string
	for _, band := range bands {
		if _, err := w.store.GetComposite(ctx, cube, tile, band, period, ""); err != nil {
			missing = append(missing, band)
		}
	}
	return missing
}

func (w *Worker) readComposite(cube, tile, period, band string, n int) ([]float64, error) {
	key := objectstore.CompositeKey(cube, tile, period, band)
	url := w.objects.URL(key)
	ds, err := raster.Open(url)
	if err != nil {
		return nil, err
	}
	defer ds.Close()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errorsx.New(errorsx.DataError, "composite %s has no bands", key)
	}
	buf := make([]float64, n)
	structure := ds.Structure()
	if err := bands[0].Read(0, 0, buf, structure.SizeX, structure.SizeY); err != nil {
		return nil, errorsx.Wrap(errorsx.DataError, err, "read composite %s", key)
	}
	return buf, nil
}

func (w *Worker) writeIndex(ctx context.Context, a *models.Activity, grid raster.Grid, name string, data []float64) error {
	tmp, err := writeTempCOG(grid, data, "int16")
	if err != nil {
		return err
	}
	defer removeTemp(tmp)

	key := objectstore.CompositeKey(a.DatacubeID, a.TileID, a.Period, name)
	if err := putFile(ctx, w.objects, key, tmp); err != nil {
		return err
	}
	ref := models.CompositeRef{Cube: a.DatacubeID, Tile: a.TileID, Band: name, Period: a.Period, Function: "INDEX", Path: key}
	if err := w.store.SaveComposite(ctx, ref); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "save index composite reference")
	}
	return nil
}

func (w *Worker) renderAndStoreQuicklook(ctx context.Context, a *models.Activity, payload Payload, n int) (string, error) {
	red, err := w.readComposite(a.DatacubeID, a.TileID, a.Period, payload.QuicklookBands[0], n)
	if err != nil {
		return "", err
	}
	green, err := w.readComposite(a.DatacubeID, a.TileID, a.Period, payload.QuicklookBands[1], n)
	if err != nil {
		return "", err
	}
	blue, err := w.readComposite(a.DatacubeID, a.TileID, a.Period, payload.QuicklookBands[2], n)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := RenderQuicklook(&buf, payload.PixelWidth, payload.PixelHeight, red, green, blue); err != nil {
		return "", errorsx.Wrap(errorsx.Fatal, err, "render quicklook")
	}

	key := objectstore.QuicklookKey(a.DatacubeID, a.TileID, a.Period)
	if err := w.objects.Put(ctx, key, &buf); err != nil {
		return "", errorsx.Wrap(errorsx.Transient, err, "write quicklook")
	}
	return key, nil
}

func writeTempCOG(grid raster.Grid, data []float64, dataType string) (string, error) {
	tmp, err := os.CreateTemp("", "publish-*.tif")
	if err != nil {
		return "", errorsx.Wrap(errorsx.Transient, err, "create temp file")
	}
	path := tmp.Name()
	tmp.Close()

	if err := raster.WriteCOG(path, grid, data, dataType); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func removeTemp(path string) {
	os.Remove(path)
}

func putFile(ctx context.Context, objects objectstore.Store, key, path string) error {
	r, err := os.Open(path)
	if err != nil {
		return errorsx.Wrap(errorsx.Transient, err, "reopen artifact")
	}
	defer r.Close()
	if err := objects.Put(ctx, key, r); err != nil {
		return errorsx.Wrap(errorsx.Transient, err, "write artifact %s", key)
	}
	return nil
}
