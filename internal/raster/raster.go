// Package raster wraps airbusgeo/godal for the warp/clip/resample and COG
// write operations MergeWorker and BlendWorker need (§4.3, §4.5). godal is
// the only GDAL-style raster binding found anywhere in the retrieved
// corpus (the jcom-dev-zmanim elevation importer in other_examples/); this
// package generalizes that importer's godal.Open/GeoTransform/Bands/
// Structure usage from point sampling to full-window warp and COG write.
package raster

import (
	"fmt"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/models"
)

// gdalMu serializes all GDAL calls: GDAL/libtiff keep internal global
// state that is not thread-safe (mirrors the zmanim elevation importer's
// gdalMu).
var gdalMu sync.Mutex

var registerOnce sync.Once

// Init registers all GDAL drivers. Safe to call repeatedly.
func Init() {
	registerOnce.Do(godal.RegisterAll)
}

// Bounds is minx, miny, maxx, maxy in the target CRS.
type Bounds = [4]float64

// Grid describes the target raster extent a MERGE warps a source band
// onto: a tile's pixel size and bounds in its grid's projected CRS (§3
// Tile, §4.3).
type Grid struct {
	CRS         string
	Bounds      Bounds
	PixelWidth  int
	PixelHeight int
}

// Open opens a source raster by URL (local path or /vsicurl/ remote
// address), lazily and without a full read (§4.3 step 1).
func Open(url string) (*godal.Dataset, error) {
	Init()
	gdalMu.Lock()
	defer gdalMu.Unlock()

	ds, err := godal.Open(url)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.DataError, err, "open source raster %s", url)
	}
	return ds, nil
}

func resamplingFlag(r models.Resampling) string {
	if r == models.ResamplingBilinear {
		return "bilinear"
	}
	return "near"
}

// WarpToGrid reprojects/clips/resamples one band of src onto the target
// grid, filling regions outside the source footprint with fill (§4.3
// steps 2-3). The returned in-memory dataset has exactly one band.
func WarpToGrid(src *godal.Dataset, bandIndex int, grid Grid, resampling models.Resampling, fill float64) (*godal.Dataset, error) {
	gdalMu.Lock()
	defer gdalMu.Unlock()

	switches := []string{
		"-t_srs", grid.CRS,
		"-te",
		fmt.Sprintf("%f", grid.Bounds[0]), fmt.Sprintf("%f", grid.Bounds[1]),
		fmt.Sprintf("%f", grid.Bounds[2]), fmt.Sprintf("%f", grid.Bounds[3]),
		"-ts", fmt.Sprintf("%d", grid.PixelWidth), fmt.Sprintf("%d", grid.PixelHeight),
		"-r", resamplingFlag(resampling),
		"-dstnodata", fmt.Sprintf("%f", fill),
		"-b", fmt.Sprintf("%d", bandIndex+1),
	}

	warped, err := godal.Warp("", []*godal.Dataset{src}, switches, godal.GTiff, godal.CreationOption("TILED=YES"))
	if err != nil {
		return nil, errorsx.Wrap(errorsx.DataError, err, "warp to target grid")
	}
	return warped, nil
}

// ReadFloat64 reads the full single band of ds into a row-major buffer of
// size grid.PixelWidth*grid.PixelHeight.
func ReadFloat64(ds *godal.Dataset, grid Grid) ([]float64, error) {
	gdalMu.Lock()
	defer gdalMu.Unlock()

	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, errorsx.New(errorsx.DataError, "warped dataset has no bands")
	}
	buf := make([]float64, grid.PixelWidth*grid.PixelHeight)
	if err := bands[0].Read(0, 0, buf, grid.PixelWidth, grid.PixelHeight); err != nil {
		return nil, errorsx.Wrap(errorsx.DataError, err, "read warped band")
	}
	return buf, nil
}

// WriteCOG writes a single-band float64 raster to destPath as a tiled,
// deflate-compressed cloud-optimized GeoTIFF with overviews (§4.5 Output).
func WriteCOG(destPath string, grid Grid, data []float64, dataType string) error {
	gdalMu.Lock()
	defer gdalMu.Unlock()

	dtype := godalDataType(dataType)
	mem, err := godal.Create(godal.Memory, "", 1, dtype, grid.PixelWidth, grid.PixelHeight)
	if err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "create in-memory raster")
	}
	defer mem.Close()

	if err := mem.SetProjection(grid.CRS); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "set projection")
	}
	pixelW := (grid.Bounds[2] - grid.Bounds[0]) / float64(grid.PixelWidth)
	pixelH := (grid.Bounds[1] - grid.Bounds[3]) / float64(grid.PixelHeight)
	if err := mem.SetGeoTransform([6]float64{grid.Bounds[0], pixelW, 0, grid.Bounds[3], 0, pixelH}); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "set geotransform")
	}

	bands := mem.Bands()
	if err := bands[0].Write(0, 0, data, grid.PixelWidth, grid.PixelHeight); err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "write raster data")
	}

	cog, err := mem.Translate(destPath, []string{"-of", "COG"},
		godal.CreationOption("COMPRESS=DEFLATE"),
		godal.CreationOption("TILED=YES"),
		godal.CreationOption("OVERVIEWS=AUTO"),
	)
	if err != nil {
		return errorsx.Wrap(errorsx.Fatal, err, "write COG %s", destPath)
	}
	return cog.Close()
}

func godalDataType(name string) godal.DataType {
	switch name {
	case "uint8":
		return godal.Byte
	case "uint16":
		return godal.UInt16
	case "int16":
		return godal.Int16
	case "float32":
		return godal.Float32
	default:
		return godal.Float64
	}
}
