package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/period"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
collections:
  mycube_10:
    is_cube: true
    grs_schema_id: grid-a
    raster_size_schema_id: size-a
    temporal_composition_schema_id: monthly
    composite_function_id: MED
    bands_quicklook: [red, green, blue]
    license: CC-BY-SA
    description: test cube
    stac_url: https://example.test/stac
    bands:
      - name: red
        kind: reflectance
        data_type: int16
        min: 0
        max: 10000
        fill: -9999
        scale: 0.0001
        resolution_x: 10
        resolution_y: 10
        common_name: red
        resampling: bilinear
      - name: CLEAROB
        kind: quality
        data_type: uint8
        resampling: nearest
tiles:
  grid-a:
    - id: "003003"
      geom_wgs84: "POLYGON(...)"
      geom_projected: "POLYGON(...)"
      pixel_width: 512
      pixel_height: 512
      resolution_x: 10
      resolution_y: 10
      crs: "EPSG:4326"
      bounds_projected: [0, 0, 100, 100]
schemas:
  monthly:
    kind: M
    step: 0
  cyclic16:
    kind: cyclic
    step: 16
`

func loadFixture(t *testing.T) *FileCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o644))
	c, err := Load(path)
	require.NoError(t, err)
	return c
}

func TestGetCollectionReturnsDecodedFields(t *testing.T) {
	c := loadFixture(t)
	col, err := c.GetCollection(context.Background(), "mycube_10")
	require.NoError(t, err)
	require.True(t, col.IsCube)
	require.Equal(t, "MED", col.CompositeFunctionID)
	require.Equal(t, [3]string{"red", "green", "blue"}, col.BandsQuicklook)
}

func TestGetCollectionUnknownReturnsError(t *testing.T) {
	c := loadFixture(t)
	_, err := c.GetCollection(context.Background(), "nope")
	require.Error(t, err)
}

func TestGetBandsMapsKindAndResampling(t *testing.T) {
	c := loadFixture(t)
	bands, err := c.GetBands(context.Background(), "mycube_10")
	require.NoError(t, err)
	require.Len(t, bands, 2)
	require.Equal(t, models.BandReflectance, bands[0].Kind)
	require.Equal(t, models.ResamplingBilinear, bands[0].Resampling)
	require.Equal(t, models.BandQuality, bands[1].Kind)
	require.Equal(t, models.ResamplingNearest, bands[1].Resampling)
}

func TestGetTileFindsWithinGrid(t *testing.T) {
	c := loadFixture(t)
	tile, err := c.GetTile(context.Background(), "grid-a", "003003")
	require.NoError(t, err)
	require.Equal(t, 512, tile.PixelWidth)
	require.Equal(t, "EPSG:4326", tile.CRS)
}

func TestGetTileUnknownReturnsError(t *testing.T) {
	c := loadFixture(t)
	_, err := c.GetTile(context.Background(), "grid-a", "999999")
	require.Error(t, err)
}

func TestGetTemporalSchemaMapsMonthlyAndCyclic(t *testing.T) {
	c := loadFixture(t)

	monthly, err := c.GetTemporalSchema(context.Background(), "monthly")
	require.NoError(t, err)
	require.Equal(t, period.SchemaMonthly, monthly.Kind)

	cyclic, err := c.GetTemporalSchema(context.Background(), "cyclic16")
	require.NoError(t, err)
	require.Equal(t, period.SchemaCyclic, cyclic.Kind)
	require.Equal(t, 16, cyclic.Step)
}
