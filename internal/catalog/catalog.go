// Package catalog implements a file-backed Catalog for the Orchestrator
// (§1 "Out of scope": grid generation, raster-size derivation and
// timeline enumeration are pure utilities; this package stubs them
// behind the schema types the Orchestrator reads, loaded from a single
// YAML document via gopkg.in/yaml.v3, the teacher's config serialization
// format (internal/config).
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/period"
	"gopkg.in/yaml.v3"
)

// FileCatalog is a Catalog backed by a static YAML document: the grid
// schemas, raster-size schemas and temporal composition schemas spec.md
// marks out of scope, supplied here as fixed input data rather than
// derived.
type FileCatalog struct {
	Collections map[string]collectionDoc    `yaml:"collections"`
	Tiles       map[string][]tileDoc        `yaml:"tiles"` // keyed by grs_schema_id
	Schemas     map[string]schemaDoc        `yaml:"schemas"`
}

type collectionDoc struct {
	IsCube                    bool           `yaml:"is_cube"`
	GRSSchemaID               string         `yaml:"grs_schema_id"`
	RasterSizeSchemaID        string         `yaml:"raster_size_schema_id"`
	TemporalCompositionSchema string         `yaml:"temporal_composition_schema_id"`
	CompositeFunctionID       string         `yaml:"composite_function_id"`
	BandsQuicklook            [3]string      `yaml:"bands_quicklook"`
	License                   string         `yaml:"license"`
	Description               string        `yaml:"description"`
	STACURL                   string         `yaml:"stac_url"`
	Bands                     []bandDoc      `yaml:"bands"`
}

type bandDoc struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"` // reflectance | quality | index | observation
	DataType    string  `yaml:"data_type"`
	Min         float64 `yaml:"min"`
	Max         float64 `yaml:"max"`
	Fill        float64 `yaml:"fill"`
	Scale       float64 `yaml:"scale"`
	ResolutionX float64 `yaml:"resolution_x"`
	ResolutionY float64 `yaml:"resolution_y"`
	CommonName  string  `yaml:"common_name"`
	Resampling  string  `yaml:"resampling"` // nearest | bilinear
}

type tileDoc struct {
	ID              string     `yaml:"id"`
	GeomWGS84       string     `yaml:"geom_wgs84"`
	GeomProjected   string     `yaml:"geom_projected"`
	PixelWidth      int        `yaml:"pixel_width"`
	PixelHeight     int        `yaml:"pixel_height"`
	ResolutionX     float64    `yaml:"resolution_x"`
	ResolutionY     float64    `yaml:"resolution_y"`
	CRS             string     `yaml:"crs"`
	BoundsProjected [4]float64 `yaml:"bounds_projected"`
}

type schemaDoc struct {
	Kind string `yaml:"kind"` // M | cyclic
	Step int    `yaml:"step"`
}

// Load reads a FileCatalog from path.
func Load(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "read catalog file %s", path)
	}
	var c FileCatalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "parse catalog file %s", path)
	}
	return &c, nil
}

func (c *FileCatalog) GetCollection(ctx context.Context, collectionID string) (*models.Collection, error) {
	doc, ok := c.Collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("collection %s not found in catalog", collectionID)
	}
	return &models.Collection{
		ID:                        collectionID,
		IsCube:                    doc.IsCube,
		GRSSchemaID:               doc.GRSSchemaID,
		RasterSizeSchemaID:        doc.RasterSizeSchemaID,
		TemporalCompositionSchema: doc.TemporalCompositionSchema,
		CompositeFunctionID:       doc.CompositeFunctionID,
		BandsQuicklook:            doc.BandsQuicklook,
		License:                   doc.License,
		Description:               doc.Description,
		STACURL:                   doc.STACURL,
	}, nil
}

func (c *FileCatalog) GetBands(ctx context.Context, collectionID string) ([]models.Band, error) {
	doc, ok := c.Collections[collectionID]
	if !ok {
		return nil, fmt.Errorf("collection %s not found in catalog", collectionID)
	}
	bands := make([]models.Band, 0, len(doc.Bands))
	for _, b := range doc.Bands {
		bands = append(bands, models.Band{
			Name:         b.Name,
			CollectionID: collectionID,
			Kind:         bandKind(b.Kind),
			DataType:     b.DataType,
			Min:          b.Min,
			Max:          b.Max,
			Fill:         b.Fill,
			Scale:        b.Scale,
			ResolutionX:  b.ResolutionX,
			ResolutionY:  b.ResolutionY,
			CommonName:   b.CommonName,
			Resampling:   resamplingKind(b.Resampling),
		})
	}
	return bands, nil
}

func (c *FileCatalog) GetTile(ctx context.Context, grsSchemaID, tileID string) (*models.Tile, error) {
	for _, t := range c.Tiles[grsSchemaID] {
		if t.ID == tileID {
			return &models.Tile{
				ID:              t.ID,
				GRSSchemaID:     grsSchemaID,
				GeomWGS84:       t.GeomWGS84,
				GeomProjected:   t.GeomProjected,
				PixelWidth:      t.PixelWidth,
				PixelHeight:     t.PixelHeight,
				ResolutionX:     t.ResolutionX,
				ResolutionY:     t.ResolutionY,
				CRS:             t.CRS,
				BoundsProjected: t.BoundsProjected,
			}, nil
		}
	}
	return nil, fmt.Errorf("tile %s not found in grid %s", tileID, grsSchemaID)
}

func (c *FileCatalog) GetTemporalSchema(ctx context.Context, schemaID string) (period.Schema, error) {
	doc, ok := c.Schemas[schemaID]
	if !ok {
		return period.Schema{}, fmt.Errorf("temporal schema %s not found in catalog", schemaID)
	}
	kind := period.SchemaCyclic
	if doc.Kind == "M" {
		kind = period.SchemaMonthly
	}
	return period.Schema{Kind: kind, Step: doc.Step}, nil
}

func bandKind(s string) models.BandKind {
	switch s {
	case "quality":
		return models.BandQuality
	case "index":
		return models.BandIndex
	case "observation":
		return models.BandObservation
	default:
		return models.BandReflectance
	}
}

func resamplingKind(s string) models.Resampling {
	if s == "bilinear" {
		return models.ResamplingBilinear
	}
	return models.ResamplingNearest
}
