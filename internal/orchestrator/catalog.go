package orchestrator

import (
	"context"

	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/period"
)

// Catalog is the read-only view the Orchestrator needs of the grid,
// raster-size and collection/band schemas (§1 "Out of scope": grid
// generation, raster-size derivation, the REST admin CRUD surface — all
// pure utilities/persisted metadata behind this interface, not
// reimplemented here).
type Catalog interface {
	GetCollection(ctx context.Context, collectionID string) (*models.Collection, error)
	GetBands(ctx context.Context, collectionID string) ([]models.Band, error)
	GetTile(ctx context.Context, grsSchemaID, tileID string) (*models.Tile, error)
	GetTemporalSchema(ctx context.Context, schemaID string) (period.Schema, error)
}
