// Package orchestrator implements the Orchestrator (C4): expands a build
// request into per-period, per-tile, per-band MERGE activities and the
// downstream BLEND/PUBLISH skeletons (§4.1). STAC resolution for a period
// fans out per collection with golang.org/x/sync/errgroup, matching the
// teacher's storeRawData concurrent fan-out shape
// (internal/ingestion/orchestrator.go); tiles, periods and bands are
// walked sequentially.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/brazildatacube/cubebuilder/internal/blend"
	"github.com/brazildatacube/cubebuilder/internal/cubeid"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/merge"
	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/brazildatacube/cubebuilder/internal/period"
	"github.com/brazildatacube/cubebuilder/internal/publish"
	"github.com/brazildatacube/cubebuilder/internal/queue"
	"github.com/brazildatacube/cubebuilder/internal/stac"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Orchestrator is C4.
type Orchestrator struct {
	store    ledgerstore.Store
	catalog  Catalog
	resolver *stac.Resolver
	logger   *logrus.Logger
	notifier *queue.StreamLane // optional: low-latency wake-up for the stream lane (§2 C2)
}

func New(store ledgerstore.Store, catalog Catalog, resolver *stac.Resolver, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{store: store, catalog: catalog, resolver: resolver, logger: logger}
}

// WithNotifier attaches a stream lane the Orchestrator pushes wake-up
// messages to right after registering a batch of activities, so the
// worker fleet doesn't wait out the batch lane's poll interval. The
// batch lane, backed by the ledger's conditional claim, remains the
// source of truth; a dropped or delayed notification only costs latency.
func (o *Orchestrator) WithNotifier(notifier *queue.StreamLane) *Orchestrator {
	o.notifier = notifier
	return o
}

// notify pushes a stream-lane wake-up for (datacubeID, action): the
// message carries no payload of its own (the ledger is the source of
// truth for what's claimable), it just lets the worker fleet claim the
// freshly registered batch immediately instead of on its next poll tick.
func (o *Orchestrator) notify(ctx context.Context, datacubeID string, action models.Action) {
	if o.notifier == nil {
		return
	}
	msg := queue.StreamMessage{Action: string(action), DatacubeID: datacubeID}
	_ = o.notifier.Push(ctx, msg) // best-effort: batch lane polling is the fallback path
}

// PlanResult summarizes what a Plan call registered, for the §6 201
// response and logging.
type PlanResult struct {
	Periods        int
	MergeCreated   int
	BlendCreated   int
	PublishCreated int
	Warnings       []string // e.g. NoScenesInWindow per period (warn-level, not fatal)
}

// Plan validates req and registers every MERGE activity plus the
// BLEND/PUBLISH skeletons it implies (§4.1).
func (o *Orchestrator) Plan(ctx context.Context, req BuildRequest) (*PlanResult, error) {
	if req.EndDate.Before(req.StartDate) {
		return nil, errorsx.ErrInvalidDateRange
	}

	collection, err := o.catalog.GetCollection(ctx, req.DatacubeID)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.NotFound, err, "load cube %s", req.DatacubeID).WithContext("cube", req.DatacubeID)
	}
	if collection.IsIdentity() {
		return nil, errorsx.ErrCubeNotFound.WithContext("reason", "cube is the IDENTITY (irregular) cube; builds target composite cubes")
	}

	bands, err := o.catalog.GetBands(ctx, req.DatacubeID)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "load bands for %s", req.DatacubeID)
	}

	schema, err := o.catalog.GetTemporalSchema(ctx, collection.TemporalCompositionSchema)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Fatal, err, "load temporal schema")
	}
	periods, err := period.Decode(schema, req.StartDate, req.EndDate)
	if err != nil {
		return nil, errorsx.Wrap(errorsx.Validation, err, "decode periods")
	}

	bc := &BuildContext{Request: req, Collection: collection, Bands: bands, Periods: periods}

	result := &PlanResult{Periods: len(periods)}
	for _, tileID := range req.TileIDs {
		tile, err := o.catalog.GetTile(ctx, collection.GRSSchemaID, tileID)
		if err != nil {
			return nil, errorsx.Wrap(errorsx.Validation, err, "tile %s not in cube's grid", tileID).WithContext("tile", tileID)
		}
		if err := o.planTile(ctx, bc, tile, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (o *Orchestrator) planTile(ctx context.Context, bc *BuildContext, tile *models.Tile, result *PlanResult) error {
	blendBandNames := reflectanceAndObservationBands(bc.Bands, bc.Collection.CompositeFunctionID)

	for _, p := range bc.Periods {
		label := p.Label()

		if bc.Request.Force {
			if err := o.invalidateForce(ctx, bc.Request.DatacubeID, tile.ID, label); err != nil {
				return err
			}
		}

		sceneCount, err := o.planMergesForPeriod(ctx, bc, tile, p, result)
		if err != nil {
			return err
		}
		if sceneCount == 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%s: %s", errorsx.ErrNoScenesInWindow.Error(), label))
			continue
		}

		if err := o.registerBlendSkeletons(ctx, bc, tile, label, blendBandNames, result); err != nil {
			return err
		}
		if err := o.registerPublishSkeleton(ctx, bc, tile, p, result); err != nil {
			return err
		}
	}
	return nil
}

// planMergesForPeriod resolves scenes for every requested collection in
// the period window and creates one MERGE activity per (scene, non-derived
// band). Fan-out per collection uses errgroup (§4.1, teacher
// storeRawData shape); activity creation itself is a single batched
// ledger write per collection to keep the conditional-insert path simple.
func (o *Orchestrator) planMergesForPeriod(ctx context.Context, bc *BuildContext, tile *models.Tile, p models.Period, result *PlanResult) (int, error) {
	type collectionScenes struct {
		scenes []stac.Scene
	}
	perCollection := make([]collectionScenes, len(bc.Request.Collections))

	g, gctx := errgroup.WithContext(ctx)
	for i, coll := range bc.Request.Collections {
		i, coll := i, coll
		g.Go(func() error {
			scenes, err := o.resolver.Resolve(gctx, bc.Collection.STACURL, coll, tile.GeomWGS84, p.Start, p.End)
			if err != nil {
				return fmt.Errorf("resolve scenes for collection %s: %w", coll, err)
			}
			perCollection[i] = collectionScenes{scenes: scenes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	qualityBand := firstQualityBand(bc.Bands)

	var activities []*models.Activity
	sceneCount := 0
	for _, cs := range perCollection {
		for _, scene := range cs.scenes {
			sceneCount++
			for _, band := range bc.Bands {
				if band.Kind != models.BandReflectance && band.Kind != models.BandQuality {
					continue // indices/observations are derived in BLEND/PUBLISH, not merged (§4.1, §4.6)
				}
				href, ok := scene.Assets[band.Name]
				if !ok {
					continue // collection doesn't publish this band for this scene
				}
				payload := merge.Payload{
					SceneID:         scene.SceneID,
					AcquiredAt:      scene.AcquiredAt,
					CloudCover:      scene.CloudCover,
					SourceHref:      href,
					SourceBandIndex: 0,
					TileCRS:         tile.CRS,
					Bounds:          tile.BoundsProjected,
					PixelWidth:      tile.PixelWidth,
					PixelHeight:     tile.PixelHeight,
					Fill:            band.Fill,
					DataType:        band.DataType,
					Resampling:      band.Resampling,
				}
				if band.Kind == models.BandReflectance && qualityBand != "" {
					if qhref, ok := scene.Assets[qualityBand]; ok {
						payload.QualityHref = qhref
					}
				}
				payloadBytes, err := payload.Marshal()
				if err != nil {
					return 0, fmt.Errorf("marshal merge payload: %w", err)
				}

				id := cubeid.ActivityID(bc.Request.DatacubeID, string(models.ActionMerge), tile.ID, band.Name, p.Label(), scene.SceneID)
				activities = append(activities, &models.Activity{
					ActivityID: id,
					Action:     models.ActionMerge,
					DatacubeID: bc.Request.DatacubeID,
					TileID:     tile.ID,
					Band:       band.Name,
					Period:     p.Label(),
					Payload:    payloadBytes,
					Status:     models.StatusNotDone,
				})
			}
		}
	}
	if len(activities) > 0 {
		if err := o.store.CreateActivities(ctx, activities); err != nil {
			return 0, fmt.Errorf("register merge activities: %w", err)
		}
		result.MergeCreated += len(activities)
		o.notify(ctx, bc.Request.DatacubeID, models.ActionMerge)
	}
	return sceneCount, nil
}

// firstQualityBand returns the name of the collection's quality band (e.g.
// a cloud mask), if any. Collections are expected to carry at most one.
func firstQualityBand(bands []models.Band) string {
	for _, b := range bands {
		if b.Kind == models.BandQuality {
			return b.Name
		}
	}
	return ""
}

// firstReflectanceBand returns the collection's first declared
// reflectance band, used as the value source for PROVENANCE's
// per-pixel winner selection (§4.5).
func firstReflectanceBand(bands []models.Band) (models.Band, bool) {
	for _, b := range bands {
		if b.Kind == models.BandReflectance {
			return b, true
		}
	}
	return models.Band{}, false
}

func (o *Orchestrator) registerBlendSkeletons(ctx context.Context, bc *BuildContext, tile *models.Tile, period string, bandNames []string, result *PlanResult) error {
	cube := bc.Request.DatacubeID
	qualityBand := firstQualityBand(bc.Bands)
	bandsByName := make(map[string]models.Band, len(bc.Bands))
	for _, b := range bc.Bands {
		bandsByName[b.Name] = b
	}

	activities := make([]*models.Activity, 0, len(bandNames))
	for _, bandName := range bandNames {
		band, declared := bandsByName[bandName]
		dataType := band.DataType
		if !declared {
			dataType = "float32" // CLEAROB/TOTALOB/PROVENANCE are observation counts/indices, not declared spectral bands
		}
		fill := band.Fill
		provenanceBand := ""
		if bandName == models.BandProvenance {
			// PROVENANCE has no values of its own; the winning scene is
			// determined from the cube's first reflectance band (§4.5).
			if pb, ok := firstReflectanceBand(bc.Bands); ok {
				provenanceBand = pb.Name
				fill = pb.Fill
			}
		}
		payload := blend.Payload{
			Function:       bc.Collection.CompositeFunctionID,
			TileCRS:        tile.CRS,
			Bounds:         tile.BoundsProjected,
			PixelWidth:     tile.PixelWidth,
			PixelHeight:    tile.PixelHeight,
			Fill:           fill,
			DataType:       dataType,
			Resampling:     band.Resampling,
			QualityBand:    qualityBand,
			ProvenanceBand: provenanceBand,
		}
		payloadBytes, err := payload.Marshal()
		if err != nil {
			return fmt.Errorf("marshal blend payload: %w", err)
		}

		id := cubeid.ActivityID(cube, string(models.ActionBlend), tile.ID, bandName, period, "")
		activities = append(activities, &models.Activity{
			ActivityID: id,
			Action:     models.ActionBlend,
			DatacubeID: cube,
			TileID:     tile.ID,
			Band:       bandName,
			Period:     period,
			Payload:    payloadBytes,
			Status:     models.StatusNotDone,
		})
	}
	if err := o.store.CreateActivities(ctx, activities); err != nil {
		return fmt.Errorf("register blend skeletons: %w", err)
	}
	result.BlendCreated += len(activities)
	o.notify(ctx, cube, models.ActionBlend)
	return nil
}

func (o *Orchestrator) registerPublishSkeleton(ctx context.Context, bc *BuildContext, tile *models.Tile, p models.Period, result *PlanResult) error {
	cube := bc.Request.DatacubeID
	period := p.Label()

	payload := publish.Payload{
		CollectionID:   cube,
		RequiredBands:  reflectanceAndObservationBands(bc.Bands, bc.Collection.CompositeFunctionID),
		QuicklookBands: bc.Collection.BandsQuicklook,
		Indices:        indexSpecs(bc.Bands),
		PeriodStart:    p.Start,
		PeriodEnd:      p.End,
		TileCRS:        tile.CRS,
		Bounds:         tile.BoundsProjected,
		PixelWidth:     tile.PixelWidth,
		PixelHeight:    tile.PixelHeight,
	}
	payloadBytes, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}

	id := cubeid.ActivityID(cube, string(models.ActionPublish), tile.ID, "", period, "")
	err = o.store.CreateActivities(ctx, []*models.Activity{{
		ActivityID: id,
		Action:     models.ActionPublish,
		DatacubeID: cube,
		TileID:     tile.ID,
		Period:     period,
		Payload:    payloadBytes,
		Status:     models.StatusNotDone,
	}})
	if err != nil {
		return fmt.Errorf("register publish skeleton: %w", err)
	}
	result.PublishCreated++
	o.notify(ctx, cube, models.ActionPublish)
	return nil
}

// indexSpecs declares the index bands this collection publishes (§4.6):
// any band of kind Index whose common name identifies a known
// normalized-difference formula's two inputs by their own common names
// (nir, red, ...).
func indexSpecs(bands []models.Band) []publish.IndexSpec {
	byCommonName := make(map[string]string, len(bands)) // common name -> band name
	for _, b := range bands {
		if b.CommonName != "" {
			byCommonName[b.CommonName] = b.Name
		}
	}

	var specs []publish.IndexSpec
	for _, b := range bands {
		if b.Kind != models.BandIndex {
			continue
		}
		a, b2, scale, ok := normalizedDifferenceInputs(b.CommonName)
		if !ok {
			continue
		}
		nameA, okA := byCommonName[a]
		nameB, okB := byCommonName[b2]
		if !okA || !okB {
			continue // declared index but its source bands aren't in this collection; skip rather than fail the whole publish
		}
		specs = append(specs, publish.IndexSpec{Name: b.Name, BandA: nameA, BandB: nameB, Scale: scale})
	}
	return specs
}

// normalizedDifferenceInputs maps a well-known index common name to the
// common names of its two normalized-difference inputs and its int16
// scale factor (§4.6 "NDVI = (NIR-RED)/(NIR+RED)").
func normalizedDifferenceInputs(commonName string) (a, b string, scale float64, ok bool) {
	switch commonName {
	case "ndvi":
		return "nir", "red", 10000, true
	case "ndwi":
		return "green", "nir", 10000, true
	case "ndbi":
		return "swir16", "nir", 10000, true
	default:
		return "", "", 0, false
	}
}

// invalidateForce resets activities and composites for (tile, period) so
// a `force` rebuild overwrites prior outputs (§4.1 Force semantics).
// Already-DONE activities without force are left untouched and count
// toward barriers immediately; force resets them all to NOTDONE so the
// barrier recomputes from scratch.
func (o *Orchestrator) invalidateForce(ctx context.Context, cube, tile, period string) error {
	if err := o.store.DeleteComposites(ctx, cube, tile, []string{period}); err != nil {
		return fmt.Errorf("force: delete composites: %w", err)
	}
	itemDate, _, _ := strings.Cut(period, "_") // items are keyed by the period's start date, not its label
	if err := o.store.DeleteCollectionItem(ctx, cube, tile, itemDate); err != nil {
		return fmt.Errorf("force: delete collection item: %w", err)
	}
	if err := o.store.ClearAdvanced(ctx, cube, tile, []string{period}); err != nil {
		return fmt.Errorf("force: clear advanced flags: %w", err)
	}
	return o.resetAllActivities(ctx, cube, tile, period)
}

func (o *Orchestrator) resetAllActivities(ctx context.Context, cube, tile, period string) error {
	for _, action := range []models.Action{models.ActionMerge, models.ActionBlend, models.ActionPublish} {
		activities, err := o.store.ListActivities(ctx, cube, tile, period, action)
		if err != nil {
			return fmt.Errorf("force: list %s activities: %w", action, err)
		}
		for _, a := range activities {
			if a.Status == models.StatusDone || a.Status == models.StatusError {
				if err := o.store.ResetActivity(ctx, a.ActivityID); err != nil && err != ledgerstore.ErrStatusMismatch {
					return fmt.Errorf("force: reset activity %s: %w", a.ActivityID, err)
				}
			}
		}
	}
	return nil
}
