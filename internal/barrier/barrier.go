// Package barrier implements the BarrierCoordinator (C8): detects stage
// completion and advances the pipeline from MERGE to BLEND to PUBLISH
// (§4.4). Every activity transition to a terminal state (DONE or ERROR)
// triggers a re-count; the per-(tile, period, stage) "advanced" flag (§5)
// guards against double-enqueue when two sibling activities complete
// concurrently.
package barrier

import (
	"context"
	"fmt"

	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
)

// reasonNoMerges is the ERROR message attached to downstream activities
// when every MERGE for a (tile, period) errored (§4.4, §8 S6).
const reasonNoMerges = "no merges"

// Coordinator is the BarrierCoordinator (C8).
type Coordinator struct {
	store ledgerstore.Store
}

func New(store ledgerstore.Store) *Coordinator {
	return &Coordinator{store: store}
}

// OnTerminal must be called after every activity transition to DONE or
// ERROR (§4.4 Trigger). It checks whether the activity's stage has fully
// completed for its (tile, period) and, if so, advances to the next
// stage exactly once.
func (c *Coordinator) OnTerminal(ctx context.Context, a *models.Activity) error {
	switch a.Action {
	case models.ActionMerge:
		return c.onMergeTerminal(ctx, a)
	case models.ActionBlend:
		return c.onBlendTerminal(ctx, a)
	default:
		return nil // PUBLISH has no downstream stage
	}
}

func (c *Coordinator) onMergeTerminal(ctx context.Context, a *models.Activity) error {
	done, errored, total, err := c.store.CountActivities(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionMerge)
	if err != nil {
		return fmt.Errorf("barrier: count merge activities: %w", err)
	}
	if total == 0 || done+errored < total {
		return nil // stage not yet complete
	}

	advanced, err := c.store.AdvanceStage(ctx, a.DatacubeID, a.TileID, a.Period, ledgerstore.StageMergeToBlend)
	if err != nil {
		return fmt.Errorf("barrier: advance merge->blend: %w", err)
	}
	if !advanced {
		return nil // another completion already advanced this (tile, period)
	}

	if done == 0 {
		return c.failDownstream(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionBlend, reasonNoMerges)
	}
	return c.unblockStage(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionBlend)
}

func (c *Coordinator) onBlendTerminal(ctx context.Context, a *models.Activity) error {
	done, errored, total, err := c.store.CountActivities(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionBlend)
	if err != nil {
		return fmt.Errorf("barrier: count blend activities: %w", err)
	}
	if total == 0 || done+errored < total {
		return nil
	}

	advanced, err := c.store.AdvanceStage(ctx, a.DatacubeID, a.TileID, a.Period, ledgerstore.StageBlendToPublish)
	if err != nil {
		return fmt.Errorf("barrier: advance blend->publish: %w", err)
	}
	if !advanced {
		return nil
	}

	if done == 0 {
		return c.failDownstream(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionPublish, reasonNoMerges)
	}
	return c.unblockStage(ctx, a.DatacubeID, a.TileID, a.Period, models.ActionPublish)
}

// unblockStage is a no-op: the downstream stage's activities are already
// registered NOTDONE by the Orchestrator (§4.1 "Blend/publish skeletons")
// and ClaimActivities itself checks the stage_advances row AdvanceStage
// just wrote, so the rows become claimable the moment that insert commits.
// Kept as a named step so a future push-based lane has a single seam to
// add a real enqueue call.
func (c *Coordinator) unblockStage(ctx context.Context, datacubeID, tile, period string, stage models.Action) error {
	return nil
}

// failDownstream marks every skeleton activity of the given stage for
// (tile, period) as ERROR with reason, per §4.4 "If all MERGE errored,
// mark downstream BLEND/PUBLISH as ERROR". BLEND has one skeleton per
// band; PUBLISH has exactly one, so this covers both with a single list
// query rather than guessing a band-qualified activity id.
func (c *Coordinator) failDownstream(ctx context.Context, datacubeID, tile, period string, stage models.Action, reason string) error {
	activities, err := c.store.ListActivities(ctx, datacubeID, tile, period, stage)
	if err != nil {
		return fmt.Errorf("barrier: list downstream %s activities: %w", stage, err)
	}
	for _, act := range activities {
		if act.Status != models.StatusNotDone {
			continue
		}
		if err := c.store.FailActivity(ctx, act.ActivityID, models.StatusNotDone, reason); err != nil && err != ledgerstore.ErrStatusMismatch {
			return fmt.Errorf("barrier: fail downstream activity %s: %w", act.ActivityID, err)
		}
	}
	return nil
}
