// Package stagerun holds the terminal-transition logic shared by
// MergeWorker, BlendWorker and PublishWorker (§4.3 Failure, §7
// Propagation): on success, complete the activity and notify the
// BarrierCoordinator; on failure, retry Transient errors up to
// max_retries with the ledger's retry counter before demoting to ERROR,
// and fail DataError/Fatal errors immediately without retry.
package stagerun

import (
	"context"
	"fmt"

	"github.com/brazildatacube/cubebuilder/internal/barrier"
	"github.com/brazildatacube/cubebuilder/internal/errorsx"
	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
)

// Finish applies the outcome of processing one claimed (DOING) activity:
// workErr is the error Process returned, or nil on success.
func Finish(ctx context.Context, store ledgerstore.Store, coord *barrier.Coordinator, activity *models.Activity, workErr error, maxRetries int) error {
	if workErr == nil {
		if err := store.CompleteActivity(ctx, activity.ActivityID, models.StatusDoing); err != nil {
			if err == ledgerstore.ErrStatusMismatch {
				return nil // build was cancelled or activity already finalized elsewhere
			}
			return fmt.Errorf("stagerun: complete activity %s: %w", activity.ActivityID, err)
		}
		activity.Status = models.StatusDone
		return notifyBarrier(ctx, coord, activity)
	}

	if errorsx.TypeOf(workErr) == errorsx.Transient {
		retries, err := store.RetryActivity(ctx, activity.ActivityID, models.StatusDoing)
		if err == nil {
			if retries <= maxRetries {
				return nil // re-enqueued as NOTDONE; WorkQueue will reclaim it
			}
			// exhausted retries: RetryActivity already moved the row to
			// NOTDONE, so the terminal fail must expect that status, not
			// the DOING it held when Process started.
			return failTerminal(ctx, store, coord, activity, models.StatusNotDone, workErr)
		}
		if err != ledgerstore.ErrStatusMismatch {
			return fmt.Errorf("stagerun: retry activity %s: %w", activity.ActivityID, err)
		}
		return nil // status changed under us (cancellation); nothing more to do
	}

	return failTerminal(ctx, store, coord, activity, models.StatusDoing, workErr)
}

func failTerminal(ctx context.Context, store ledgerstore.Store, coord *barrier.Coordinator, activity *models.Activity, expected models.Status, workErr error) error {
	if err := store.FailActivity(ctx, activity.ActivityID, expected, workErr.Error()); err != nil {
		if err == ledgerstore.ErrStatusMismatch {
			return nil
		}
		return fmt.Errorf("stagerun: fail activity %s: %w", activity.ActivityID, err)
	}
	activity.Status = models.StatusError
	activity.ErrorMsg = workErr.Error()
	return notifyBarrier(ctx, coord, activity)
}

func notifyBarrier(ctx context.Context, coord *barrier.Coordinator, activity *models.Activity) error {
	if coord == nil {
		return nil
	}
	if err := coord.OnTerminal(ctx, activity); err != nil {
		return fmt.Errorf("stagerun: barrier on %s: %w", activity.ActivityID, err)
	}
	return nil
}
