// Package queue implements the WorkQueue (C2): fan-out dispatch of
// activities to workers across two lanes (§2, §5). The batch lane claims
// NOTDONE activities directly from the ActivityLedger with a bounded
// in-flight budget; the stream lane pushes/pops StreamMessage values
// through a Redis list, grounded on the teacher's
// internal/cache/redis_client.go wrapper. The Orchestrator pushes only
// {action, datacube_id} wake-ups, and cube-build-worker treats every
// popped message as a wake-up to claim that pair from the batch lane; a
// "solo" message's Batch is not processed.
package queue

import (
	"context"

	"github.com/brazildatacube/cubebuilder/internal/ledgerstore"
	"github.com/brazildatacube/cubebuilder/internal/models"
)

// BatchLane pulls activities directly from the ledger at its own rate; the
// Orchestrator may emit activities faster than this drains them, but they
// simply sit as NOTDONE rows (§5 Backpressure — no in-memory buffering of
// activity payloads is required).
type BatchLane struct {
	store  ledgerstore.Store
	budget int // bounded in-flight claims per poll
}

func NewBatchLane(store ledgerstore.Store, budget int) *BatchLane {
	if budget <= 0 {
		budget = 256
	}
	return &BatchLane{store: store, budget: budget}
}

// Claim pulls up to the lane's budget of NOTDONE activities of the given
// action for one datacube, transitioning them to DOING.
func (b *BatchLane) Claim(ctx context.Context, datacubeID string, action models.Action) ([]*models.Activity, error) {
	return b.store.ClaimActivities(ctx, datacubeID, action, b.budget)
}
