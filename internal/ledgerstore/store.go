// Package ledgerstore implements the MetadataStore the core consumes (§1
// "Out of scope": persisted schema itself), with the ActivityLedger (C1)
// as its central surface: a durable log of every unit of work with
// idempotent, conditional status transitions (§3, §5). Two backends mirror
// the teacher's dual internal/storage package: PostgresStore for
// production, SQLiteStore for local/dev and CLI dry runs.
package ledgerstore

import (
	"context"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/models"
)

// Store is the persisted interface the build pipeline core depends on. It
// combines the ActivityLedger (C1) with the narrow slice of the metadata
// store the core needs: composite artifact rows and collection items.
type Store interface {
	Close() error

	// CreateActivities inserts activities idempotently: a row with an
	// existing activity_id is left untouched (§3 "re-submission with same
	// key is idempotent").
	CreateActivities(ctx context.Context, activities []*models.Activity) error

	// ClaimActivities atomically transitions up to limit NOTDONE activities
	// of the given action to DOING and returns them (§2 C2 batch lane, §5
	// "conditional writes keyed by activity_id and an expected current
	// status").
	ClaimActivities(ctx context.Context, datacubeID string, action models.Action, limit int) ([]*models.Activity, error)

	// GetActivity fetches one activity by id.
	GetActivity(ctx context.Context, activityID string) (*models.Activity, error)

	// ListActivities returns every activity for (datacubeID, tile, period,
	// action), regardless of status. Used by the force-rebuild path to
	// find DONE/ERROR rows to reset (§4.1 Force semantics).
	ListActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) ([]*models.Activity, error)

	// CompleteActivity performs the conditional DOING->DONE transition
	// (§3 lifecycle). Returns ErrStatusMismatch if the row is not in
	// expected status (stale claim, cancelled build).
	CompleteActivity(ctx context.Context, activityID string, expected models.Status) error

	// FailActivity performs the conditional transition to ERROR, recording
	// the message; the retry counter is left as it is (only RetryActivity
	// increments it) (§4.3, §7).
	FailActivity(ctx context.Context, activityID string, expected models.Status, errMsg string) error

	// ResetActivity performs the DONE/ERROR -> NOTDONE transition allowed
	// only via an explicit force retry (§3 invariant 4).
	ResetActivity(ctx context.Context, activityID string) error

	// RetryActivity performs the DOING -> NOTDONE transition for a
	// transient failure, incrementing the retry counter and returning its
	// new value so the caller can compare against max_retries before
	// giving up (§4.3 Failure, §7).
	RetryActivity(ctx context.Context, activityID string, expected models.Status) (retries int, err error)

	// CancelActivities transitions every non-terminal activity of a
	// datacube (optionally scoped to tile+period) to ERROR with reason
	// "cancelled" (§5 Cancellation).
	CancelActivities(ctx context.Context, datacubeID, tile, period string) (int, error)

	// CountActivities reports the terminal/total breakdown for
	// (datacubeID, tile, period, action), used by BarrierCoordinator (§4.4).
	CountActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) (done, errored, total int, err error)

	// AdvanceStage performs the compare-and-set on the per-(tile, period,
	// stage) "advanced" flag (§4.4 Idempotence, §5). Returns true the first
	// time it is called for a given key; false on every subsequent call.
	AdvanceStage(ctx context.Context, datacubeID, tile, period, stage string) (bool, error)

	// ClearAdvanced removes the "advanced" flags for a (tile, period) set,
	// used by force rebuilds to allow barriers to re-fire (§4.1 Force
	// semantics).
	ClearAdvanced(ctx context.Context, datacubeID, tile string, periods []string) error

	// SaveComposite records one composite artifact row, enforcing
	// invariant 1 (at most one per tile/band/period/function) via upsert.
	SaveComposite(ctx context.Context, ref models.CompositeRef) error

	// GetComposite looks up a composite artifact, if it exists.
	GetComposite(ctx context.Context, cube, tile, band, period, function string) (*models.CompositeRef, error)

	// DeleteComposites removes composite rows for a force rebuild (§4.1).
	DeleteComposites(ctx context.Context, cube, tile string, periods []string) error

	// SaveCollectionItem registers/overwrites a published row (§3
	// invariant 3, §4.6).
	SaveCollectionItem(ctx context.Context, item models.CollectionItem) error

	// DeleteCollectionItem removes a prior collection item ahead of a
	// force rebuild (§4.1).
	DeleteCollectionItem(ctx context.Context, collectionID, tile, period string) error

	// GetCollectionItem looks up a published row, if any.
	GetCollectionItem(ctx context.Context, collectionID, tile, period string) (*models.CollectionItem, error)

	// BuildStatus reports the status-endpoint summary for a datacube (§6,
	// §7): counts of done/not_done/error activities and the
	// max(end_ts)-min(launch_ts) duration (§9, the time-accumulation bug is
	// not replicated).
	BuildStatus(ctx context.Context, datacubeID string) (BuildStatus, error)
}

// BuildStatus is the status-endpoint summary (§6 GET /status).
type BuildStatus struct {
	Done      int
	NotDone   int
	Error     int
	StartTS   *time.Time
	LastTS    *time.Time
}

// Finished reports whether every activity for the build has reached a
// terminal state (§7 "finished:true only when not_done + error == 0" —
// note finished requires NotDone == 0; Error alone does not block it, it
// is surfaced separately per §7/§8 S6).
func (s BuildStatus) Finished() bool {
	return s.NotDone == 0
}

// Duration is max(end_ts) - min(launch_ts) across the activity set, or
// zero if the build has not started.
func (s BuildStatus) Duration() time.Duration {
	if s.StartTS == nil || s.LastTS == nil {
		return 0
	}
	return s.LastTS.Sub(*s.StartTS)
}

// ErrStatusMismatch is returned by a conditional transition when the row's
// current status does not match what the caller expected (§5 conditional
// writes).
var ErrStatusMismatch = &mismatchError{}

type mismatchError struct{}

func (*mismatchError) Error() string { return "ledgerstore: activity status did not match expected value" }

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (*notFoundError) Error() string { return "ledgerstore: not found" }

// Stage-advance keys written by AdvanceStage / read by ClaimActivities and
// the BarrierCoordinator (§4.4) to gate a downstream stage's skeleton rows
// until its upstream stage has fully completed for that (tile, period).
const (
	StageMergeToBlend   = "merge->blend"
	StageBlendToPublish = "blend->publish"
)

// upstreamStage reports the stage_advances key that must exist before a
// row of action is claimable, and whether action is gated at all. MERGE
// has no upstream stage.
func upstreamStage(action models.Action) (stage string, gated bool) {
	switch action {
	case models.ActionBlend:
		return StageMergeToBlend, true
	case models.ActionPublish:
		return StageBlendToPublish, true
	default:
		return "", false
	}
}
