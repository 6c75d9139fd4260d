package ledgerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/brazildatacube/cubebuilder/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PostgresStore implements Store using PostgreSQL, grounded on the
// teacher's internal/storage/postgres.go (sqlx.Connect("pgx", ...),
// NamedExecContext, ON CONFLICT upserts).
type PostgresStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPostgresStore opens a pooled connection to dsn.
func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

type activityRow struct {
	ActivityID string         `db:"activity_id"`
	Action     string         `db:"action"`
	DatacubeID string         `db:"datacube_id"`
	TileID     string         `db:"tile_id"`
	Band       sql.NullString `db:"band"`
	Period     sql.NullString `db:"period"`
	Payload    []byte         `db:"payload"`
	Status     string         `db:"status"`
	LaunchTS   sql.NullTime   `db:"launch_ts"`
	EndTS      sql.NullTime   `db:"end_ts"`
	Retries    int            `db:"retries"`
	ErrorMsg   sql.NullString `db:"error_msg"`
}

func toRow(a *models.Activity) activityRow {
	r := activityRow{
		ActivityID: a.ActivityID,
		Action:     string(a.Action),
		DatacubeID: a.DatacubeID,
		TileID:     a.TileID,
		Band:       sql.NullString{String: a.Band, Valid: a.Band != ""},
		Period:     sql.NullString{String: a.Period, Valid: a.Period != ""},
		Payload:    a.Payload,
		Status:     string(a.Status),
		Retries:    a.Retries,
		ErrorMsg:   sql.NullString{String: a.ErrorMsg, Valid: a.ErrorMsg != ""},
	}
	if a.LaunchTS != nil {
		r.LaunchTS = sql.NullTime{Time: *a.LaunchTS, Valid: true}
	}
	if a.EndTS != nil {
		r.EndTS = sql.NullTime{Time: *a.EndTS, Valid: true}
	}
	return r
}

func (r activityRow) toModel() *models.Activity {
	a := &models.Activity{
		ActivityID: r.ActivityID,
		Action:     models.Action(r.Action),
		DatacubeID: r.DatacubeID,
		TileID:     r.TileID,
		Band:       r.Band.String,
		Period:     r.Period.String,
		Payload:    r.Payload,
		Status:     models.Status(r.Status),
		Retries:    r.Retries,
		ErrorMsg:   r.ErrorMsg.String,
	}
	if r.LaunchTS.Valid {
		t := r.LaunchTS.Time
		a.LaunchTS = &t
	}
	if r.EndTS.Valid {
		t := r.EndTS.Time
		a.EndTS = &t
	}
	return a
}

func (s *PostgresStore) CreateActivities(ctx context.Context, activities []*models.Activity) error {
	if len(activities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO activities (activity_id, action, datacube_id, tile_id, band, period, payload, status, retries)
		VALUES (:activity_id, :action, :datacube_id, :tile_id, :band, :period, :payload, :status, :retries)
		ON CONFLICT (activity_id) DO NOTHING
	`
	for _, a := range activities {
		if _, err := tx.NamedExecContext(ctx, query, toRow(a)); err != nil {
			return fmt.Errorf("create activity %s: %w", a.ActivityID, err)
		}
	}
	return tx.Commit()
}

// ClaimActivities claims NOTDONE rows of action for datacubeID. BLEND and
// PUBLISH rows are registered as skeletons ahead of their upstream stage
// finishing (§4.1), so they are only claimable once the matching
// stage_advances row exists (§4.4 barrier trigger); MERGE has no upstream
// gate.
func (s *PostgresStore) ClaimActivities(ctx context.Context, datacubeID string, action models.Action, limit int) ([]*models.Activity, error) {
	upstream, gated := upstreamStage(action)
	gateClause := ""
	args := []interface{}{datacubeID, string(action), limit}
	if gated {
		gateClause = `
				AND EXISTS (
					SELECT 1 FROM stage_advances sa
					WHERE sa.datacube_id = a.datacube_id AND sa.tile_id = a.tile_id
					  AND sa.period = a.period AND sa.stage = $4
				)`
		args = append(args, upstream)
	}
	query := `
		UPDATE activities SET status = 'DOING', launch_ts = now()
		WHERE activity_id IN (
			SELECT a.activity_id FROM activities a
			WHERE a.datacube_id = $1 AND a.action = $2 AND a.status = 'NOTDONE'` + gateClause + `
			ORDER BY a.activity_id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING activity_id, action, datacube_id, tile_id, band, period, payload, status, launch_ts, end_ts, retries, error_msg
	`

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("claim activities: %w", err)
	}
	out := make([]*models.Activity, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) GetActivity(ctx context.Context, activityID string) (*models.Activity, error) {
	var r activityRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM activities WHERE activity_id = $1`, activityID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return r.toModel(), nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) ([]*models.Activity, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM activities WHERE datacube_id = $1 AND tile_id = $2 AND period = $3 AND action = $4
	`, datacubeID, tile, period, string(action))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	out := make([]*models.Activity, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *PostgresStore) CompleteActivity(ctx context.Context, activityID string, expected models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'DONE', end_ts = now() WHERE activity_id = $1 AND status = $2`,
		activityID, string(expected))
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *PostgresStore) FailActivity(ctx context.Context, activityID string, expected models.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'ERROR', end_ts = now(), error_msg = $3
		 WHERE activity_id = $1 AND status = $2`,
		activityID, string(expected), errMsg)
	if err != nil {
		return fmt.Errorf("fail activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *PostgresStore) ResetActivity(ctx context.Context, activityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'NOTDONE', launch_ts = NULL, end_ts = NULL, error_msg = NULL
		 WHERE activity_id = $1 AND status IN ('DONE', 'ERROR')`,
		activityID)
	if err != nil {
		return fmt.Errorf("reset activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *PostgresStore) RetryActivity(ctx context.Context, activityID string, expected models.Status) (int, error) {
	var retries int
	err := s.db.GetContext(ctx, &retries, `
		UPDATE activities SET status = 'NOTDONE', launch_ts = NULL, retries = retries + 1
		WHERE activity_id = $1 AND status = $2
		RETURNING retries
	`, activityID, string(expected))
	if err == sql.ErrNoRows {
		return 0, ErrStatusMismatch
	}
	if err != nil {
		return 0, fmt.Errorf("retry activity: %w", err)
	}
	return retries, nil
}

func (s *PostgresStore) CancelActivities(ctx context.Context, datacubeID, tile, period string) (int, error) {
	query := `UPDATE activities SET status = 'ERROR', end_ts = now(), error_msg = 'cancelled'
		WHERE datacube_id = $1 AND status IN ('NOTDONE', 'DOING')`
	args := []any{datacubeID}
	if tile != "" {
		query += fmt.Sprintf(" AND tile_id = $%d", len(args)+1)
		args = append(args, tile)
	}
	if period != "" {
		query += fmt.Sprintf(" AND period = $%d", len(args)+1)
		args = append(args, period)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel activities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) CountActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) (done, errored, total int, err error) {
	const query = `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status = 'ERROR' THEN 1 ELSE 0 END), 0) AS errored,
			COUNT(*) AS total
		FROM activities
		WHERE datacube_id = $1 AND tile_id = $2 AND period = $3 AND action = $4
	`
	var row struct {
		Done    int `db:"done"`
		Errored int `db:"errored"`
		Total   int `db:"total"`
	}
	if err = s.db.GetContext(ctx, &row, query, datacubeID, tile, period, string(action)); err != nil {
		return 0, 0, 0, fmt.Errorf("count activities: %w", err)
	}
	return row.Done, row.Errored, row.Total, nil
}

func (s *PostgresStore) AdvanceStage(ctx context.Context, datacubeID, tile, period, stage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_advances (datacube_id, tile_id, period, stage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (datacube_id, tile_id, period, stage) DO NOTHING
	`, datacubeID, tile, period, stage)
	if err != nil {
		return false, fmt.Errorf("advance stage: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *PostgresStore) ClearAdvanced(ctx context.Context, datacubeID, tile string, periods []string) error {
	if len(periods) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM stage_advances WHERE datacube_id = ? AND tile_id = ? AND period IN (?)`,
		datacubeID, tile, periods)
	if err != nil {
		return fmt.Errorf("build clear-advanced query: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clear advanced: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveComposite(ctx context.Context, ref models.CompositeRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO composites (cube, tile, band, period, function, path, written_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (cube, tile, band, period, function) DO UPDATE SET path = EXCLUDED.path, written_at = now()
	`, ref.Cube, ref.Tile, ref.Band, ref.Period, ref.Function, ref.Path)
	if err != nil {
		return fmt.Errorf("save composite: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComposite(ctx context.Context, cube, tile, band, period, function string) (*models.CompositeRef, error) {
	var ref models.CompositeRef
	err := s.db.GetContext(ctx, &ref, `
		SELECT cube, tile, band, period, function, path FROM composites
		WHERE cube = $1 AND tile = $2 AND band = $3 AND period = $4 AND function = $5
	`, cube, tile, band, period, function)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get composite: %w", err)
	}
	return &ref, nil
}

func (s *PostgresStore) DeleteComposites(ctx context.Context, cube, tile string, periods []string) error {
	if len(periods) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM composites WHERE cube = ? AND tile = ? AND period IN (?)`, cube, tile, periods)
	if err != nil {
		return fmt.Errorf("build delete-composites query: %w", err)
	}
	query = s.db.Rebind(query)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete composites: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCollectionItem(ctx context.Context, item models.CollectionItem) error {
	assets, err := json.Marshal(item.AssetsByBand)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_items (collection_id, tile_id, item_date, composite_start, composite_end, quicklook_path, assets_by_band)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection_id, tile_id, item_date) DO UPDATE SET
			composite_start = EXCLUDED.composite_start,
			composite_end = EXCLUDED.composite_end,
			quicklook_path = EXCLUDED.quicklook_path,
			assets_by_band = EXCLUDED.assets_by_band
	`, item.CollectionID, item.TileID, item.ItemDate, item.CompositeStart, item.CompositeEnd, item.QuicklookPath, assets)
	if err != nil {
		return fmt.Errorf("save collection item: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCollectionItem(ctx context.Context, collectionID, tile, period string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_items WHERE collection_id = $1 AND tile_id = $2 AND item_date = $3::date`,
		collectionID, tile, period)
	if err != nil {
		return fmt.Errorf("delete collection item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCollectionItem(ctx context.Context, collectionID, tile, period string) (*models.CollectionItem, error) {
	var row struct {
		models.CollectionItem
		AssetsJSON []byte `db:"assets_by_band"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT collection_id, tile_id, item_date, composite_start, composite_end, quicklook_path, assets_by_band
		FROM collection_items WHERE collection_id = $1 AND tile_id = $2 AND item_date = $3::date
	`, collectionID, tile, period)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get collection item: %w", err)
	}
	if len(row.AssetsJSON) > 0 {
		if err := json.Unmarshal(row.AssetsJSON, &row.CollectionItem.AssetsByBand); err != nil {
			return nil, fmt.Errorf("unmarshal assets: %w", err)
		}
	}
	return &row.CollectionItem, nil
}

func (s *PostgresStore) BuildStatus(ctx context.Context, datacubeID string) (BuildStatus, error) {
	var row struct {
		Done    int          `db:"done"`
		NotDone int          `db:"not_done"`
		Errored int          `db:"errored"`
		StartTS sql.NullTime `db:"start_ts"`
		LastTS  sql.NullTime `db:"last_ts"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status IN ('NOTDONE', 'DOING') THEN 1 ELSE 0 END), 0) AS not_done,
			COALESCE(SUM(CASE WHEN status = 'ERROR' THEN 1 ELSE 0 END), 0) AS errored,
			MIN(launch_ts) AS start_ts,
			MAX(end_ts) AS last_ts
		FROM activities WHERE datacube_id = $1
	`, datacubeID)
	if err != nil {
		return BuildStatus{}, fmt.Errorf("build status: %w", err)
	}
	bs := BuildStatus{Done: row.Done, NotDone: row.NotDone, Error: row.Errored}
	if row.StartTS.Valid {
		bs.StartTS = &row.StartTS.Time
	}
	if row.LastTS.Valid {
		bs.LastTS = &row.LastTS.Time
	}
	return bs, nil
}

func checkRowsAffected(res sql.Result, mismatchErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return mismatchErr
	}
	return nil
}
