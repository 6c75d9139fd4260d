package ledgerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brazildatacube/cubebuilder/internal/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore implements Store using SQLite (local/dev, CLI dry runs),
// grounded on the teacher's internal/storage/sqlite.go (WAL mode,
// initSchema on startup). SQLite lacks FOR UPDATE SKIP LOCKED, so
// ClaimActivities serializes its select+update inside one transaction.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("connect to sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers anyway; avoids lock contention surprises
	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	store := &SQLiteStore{db: db, logger: logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS activities (
			activity_id TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			datacube_id TEXT NOT NULL,
			tile_id     TEXT NOT NULL,
			band        TEXT,
			period      TEXT,
			payload     BLOB,
			status      TEXT NOT NULL DEFAULT 'NOTDONE',
			launch_ts   DATETIME,
			end_ts      DATETIME,
			retries     INTEGER NOT NULL DEFAULT 0,
			error_msg   TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_activities_lookup ON activities (datacube_id, tile_id, period, action);

		CREATE TABLE IF NOT EXISTS stage_advances (
			datacube_id TEXT NOT NULL,
			tile_id     TEXT NOT NULL,
			period      TEXT NOT NULL,
			stage       TEXT NOT NULL,
			PRIMARY KEY (datacube_id, tile_id, period, stage)
		);

		CREATE TABLE IF NOT EXISTS composites (
			cube     TEXT NOT NULL,
			tile     TEXT NOT NULL,
			band     TEXT NOT NULL,
			period   TEXT NOT NULL,
			function TEXT NOT NULL,
			path     TEXT NOT NULL,
			written_at DATETIME,
			PRIMARY KEY (cube, tile, band, period, function)
		);

		CREATE TABLE IF NOT EXISTS collection_items (
			collection_id  TEXT NOT NULL,
			tile_id        TEXT NOT NULL,
			item_date      TEXT NOT NULL,
			composite_start DATETIME,
			composite_end   DATETIME,
			quicklook_path TEXT,
			assets_by_band BLOB,
			PRIMARY KEY (collection_id, tile_id, item_date)
		);
	`)
	return err
}

func (s *SQLiteStore) CreateActivities(ctx context.Context, activities []*models.Activity) error {
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
func (s *SQLiteStore) ClaimActivities(ctx context.Context, datacubeID string, action models.Action, limit int) ([]*models.Activity, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	upstream, gated := upstreamStage(action)
	query := `
		SELECT a.* FROM activities a WHERE a.datacube_id = ? AND a.action = ? AND a.status = 'NOTDONE'`
	args := []interface{}{datacubeID, string(action)}
	if gated {
		query += `
		AND EXISTS (
			SELECT 1 FROM stage_advances sa
			WHERE sa.datacube_id = a.datacube_id AND sa.tile_id = a.tile_id
			  AND sa.period = a.period AND sa.stage = ?
		)`
		args = append(args, upstream)
	}
	query += `
		ORDER BY a.activity_id LIMIT ?`
	args = append(args, limit)

	var rows []activityRow
	err = tx.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select claimable activities: %w", err)
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ActivityID
	}
	query, args, err = sqlx.In(`UPDATE activities SET status = 'DOING', launch_ts = CURRENT_TIMESTAMP WHERE activity_id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("build claim update: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("claim activities: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}

	out := make([]*models.Activity, len(rows))
	for i, r := range rows {
		r.Status = string(models.StatusDoing)
		out[i] = r.toModel()
	}
	return out, nil
}

func (s *SQLiteStore) GetActivity(ctx context.Context, activityID string) (*models.Activity, error) {
	var r activityRow
	err := s.db.GetContext(ctx, &r, `SELECT * FROM activities WHERE activity_id = ?`, activityID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return r.toModel(), nil
}

func (s *SQLiteStore) ListActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) ([]*models.Activity, error) {
	var rows []activityRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM activities WHERE datacube_id = ? AND tile_id = ? AND period = ? AND action = ?
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

func (s *SQLiteStore) CompleteActivity(ctx context.Context, activityID string, expected models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'DONE', end_ts = CURRENT_TIMESTAMP WHERE activity_id = ? AND status = ?`,
		activityID, string(expected))
	if err != nil {
		return fmt.Errorf("complete activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *SQLiteStore) FailActivity(ctx context.Context, activityID string, expected models.Status, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'ERROR', end_ts = CURRENT_TIMESTAMP, error_msg = ?
		 WHERE activity_id = ? AND status = ?`,
		errMsg, activityID, string(expected))
	if err != nil {
		return fmt.Errorf("fail activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *SQLiteStore) ResetActivity(ctx context.Context, activityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET status = 'NOTDONE', launch_ts = NULL, end_ts = NULL, error_msg = NULL
		 WHERE activity_id = ? AND status IN ('DONE', 'ERROR')`,
		activityID)
	if err != nil {
		return fmt.Errorf("reset activity: %w", err)
	}
	return checkRowsAffected(res, ErrStatusMismatch)
}

func (s *SQLiteStore) RetryActivity(ctx context.Context, activityID string, expected models.Status) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE activities SET status = 'NOTDONE', launch_ts = NULL, retries = retries + 1
		WHERE activity_id = ? AND status = ?
	`, activityID, string(expected))
	if err != nil {
		return 0, fmt.Errorf("retry activity: %w", err)
	}
	if err := checkRowsAffected(res, ErrStatusMismatch); err != nil {
		return 0, err
	}

	var retries int
	if err := tx.GetContext(ctx, &retries, `SELECT retries FROM activities WHERE activity_id = ?`, activityID); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	return retries, tx.Commit()
}

func (s *SQLiteStore) CancelActivities(ctx context.Context, datacubeID, tile, period string) (int, error) {
	query := `UPDATE activities SET status = 'ERROR', end_ts = CURRENT_TIMESTAMP, error_msg = 'cancelled'
		WHERE datacube_id = ? AND status IN ('NOTDONE', 'DOING')`
	args := []any{datacubeID}
	if tile != "" {
		query += " AND tile_id = ?"
		args = append(args, tile)
	}
	if period != "" {
		query += " AND period = ?"
		args = append(args, period)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cancel activities: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) CountActivities(ctx context.Context, datacubeID, tile, period string, action models.Action) (done, errored, total int, err error) {
	var row struct {
		Done    int `db:"done"`
		Errored int `db:"errored"`
		Total   int `db:"total"`
	}
	const query = `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status = 'ERROR' THEN 1 ELSE 0 END), 0) AS errored,
			COUNT(*) AS total
		FROM activities
		WHERE datacube_id = ? AND tile_id = ? AND period = ? AND action = ?
	`
	if err = s.db.GetContext(ctx, &row, query, datacubeID, tile, period, string(action)); err != nil {
		return 0, 0, 0, fmt.Errorf("count activities: %w", err)
	}
	return row.Done, row.Errored, row.Total, nil
}

func (s *SQLiteStore) AdvanceStage(ctx context.Context, datacubeID, tile, period, stage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stage_advances (datacube_id, tile_id, period, stage) VALUES (?, ?, ?, ?)
		ON CONFLICT (datacube_id, tile_id, period, stage) DO NOTHING
	`, datacubeID, tile, period, stage)
	if err != nil {
		return false, fmt.Errorf("advance stage: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *SQLiteStore) ClearAdvanced(ctx context.Context, datacubeID, tile string, periods []string) error {
	if len(periods) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM stage_advances WHERE datacube_id = ? AND tile_id = ? AND period IN (?)`,
		datacubeID, tile, periods)
	if err != nil {
		return fmt.Errorf("build clear-advanced query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("clear advanced: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveComposite(ctx context.Context, ref models.CompositeRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO composites (cube, tile, band, period, function, path, written_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (cube, tile, band, period, function) DO UPDATE SET path = excluded.path, written_at = excluded.written_at
	`, ref.Cube, ref.Tile, ref.Band, ref.Period, ref.Function, ref.Path)
	if err != nil {
		return fmt.Errorf("save composite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetComposite(ctx context.Context, cube, tile, band, period, function string) (*models.CompositeRef, error) {
	var ref models.CompositeRef
	err := s.db.GetContext(ctx, &ref, `
		SELECT cube, tile, band, period, function, path FROM composites
		WHERE cube = ? AND tile = ? AND band = ? AND period = ? AND function = ?
	`, cube, tile, band, period, function)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get composite: %w", err)
	}
	return &ref, nil
}

func (s *SQLiteStore) DeleteComposites(ctx context.Context, cube, tile string, periods []string) error {
	if len(periods) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM composites WHERE cube = ? AND tile = ? AND period IN (?)`, cube, tile, periods)
	if err != nil {
		return fmt.Errorf("build delete-composites query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("delete composites: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveCollectionItem(ctx context.Context, item models.CollectionItem) error {
	assets, err := json.Marshal(item.AssetsByBand)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collection_items (collection_id, tile_id, item_date, composite_start, composite_end, quicklook_path, assets_by_band)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection_id, tile_id, item_date) DO UPDATE SET
			composite_start = excluded.composite_start,
			composite_end = excluded.composite_end,
			quicklook_path = excluded.quicklook_path,
			assets_by_band = excluded.assets_by_band
	`, item.CollectionID, item.TileID, item.ItemDate.Format("2006-01-02"), item.CompositeStart, item.CompositeEnd, item.QuicklookPath, assets)
	if err != nil {
		return fmt.Errorf("save collection item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteCollectionItem(ctx context.Context, collectionID, tile, period string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM collection_items WHERE collection_id = ? AND tile_id = ? AND item_date = ?`,
		collectionID, tile, period)
	if err != nil {
		return fmt.Errorf("delete collection item: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCollectionItem(ctx context.Context, collectionID, tile, period string) (*models.CollectionItem, error) {
	var row struct {
		models.CollectionItem
		AssetsJSON []byte `db:"assets_by_band"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT collection_id, tile_id, item_date, composite_start, composite_end, quicklook_path, assets_by_band
		FROM collection_items WHERE collection_id = ? AND tile_id = ? AND item_date = ?
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

func (s *SQLiteStore) BuildStatus(ctx context.Context, datacubeID string) (BuildStatus, error) {
	var row struct {
		Done    int            `db:"done"`
		NotDone int            `db:"not_done"`
		Errored int            `db:"errored"`
		StartTS sql.NullString `db:"start_ts"`
		LastTS  sql.NullString `db:"last_ts"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'DONE' THEN 1 ELSE 0 END), 0) AS done,
			COALESCE(SUM(CASE WHEN status IN ('NOTDONE', 'DOING') THEN 1 ELSE 0 END), 0) AS not_done,
			COALESCE(SUM(CASE WHEN status = 'ERROR' THEN 1 ELSE 0 END), 0) AS errored,
			MIN(launch_ts) AS start_ts,
			MAX(end_ts) AS last_ts
		FROM activities WHERE datacube_id = ?
	`, datacubeID)
	if err != nil {
		return BuildStatus{}, fmt.Errorf("build status: %w", err)
	}
	bs := BuildStatus{Done: row.Done, NotDone: row.NotDone, Error: row.Errored}
	if row.StartTS.Valid {
		if t, perr := parseSQLiteTime(row.StartTS.String); perr == nil {
			bs.StartTS = &t
		}
	}
	if row.LastTS.Valid {
		if t, perr := parseSQLiteTime(row.LastTS.String); perr == nil {
			bs.LastTS = &t
		}
	}
	return bs, nil
}
