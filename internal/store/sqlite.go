package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/trend-curator/internal/cost"
	"github.com/sells-group/trend-curator/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single writer avoids SQLITE_BUSY on concurrent credit deductions.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL DEFAULT '',
	bonus_credits    INTEGER NOT NULL DEFAULT 0,
	rollover_credits INTEGER NOT NULL DEFAULT 0,
	credits          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	profile    TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scan_configs (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	project_id           TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	status               TEXT NOT NULL DEFAULT 'paused',
	platform             TEXT NOT NULL DEFAULT 'tiktok',
	min_views            INTEGER NOT NULL DEFAULT 500000,
	date_range_days      INTEGER NOT NULL DEFAULT 7,
	text_score_threshold INTEGER NOT NULL DEFAULT 70,
	max_vision_videos    INTEGER NOT NULL DEFAULT 5,
	custom_keywords      TEXT NOT NULL DEFAULT '[]',
	scan_interval_hours  INTEGER NOT NULL DEFAULT 12,
	next_run_at          DATETIME,
	last_run_at          DATETIME,
	last_run_status      TEXT NOT NULL DEFAULT '',
	last_run_stats       TEXT,
	consecutive_errors   INTEGER NOT NULL DEFAULT 0,
	last_error           TEXT NOT NULL DEFAULT '',
	scheduler_job_id     TEXT NOT NULL DEFAULT '',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_configs_user ON scan_configs(user_id);
CREATE INDEX IF NOT EXISTS idx_scan_configs_status ON scan_configs(status);

CREATE TABLE IF NOT EXISTS scan_results (
	id              TEXT PRIMARY KEY,
	config_id       TEXT NOT NULL REFERENCES scan_configs(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	project_id      TEXT NOT NULL,
	video_id        TEXT NOT NULL,
	video_url       TEXT NOT NULL,
	cover_url       TEXT NOT NULL DEFAULT '',
	play_addr       TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	author          TEXT NOT NULL DEFAULT '',
	stats           TEXT NOT NULL DEFAULT '{}',
	viral_score     REAL NOT NULL DEFAULT 0,
	text_score      INTEGER NOT NULL DEFAULT 0,
	text_reason     TEXT NOT NULL DEFAULT '',
	vision_score    INTEGER,
	vision_analysis TEXT NOT NULL DEFAULT '',
	vision_reason   TEXT NOT NULL DEFAULT '',
	final_score     REAL NOT NULL DEFAULT 0,
	batch_id        TEXT NOT NULL,
	dismissed       BOOLEAN NOT NULL DEFAULT 0,
	saved           BOOLEAN NOT NULL DEFAULT 0,
	found_at        DATETIME NOT NULL,
	UNIQUE (config_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_scan_results_project_score ON scan_results(project_id, final_score);
CREATE INDEX IF NOT EXISTS idx_scan_results_user_found ON scan_results(user_id, found_at);

CREATE TABLE IF NOT EXISTS relevance_scores (
	project_id TEXT NOT NULL,
	video_id   TEXT NOT NULL,
	score      INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	scored_at  INTEGER NOT NULL,
	PRIMARY KEY (project_id, video_id)
);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Users and projects

func (s *SQLiteStore) UpsertUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, bonus_credits, rollover_credits, credits) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET email = excluded.email, bonus_credits = excluded.bonus_credits,
		   rollover_credits = excluded.rollover_credits, credits = excluded.credits`,
		u.ID, u.Email, u.Credits.Bonus, u.Credits.Rollover, u.Credits.Main,
	)
	return eris.Wrapf(err, "sqlite: upsert user %s", u.ID)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, bonus_credits, rollover_credits, credits FROM users WHERE id = ?`, id,
	))
	if err != nil {
		return nil, sqliteNotFound(err, "user", id)
	}
	return u, nil
}

// DeductCredits atomically drains amount from the user's pool in bonus,
// rollover, main order, flooring every bucket at zero.
func (s *SQLiteStore) DeductCredits(ctx context.Context, userID string, amount int64) (model.CreditSplit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.CreditSplit{}, eris.Wrap(err, "sqlite: deduct credits: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var pool model.CreditPool
	err = tx.QueryRowContext(ctx,
		`SELECT bonus_credits, rollover_credits, credits FROM users WHERE id = ?`, userID,
	).Scan(&pool.Bonus, &pool.Rollover, &pool.Main)
	if err != nil {
		return model.CreditSplit{}, sqliteNotFound(err, "user", userID)
	}

	next, split := cost.Deduct(pool, amount)
	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET bonus_credits = ?, rollover_credits = ?, credits = ? WHERE id = ?`,
		next.Bonus, next.Rollover, next.Main, userID,
	); err != nil {
		return model.CreditSplit{}, eris.Wrapf(err, "sqlite: deduct credits for %s", userID)
	}

	if err := tx.Commit(); err != nil {
		return model.CreditSplit{}, eris.Wrap(err, "sqlite: deduct credits: commit tx")
	}
	return split, nil
}

func (s *SQLiteStore) UpsertProject(ctx context.Context, p *model.Project) error {
	profile, err := marshalProfile(p)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, profile, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, profile = excluded.profile`,
		p.ID, p.UserID, p.Name, profile, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert project %s", p.ID)
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, profile, created_at FROM projects WHERE id = ?`, id,
	))
	if err != nil {
		return nil, sqliteNotFound(err, "project", id)
	}
	return p, nil
}

// Scan configs

func (s *SQLiteStore) CreateConfig(ctx context.Context, cfg *model.ScanConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	args, err := configArgs(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scan_configs (`+configColumns+`) VALUES (`+placeholders(len(args))+`)`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: insert scan config for project %s", cfg.ProjectID)
}

func (s *SQLiteStore) GetConfig(ctx context.Context, id string) (*model.ScanConfig, error) {
	cfg, err := scanConfig(s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE id = ?`, id,
	))
	if err != nil {
		return nil, sqliteNotFound(err, "scan config", id)
	}
	return cfg, nil
}

func (s *SQLiteStore) GetConfigByProject(ctx context.Context, projectID string) (*model.ScanConfig, error) {
	cfg, err := scanConfig(s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE project_id = ?`, projectID,
	))
	if err != nil {
		return nil, sqliteNotFound(err, "scan config for project", projectID)
	}
	return cfg, nil
}

func (s *SQLiteStore) UpdateConfig(ctx context.Context, cfg *model.ScanConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	args, err := configUpdateArgs(cfg)
	if err != nil {
		return err
	}
	// The id is the first update arg but binds last in SQLite's positional form.
	args = append(args[1:], args[0])
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_configs SET
		   status = ?, platform = ?, min_views = ?, date_range_days = ?,
		   text_score_threshold = ?, max_vision_videos = ?, custom_keywords = ?,
		   scan_interval_hours = ?, next_run_at = ?, last_run_at = ?,
		   last_run_status = ?, last_run_stats = ?, consecutive_errors = ?,
		   last_error = ?, scheduler_job_id = ?, updated_at = ?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scan config %s", cfg.ID)
	}
	return checkRowsAffected(res, "scan config", cfg.ID)
}

func (s *SQLiteStore) RecordRunOutcome(ctx context.Context, id string, apply func(cfg *model.ScanConfig)) (*model.ScanConfig, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: record run outcome: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	cfg, err := scanConfig(tx.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE id = ?`, id,
	))
	if err != nil {
		return nil, sqliteNotFound(err, "scan config", id)
	}

	apply(cfg)
	cfg.UpdatedAt = time.Now().UTC()
	args, err := outcomeArgs(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE scan_configs SET
		   status = ?, next_run_at = ?, last_run_at = ?, last_run_status = ?,
		   last_run_stats = ?, consecutive_errors = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		append(args, id)...,
	); err != nil {
		return nil, eris.Wrapf(err, "sqlite: record run outcome for %s", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: record run outcome: commit tx")
	}
	return cfg, nil
}

func (s *SQLiteStore) ClearSchedulerJob(ctx context.Context, id, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scan_configs SET scheduler_job_id = '', updated_at = ?
		 WHERE id = ? AND scheduler_job_id = ? AND status = ?`,
		time.Now().UTC(), id, jobID, string(model.ScanStatusError),
	)
	return eris.Wrapf(err, "sqlite: clear scheduler job for %s", id)
}

func (s *SQLiteStore) DeleteConfig(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_configs WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete scan config %s", id)
	}
	return checkRowsAffected(res, "scan config", id)
}

func (s *SQLiteStore) ListConfigs(ctx context.Context, filter ConfigFilter) ([]model.ScanConfig, error) {
	query := `SELECT ` + configColumns + ` FROM scan_configs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scan configs")
	}
	defer rows.Close()

	var configs []model.ScanConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan config row")
		}
		configs = append(configs, *cfg)
	}
	return configs, eris.Wrap(rows.Err(), "sqlite: list scan configs iterate")
}

// Scan results

func (s *SQLiteStore) ExistingVideoIDs(ctx context.Context, configID string, videoIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(videoIDs) == 0 {
		return existing, nil
	}

	args := make([]any, 0, len(videoIDs)+1)
	args = append(args, configID)
	for _, id := range videoIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id FROM scan_results WHERE config_id = ? AND video_id IN (`+placeholders(len(videoIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing video ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan video id")
		}
		existing[id] = true
	}
	return existing, eris.Wrap(rows.Err(), "sqlite: existing video ids iterate")
}

// InsertResults inserts results, silently skipping any (config, video) pair
// that already exists. It returns the number of rows written.
func (s *SQLiteStore) InsertResults(ctx context.Context, results []model.ScanResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert results: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scan_results (`+resultColumns+`) VALUES (`+placeholders(len(resultInsertColumns))+`)
		 ON CONFLICT (config_id, video_id) DO NOTHING`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert results")
	}
	defer stmt.Close()

	inserted := 0
	for i := range results {
		r := &results[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.FoundAt.IsZero() {
			r.FoundAt = time.Now().UTC()
		}
		row, err := resultRow(r)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert result %s", r.VideoID)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert results: commit tx")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ScanResult, int, error) {
	where := ` WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		where += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if !filter.IncludeDismissed {
		where += ` AND dismissed = 0`
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count scan results")
	}

	query := `SELECT ` + resultColumns + ` FROM scan_results` + where + resultOrder(filter.Sort) + ` LIMIT ? OFFSET ?`
	args = append(args, pageLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list scan results")
	}
	defer rows.Close()

	var results []model.ScanResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan result row")
		}
		results = append(results, *r)
	}
	return results, total, eris.Wrap(rows.Err(), "sqlite: list scan results iterate")
}

func (s *SQLiteStore) CountResults(ctx context.Context, configID string, includeDismissed bool) (int, error) {
	query := `SELECT COUNT(*) FROM scan_results WHERE config_id = ?`
	if !includeDismissed {
		query += ` AND dismissed = 0`
	}
	var n int
	err := s.db.QueryRowContext(ctx, query, configID).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count results for %s", configID)
}

func (s *SQLiteStore) DismissResult(ctx context.Context, userID, resultID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_results SET dismissed = 1 WHERE id = ? AND user_id = ?`, resultID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: dismiss result %s", resultID)
	}
	return checkRowsAffected(res, "scan result", resultID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, userID, resultID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scan_results SET saved = 1 WHERE id = ? AND user_id = ?`, resultID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save result %s", resultID)
	}
	return checkRowsAffected(res, "scan result", resultID)
}

func (s *SQLiteStore) ClearResults(ctx context.Context, userID, projectID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scan_results WHERE project_id = ? AND user_id = ?`, projectID, userID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: clear results for project %s", projectID)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// Relevance cache. scored_at is stored as unix seconds so the TTL
// comparison stays numeric.

func (s *SQLiteStore) GetRelevanceScores(ctx context.Context, projectID string, videoIDs []string, maxAge time.Duration) (map[string]model.RelevanceScore, error) {
	scores := make(map[string]model.RelevanceScore)
	if len(videoIDs) == 0 {
		return scores, nil
	}

	args := make([]any, 0, len(videoIDs)+2)
	args = append(args, projectID, time.Now().Add(-maxAge).Unix())
	for _, id := range videoIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT video_id, score, reason, scored_at FROM relevance_scores
		 WHERE project_id = ? AND scored_at > ? AND video_id IN (`+placeholders(len(videoIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get relevance scores")
	}
	defer rows.Close()

	for rows.Next() {
		rs := model.RelevanceScore{ProjectID: projectID}
		var scoredAt int64
		if err := rows.Scan(&rs.VideoID, &rs.Score, &rs.Reason, &scoredAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relevance score")
		}
		rs.ScoredAt = time.Unix(scoredAt, 0).UTC()
		scores[rs.VideoID] = rs
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: get relevance scores iterate")
}

func (s *SQLiteStore) PutRelevanceScores(ctx context.Context, scores []model.RelevanceScore) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: put relevance scores: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, rs := range scores {
		scoredAt := rs.ScoredAt
		if scoredAt.IsZero() {
			scoredAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relevance_scores (project_id, video_id, score, reason, scored_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (project_id, video_id) DO UPDATE SET score = excluded.score,
			   reason = excluded.reason, scored_at = excluded.scored_at`,
			rs.ProjectID, rs.VideoID, rs.Score, rs.Reason, scoredAt.Unix(),
		); err != nil {
			return eris.Wrapf(err, "sqlite: put relevance score %s", rs.VideoID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: put relevance scores: commit tx")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func sqliteNotFound(err error, entity, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return eris.Wrapf(err, "sqlite: get %s %s", entity, id)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
