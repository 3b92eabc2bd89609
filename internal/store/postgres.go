package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/trend-curator/internal/cost"
	"github.com/sells-group/trend-curator/internal/db"
	"github.com/sells-group/trend-curator/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries prepared on each new connection.
var preparedStatements = map[string]string{
	"get_config":          `SELECT ` + configColumns + ` FROM scan_configs WHERE id = $1`,
	"get_user":            `SELECT id, email, bonus_credits, rollover_credits, credits FROM users WHERE id = $1`,
	"existing_video_ids":  `SELECT video_id FROM scan_results WHERE config_id = $1 AND video_id = ANY($2)`,
	"get_relevance_cache": `SELECT video_id, score, reason, scored_at FROM relevance_scores WHERE project_id = $1 AND video_id = ANY($2) AND scored_at > $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id               TEXT PRIMARY KEY,
	email            TEXT NOT NULL DEFAULT '',
	bonus_credits    BIGINT NOT NULL DEFAULT 0,
	rollover_credits BIGINT NOT NULL DEFAULT 0,
	credits          BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	profile    JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scan_configs (
	id                   TEXT PRIMARY KEY,
	user_id              TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	project_id           TEXT NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	status               TEXT NOT NULL DEFAULT 'paused',
	platform             TEXT NOT NULL DEFAULT 'tiktok',
	min_views            BIGINT NOT NULL DEFAULT 500000,
	date_range_days      INTEGER NOT NULL DEFAULT 7,
	text_score_threshold INTEGER NOT NULL DEFAULT 70,
	max_vision_videos    INTEGER NOT NULL DEFAULT 5,
	custom_keywords      JSONB NOT NULL DEFAULT '[]'::jsonb,
	scan_interval_hours  INTEGER NOT NULL DEFAULT 12,
	next_run_at          TIMESTAMPTZ,
	last_run_at          TIMESTAMPTZ,
	last_run_status      TEXT NOT NULL DEFAULT '',
	last_run_stats       JSONB,
	consecutive_errors   INTEGER NOT NULL DEFAULT 0,
	last_error           TEXT NOT NULL DEFAULT '',
	scheduler_job_id     TEXT NOT NULL DEFAULT '',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
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
	stats           JSONB NOT NULL DEFAULT '{}'::jsonb,
	viral_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	text_score      INTEGER NOT NULL DEFAULT 0,
	text_reason     TEXT NOT NULL DEFAULT '',
	vision_score    INTEGER,
	vision_analysis TEXT NOT NULL DEFAULT '',
	vision_reason   TEXT NOT NULL DEFAULT '',
	final_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	batch_id        TEXT NOT NULL,
	dismissed       BOOLEAN NOT NULL DEFAULT FALSE,
	saved           BOOLEAN NOT NULL DEFAULT FALSE,
	found_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (config_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_scan_results_project_score ON scan_results(project_id, final_score DESC);
CREATE INDEX IF NOT EXISTS idx_scan_results_user_found ON scan_results(user_id, found_at DESC);

CREATE TABLE IF NOT EXISTS relevance_scores (
	project_id TEXT NOT NULL,
	video_id   TEXT NOT NULL,
	score      INTEGER NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	scored_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (project_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_relevance_scores_scored_at ON relevance_scores(scored_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Users and projects

func (s *PostgresStore) UpsertUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, bonus_credits, rollover_credits, credits) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET email = $2, bonus_credits = $3, rollover_credits = $4, credits = $5`,
		u.ID, u.Email, u.Credits.Bonus, u.Credits.Rollover, u.Credits.Main,
	)
	return eris.Wrapf(err, "postgres: upsert user %s", u.ID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT id, email, bonus_credits, rollover_credits, credits FROM users WHERE id = $1`, id,
	))
	if err != nil {
		return nil, pgNotFound(err, "user", id)
	}
	return u, nil
}

// DeductCredits atomically drains amount from the user's pool in bonus,
// rollover, main order, flooring every bucket at zero.
func (s *PostgresStore) DeductCredits(ctx context.Context, userID string, amount int64) (model.CreditSplit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.CreditSplit{}, eris.Wrap(err, "postgres: deduct credits: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var pool model.CreditPool
	err = tx.QueryRow(ctx,
		`SELECT bonus_credits, rollover_credits, credits FROM users WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&pool.Bonus, &pool.Rollover, &pool.Main)
	if err != nil {
		return model.CreditSplit{}, pgNotFound(err, "user", userID)
	}

	next, split := cost.Deduct(pool, amount)
	if _, err := tx.Exec(ctx,
		`UPDATE users SET bonus_credits = $1, rollover_credits = $2, credits = $3 WHERE id = $4`,
		next.Bonus, next.Rollover, next.Main, userID,
	); err != nil {
		return model.CreditSplit{}, eris.Wrapf(err, "postgres: deduct credits for %s", userID)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.CreditSplit{}, eris.Wrap(err, "postgres: deduct credits: commit tx")
	}
	return split, nil
}

func (s *PostgresStore) UpsertProject(ctx context.Context, p *model.Project) error {
	profile, err := marshalProfile(p)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO projects (id, user_id, name, profile, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = $3, profile = $4`,
		p.ID, p.UserID, p.Name, profile, p.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert project %s", p.ID)
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, profile, created_at FROM projects WHERE id = $1`, id,
	))
	if err != nil {
		return nil, pgNotFound(err, "project", id)
	}
	return p, nil
}

// Scan configs

func (s *PostgresStore) CreateConfig(ctx context.Context, cfg *model.ScanConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	cfg.CreatedAt, cfg.UpdatedAt = now, now

	args, err := configArgs(cfg)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO scan_configs (`+configColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		args...,
	)
	return eris.Wrapf(err, "postgres: insert scan config for project %s", cfg.ProjectID)
}

func (s *PostgresStore) GetConfig(ctx context.Context, id string) (*model.ScanConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE id = $1`, id,
	))
	if err != nil {
		return nil, pgNotFound(err, "scan config", id)
	}
	return cfg, nil
}

func (s *PostgresStore) GetConfigByProject(ctx context.Context, projectID string) (*model.ScanConfig, error) {
	cfg, err := scanConfig(s.pool.QueryRow(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE project_id = $1`, projectID,
	))
	if err != nil {
		return nil, pgNotFound(err, "scan config for project", projectID)
	}
	return cfg, nil
}

func (s *PostgresStore) UpdateConfig(ctx context.Context, cfg *model.ScanConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	args, err := configUpdateArgs(cfg)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE scan_configs SET
		   status = $2, platform = $3, min_views = $4, date_range_days = $5,
		   text_score_threshold = $6, max_vision_videos = $7, custom_keywords = $8,
		   scan_interval_hours = $9, next_run_at = $10, last_run_at = $11,
		   last_run_status = $12, last_run_stats = $13, consecutive_errors = $14,
		   last_error = $15, scheduler_job_id = $16, updated_at = $17
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scan config %s", cfg.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scan config %s", cfg.ID)
	}
	return nil
}

func (s *PostgresStore) RecordRunOutcome(ctx context.Context, id string, apply func(cfg *model.ScanConfig)) (*model.ScanConfig, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: record run outcome: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	cfg, err := scanConfig(tx.QueryRow(ctx,
		`SELECT `+configColumns+` FROM scan_configs WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, pgNotFound(err, "scan config", id)
	}

	apply(cfg)
	cfg.UpdatedAt = time.Now().UTC()
	args, err := outcomeArgs(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE scan_configs SET
		   status = $1, next_run_at = $2, last_run_at = $3, last_run_status = $4,
		   last_run_stats = $5, consecutive_errors = $6, last_error = $7, updated_at = $8
		 WHERE id = $9`,
		append(args, id)...,
	); err != nil {
		return nil, eris.Wrapf(err, "postgres: record run outcome for %s", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: record run outcome: commit tx")
	}
	return cfg, nil
}

func (s *PostgresStore) ClearSchedulerJob(ctx context.Context, id, jobID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scan_configs SET scheduler_job_id = '', updated_at = $1
		 WHERE id = $2 AND scheduler_job_id = $3 AND status = $4`,
		time.Now().UTC(), id, jobID, string(model.ScanStatusError),
	)
	return eris.Wrapf(err, "postgres: clear scheduler job for %s", id)
}

func (s *PostgresStore) DeleteConfig(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scan_configs WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete scan config %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scan config %s", id)
	}
	return nil
}

func (s *PostgresStore) ListConfigs(ctx context.Context, filter ConfigFilter) ([]model.ScanConfig, error) {
	query := `SELECT ` + configColumns + ` FROM scan_configs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scan configs")
	}
	defer rows.Close()

	var configs []model.ScanConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan config row")
		}
		configs = append(configs, *cfg)
	}
	return configs, eris.Wrap(rows.Err(), "postgres: list scan configs iterate")
}

// Scan results

func (s *PostgresStore) ExistingVideoIDs(ctx context.Context, configID string, videoIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(videoIDs) == 0 {
		return existing, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT video_id FROM scan_results WHERE config_id = $1 AND video_id = ANY($2)`,
		configID, videoIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing video ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan video id")
		}
		existing[id] = true
	}
	return existing, eris.Wrap(rows.Err(), "postgres: existing video ids iterate")
}

// InsertResults bulk-inserts results, silently skipping any (config, video)
// pair that already exists. It returns the number of rows written.
func (s *PostgresStore) InsertResults(ctx context.Context, results []model.ScanResult) (int, error) {
	rows := make([][]any, 0, len(results))
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
		rows = append(rows, row)
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "scan_results",
		Columns:      resultInsertColumns,
		ConflictKeys: []string{"config_id", "video_id"},
		DoNothing:    true,
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert scan results")
	}
	return int(n), nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ScanResult, int, error) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		where += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	if filter.UserID != "" {
		where += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if !filter.IncludeDismissed {
		where += ` AND NOT dismissed`
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM scan_results`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count scan results")
	}

	query := `SELECT ` + resultColumns + ` FROM scan_results` + where + resultOrder(filter.Sort)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, pageLimit(filter.Limit), max(filter.Offset, 0))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list scan results")
	}
	defer rows.Close()

	var results []model.ScanResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan result row")
		}
		results = append(results, *r)
	}
	return results, total, eris.Wrap(rows.Err(), "postgres: list scan results iterate")
}

func (s *PostgresStore) CountResults(ctx context.Context, configID string, includeDismissed bool) (int, error) {
	query := `SELECT COUNT(*) FROM scan_results WHERE config_id = $1`
	if !includeDismissed {
		query += ` AND NOT dismissed`
	}
	var n int
	err := s.pool.QueryRow(ctx, query, configID).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count results for %s", configID)
}

func (s *PostgresStore) DismissResult(ctx context.Context, userID, resultID string) error {
	return s.flagResult(ctx, "dismissed", userID, resultID)
}

func (s *PostgresStore) SaveResult(ctx context.Context, userID, resultID string) error {
	return s.flagResult(ctx, "saved", userID, resultID)
}

func (s *PostgresStore) flagResult(ctx context.Context, column, userID, resultID string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE scan_results SET %s = TRUE WHERE id = $1 AND user_id = $2`, column),
		resultID, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set %s on result %s", column, resultID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "scan result %s", resultID)
	}
	return nil
}

func (s *PostgresStore) ClearResults(ctx context.Context, userID, projectID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scan_results WHERE project_id = $1 AND user_id = $2`, projectID, userID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: clear results for project %s", projectID)
	}
	return int(tag.RowsAffected()), nil
}

// Relevance cache

func (s *PostgresStore) GetRelevanceScores(ctx context.Context, projectID string, videoIDs []string, maxAge time.Duration) (map[string]model.RelevanceScore, error) {
	scores := make(map[string]model.RelevanceScore)
	if len(videoIDs) == 0 {
		return scores, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT video_id, score, reason, scored_at FROM relevance_scores
		 WHERE project_id = $1 AND video_id = ANY($2) AND scored_at > $3`,
		projectID, videoIDs, time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get relevance scores")
	}
	defer rows.Close()

	for rows.Next() {
		rs := model.RelevanceScore{ProjectID: projectID}
		if err := rows.Scan(&rs.VideoID, &rs.Score, &rs.Reason, &rs.ScoredAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relevance score")
		}
		scores[rs.VideoID] = rs
	}
	return scores, eris.Wrap(rows.Err(), "postgres: get relevance scores iterate")
}

func (s *PostgresStore) PutRelevanceScores(ctx context.Context, scores []model.RelevanceScore) error {
	rows := make([][]any, 0, len(scores))
	for _, rs := range scores {
		scoredAt := rs.ScoredAt
		if scoredAt.IsZero() {
			scoredAt = time.Now()
		}
		rows = append(rows, []any{rs.ProjectID, rs.VideoID, rs.Score, rs.Reason, scoredAt.UTC()})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "relevance_scores",
		Columns:      []string{"project_id", "video_id", "score", "reason", "scored_at"},
		ConflictKeys: []string{"project_id", "video_id"},
	}, rows)
	return eris.Wrap(err, "postgres: put relevance scores")
}

func pgNotFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return eris.Wrapf(err, "postgres: get %s %s", entity, id)
}
