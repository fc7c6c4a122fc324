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

	"github.com/sells-group/esg-extract/internal/db"
	"github.com/sells-group/esg-extract/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var (
	postgresUpsertRecord = upsertRecordSQL(postgresPlaceholder) + " RETURNING id, created_at"
	postgresInsertRun    = insertRunSQL(postgresPlaceholder)
)

const pgDeleteRecord = `DELETE FROM esg_records WHERE user_id = $1 AND year = $2`

var pgGetRecord = `SELECT ` + recordSelectList + ` FROM esg_records WHERE user_id = $1 AND year = $2`

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: utcNow}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS esg_records (
	id                                TEXT PRIMARY KEY,
	user_id                           TEXT NOT NULL,
	year                              INTEGER NOT NULL,
	total_electricity_consumption     DOUBLE PRECISION,
	renewable_electricity_consumption DOUBLE PRECISION,
	total_fuel_consumption            DOUBLE PRECISION,
	carbon_emissions                  DOUBLE PRECISION,
	total_employees                   INTEGER,
	female_employees                  INTEGER,
	avg_training_hours                DOUBLE PRECISION,
	community_investment_spend        DOUBLE PRECISION,
	independent_board_members_percent DOUBLE PRECISION,
	has_data_privacy_policy           BOOLEAN,
	total_revenue                     DOUBLE PRECISION,
	carbon_intensity                  DOUBLE PRECISION,
	renewable_electricity_ratio       DOUBLE PRECISION,
	diversity_ratio                   DOUBLE PRECISION,
	community_spend_ratio             DOUBLE PRECISION,
	created_at                        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                        TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, year)
);

CREATE TABLE IF NOT EXISTS extraction_runs (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	year          INTEGER NOT NULL,
	filename      TEXT NOT NULL DEFAULT '',
	mime_type     TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL,
	strategy      TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0,
	error_code    TEXT NOT NULL DEFAULT '',
	populated     INTEGER NOT NULL DEFAULT 0,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_esg_records_user ON esg_records(user_id);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_user ON extraction_runs(user_id);
`

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

// pgQuerier is satisfied by db.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) clock() time.Time {
	if s.now == nil {
		return utcNow()
	}
	return s.now()
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	return s.upsert(ctx, s.pool, rec)
}

func (s *PostgresStore) upsert(ctx context.Context, q pgQuerier, rec *model.Record) error {
	if err := prepareRecord(rec, s.clock()); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	err := q.QueryRow(ctx, postgresUpsertRecord, recordArgs(rec)...).Scan(&rec.ID, &rec.CreatedAt)
	return eris.Wrap(err, "postgres: upsert record")
}

// MergeRecord locks the existing row for the duration of the merge so
// concurrent saves for the same (user, year) apply in turn.
func (s *PostgresStore) MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error) {
	var merged *model.Record
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		existing, err := s.getRecord(ctx, tx,
			`SELECT `+recordSelectList+` FROM esg_records WHERE user_id = $1 AND year = $2 FOR UPDATE`,
			rec.UserID, rec.Year)
		if err != nil {
			return err
		}
		merged = mergeInto(existing, rec)
		return s.upsert(ctx, tx, merged)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, userID string, year int) (*model.Record, error) {
	return s.getRecord(ctx, s.pool, pgGetRecord, userID, year)
}

func (s *PostgresStore) getRecord(ctx context.Context, q pgQuerier, query, userID string, year int) (*model.Record, error) {
	var rec model.Record
	err := q.QueryRow(ctx, query, userID, year).Scan(recordDest(&rec)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get record")
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, userID string) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordSelectList+` FROM esg_records WHERE user_id = $1 ORDER BY year`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(recordDest(&rec)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, userID string, year int) error {
	tag, err := s.pool.Exec(ctx, pgDeleteRecord, userID, year)
	if err != nil {
		return eris.Wrap(err, "postgres: delete record")
	}
	if tag.RowsAffected() == 0 {
		return recordNotFound(userID, year)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.ExtractionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.clock()
	}
	_, err := s.pool.Exec(ctx, postgresInsertRun, runArgs(run)...)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.ExtractionRun, error) {
	query := `SELECT ` + runSelectList + ` FROM extraction_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.ExtractionRun
	for rows.Next() {
		var r model.ExtractionRun
		if err := rows.Scan(runDest(&r)...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}
