package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/esg-extract/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "esg.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: utcNow}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS esg_records (
	id                                TEXT PRIMARY KEY,
	user_id                           TEXT NOT NULL,
	year                              INTEGER NOT NULL,
	total_electricity_consumption     REAL,
	renewable_electricity_consumption REAL,
	total_fuel_consumption            REAL,
	carbon_emissions                  REAL,
	total_employees                   INTEGER,
	female_employees                  INTEGER,
	avg_training_hours                REAL,
	community_investment_spend        REAL,
	independent_board_members_percent REAL,
	has_data_privacy_policy           BOOLEAN,
	total_revenue                     REAL,
	carbon_intensity                  REAL,
	renewable_electricity_ratio       REAL,
	diversity_ratio                   REAL,
	community_spend_ratio             REAL,
	created_at                        DATETIME NOT NULL,
	updated_at                        DATETIME NOT NULL,
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
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd      REAL NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_esg_records_user ON esg_records(user_id);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_created_at ON extraction_runs(created_at);
CREATE INDEX IF NOT EXISTS idx_extraction_runs_user ON extraction_runs(user_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var sqliteUpsertRecord = upsertRecordSQL(sqlitePlaceholder)

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	return s.upsert(ctx, s.db, rec)
}

func (s *SQLiteStore) upsert(ctx context.Context, q sqlQuerier, rec *model.Record) error {
	if err := prepareRecord(rec, s.now()); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, err := q.ExecContext(ctx, sqliteUpsertRecord, recordArgs(rec)...); err != nil {
		return eris.Wrap(err, "sqlite: upsert record")
	}
	// RETURNING columns carry no declared type, so created_at would come
	// back as text. Read the row instead.
	err := q.QueryRowContext(ctx,
		`SELECT id, created_at FROM esg_records WHERE user_id = ? AND year = ?`,
		rec.UserID, rec.Year,
	).Scan(&rec.ID, &rec.CreatedAt)
	return eris.Wrap(err, "sqlite: read back record")
}

func (s *SQLiteStore) MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin merge")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := s.getRecord(ctx, tx, rec.UserID, rec.Year)
	if err != nil {
		return nil, err
	}
	merged := mergeInto(existing, rec)
	if err := s.upsert(ctx, tx, merged); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit merge")
	}
	return merged, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, userID string, year int) (*model.Record, error) {
	return s.getRecord(ctx, s.db, userID, year)
}

func (s *SQLiteStore) getRecord(ctx context.Context, q sqlQuerier, userID string, year int) (*model.Record, error) {
	var rec model.Record
	err := q.QueryRowContext(ctx,
		`SELECT `+recordSelectList+` FROM esg_records WHERE user_id = ? AND year = ?`,
		userID, year,
	).Scan(recordDest(&rec)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get record")
	}
	return &rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, userID string) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordSelectList+` FROM esg_records WHERE user_id = ? ORDER BY year`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var rec model.Record
		if err := rows.Scan(recordDest(&rec)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, userID string, year int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM esg_records WHERE user_id = ? AND year = ?`,
		userID, year,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return recordNotFound(userID, year)
	}
	return nil
}

var sqliteInsertRun = insertRunSQL(sqlitePlaceholder)

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.ExtractionRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	run.CreatedAt = run.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, sqliteInsertRun, runArgs(run)...)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.ExtractionRun, error) {
	query := `SELECT ` + runSelectList + ` FROM extraction_runs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.ExtractionRun
	for rows.Next() {
		var r model.ExtractionRun
		if err := rows.Scan(runDest(&r)...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func utcNow() time.Time {
	return time.Now().UTC()
}
