package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/model"
)

// defaultListLimit caps ListRuns when the filter sets no limit.
const defaultListLimit = 100

// ErrNotFound is returned by DeleteRecord when no row matches.
var ErrNotFound = eris.New("record not found")

// Store defines the persistence interface for ESG records and the
// extraction run log.
type Store interface {
	// Records
	UpsertRecord(ctx context.Context, rec *model.Record) error
	MergeRecord(ctx context.Context, rec model.Record) (*model.Record, error)
	GetRecord(ctx context.Context, userID string, year int) (*model.Record, error)
	ListRecords(ctx context.Context, userID string) ([]model.Record, error)
	DeleteRecord(ctx context.Context, userID string, year int) error

	// Runs
	CreateRun(ctx context.Context, run *model.ExtractionRun) error
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.ExtractionRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and tunes a backend.
type Config struct {
	Driver      string
	DatabaseURL string
	Pool        *PoolConfig
}

// Open connects to the backend named by cfg.Driver. The schema is not
// migrated; call Migrate.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		st, err := NewSQLite(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepareRecord validates identity, recomputes derived ratios and stamps
// the update time.
func prepareRecord(rec *model.Record, now time.Time) error {
	if rec.UserID == "" {
		return eris.New("store: record user id is required")
	}
	if rec.Year <= 0 {
		return eris.Errorf("store: invalid record year %d", rec.Year)
	}
	rec.Derive()
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	return nil
}

// mergeInto overlays rec onto existing, or starts a new record when there
// is none.
func mergeInto(existing *model.Record, rec model.Record) *model.Record {
	if existing == nil {
		existing = &model.Record{UserID: rec.UserID, Year: rec.Year}
	}
	existing.Merge(rec)
	return existing
}

func recordNotFound(userID string, year int) error {
	return eris.Wrapf(ErrNotFound, "%s/%d", userID, year)
}
