// Package sqlite implements race.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/boatrace-ingest/internal/race"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/schema"
)

// Store persists races in SQLite. A single connection serializes every
// writer, so concurrent workers never interleave transactions.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ race.Store = (*Store)(nil)

// New opens a SQLite database at dsn and configures WAL mode.
func New(dsn string, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite: dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &Store{db: db, logger: logger}, nil
}

// Migrate creates every table and index if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema.CreateStatements(schema.SQLite) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite: close: %w", err)
	}
	return nil
}

// WriteRace commits every record of a race in one transaction.
func (s *Store) WriteRace(ctx context.Context, batch race.Batch) error {
	return s.inTx(ctx, "write race "+batch.Key.String(), func(w schema.Writer) error {
		return w.WriteBatch(ctx, batch)
	})
}

// UpsertEntries writes entry rows in their own transaction.
func (s *Store) UpsertEntries(ctx context.Context, entries []race.Entry) error {
	return s.inTx(ctx, "upsert entries", func(w schema.Writer) error {
		return w.Entries(ctx, entries)
	})
}

// UpsertMotors writes motor rows in their own transaction.
func (s *Store) UpsertMotors(ctx context.Context, motors []race.Motor) error {
	return s.inTx(ctx, "upsert motors", func(w schema.Writer) error {
		return w.Motors(ctx, motors)
	})
}

// UpsertExhibitions writes exhibition rows in their own transaction.
func (s *Store) UpsertExhibitions(ctx context.Context, exhibitions []race.Exhibition) error {
	return s.inTx(ctx, "upsert exhibitions", func(w schema.Writer) error {
		return w.Exhibitions(ctx, exhibitions)
	})
}

// UpsertWeather writes weather rows in their own transaction.
func (s *Store) UpsertWeather(ctx context.Context, weather []race.Weather) error {
	return s.inTx(ctx, "upsert weather", func(w schema.Writer) error {
		return w.Weather(ctx, weather)
	})
}

// UpsertResults writes result rows in their own transaction.
func (s *Store) UpsertResults(ctx context.Context, results []race.Result) error {
	return s.inTx(ctx, "upsert results", func(w schema.Writer) error {
		return w.Results(ctx, results)
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(schema.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	w := schema.Writer{
		Dialect: schema.SQLite,
		Exec: func(ctx context.Context, query string, args ...any) error {
			_, err := tx.ExecContext(ctx, query, args...)
			return err
		},
	}
	if err := fn(w); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("sqlite rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// QueryFeatureJoin returns one row per lane. An unknown race yields no rows.
func (s *Store) QueryFeatureJoin(ctx context.Context, key race.Key) ([]race.FeatureRow, error) {
	rows, err := s.db.QueryContext(ctx, schema.FeatureJoinSQL(schema.SQLite), schema.KeyArgs(key)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: feature join %s: %w", key, err)
	}
	defer rows.Close() //nolint:errcheck

	out := []race.FeatureRow{}
	for rows.Next() {
		row, err := schema.ScanFeatureRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: feature join rows: %w", err)
	}
	return out, nil
}

// LookupIngestion returns the bookkeeping row for a race, if any.
func (s *Store) LookupIngestion(ctx context.Context, key race.Key) (race.Ingestion, bool, error) {
	in := race.Ingestion{Key: key}
	var (
		status     string
		ingestedAt string
	)
	err := s.db.QueryRowContext(ctx, schema.IngestionSQL(schema.SQLite), schema.KeyArgs(key)...).Scan(
		&status, &in.Complete, &in.LaneCount, &in.SkippedRows, &in.WarningCount, &in.ContentHash, &ingestedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return race.Ingestion{}, false, nil
	}
	if err != nil {
		return race.Ingestion{}, false, fmt.Errorf("sqlite: lookup ingestion %s: %w", key, err)
	}
	in.Status = race.Status(status)
	if in.IngestedAt, err = time.Parse(time.RFC3339Nano, ingestedAt); err != nil {
		return race.Ingestion{}, false, fmt.Errorf("sqlite: parse ingested_at %q: %w", ingestedAt, err)
	}
	return in, true, nil
}

// TableCounts returns the row count of every table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(schema.All()))
	for _, t := range schema.All() {
		var n int64
		if err := s.db.QueryRowContext(ctx, t.CountSQL()).Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite: count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}
