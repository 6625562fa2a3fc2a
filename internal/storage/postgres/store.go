// Package postgres implements race.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/boatrace-ingest/internal/race"
	"github.com/JakeFAU/boatrace-ingest/internal/storage/schema"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it.
type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store persists races in Postgres.
type Store struct {
	pool   pool
	logger *zap.Logger
}

var _ race.Store = (*Store)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithPool(p, logger)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, logger *zap.Logger) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: p, logger: logger}, nil
}

// Migrate creates every table and index if missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema.CreateStatements(schema.Postgres) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// WriteRace commits every record of a race in one transaction.
func (s *Store) WriteRace(ctx context.Context, batch race.Batch) error {
	return s.inTx(ctx, "write race "+batch.Key.String(), func(w schema.Writer) error {
		return w.WriteBatch(ctx, batch)
	})
}

// UpsertEntries writes entry rows.
func (s *Store) UpsertEntries(ctx context.Context, entries []race.Entry) error {
	return s.inTx(ctx, "upsert entries", func(w schema.Writer) error {
		return w.Entries(ctx, entries)
	})
}

// UpsertMotors writes motor rows; known motors are left untouched.
func (s *Store) UpsertMotors(ctx context.Context, motors []race.Motor) error {
	return s.inTx(ctx, "upsert motors", func(w schema.Writer) error {
		return w.Motors(ctx, motors)
	})
}

// UpsertExhibitions writes exhibition rows.
func (s *Store) UpsertExhibitions(ctx context.Context, exhibitions []race.Exhibition) error {
	return s.inTx(ctx, "upsert exhibitions", func(w schema.Writer) error {
		return w.Exhibitions(ctx, exhibitions)
	})
}

// UpsertWeather writes weather rows.
func (s *Store) UpsertWeather(ctx context.Context, weather []race.Weather) error {
	return s.inTx(ctx, "upsert weather", func(w schema.Writer) error {
		return w.Weather(ctx, weather)
	})
}

// UpsertResults writes result rows.
func (s *Store) UpsertResults(ctx context.Context, results []race.Result) error {
	return s.inTx(ctx, "upsert results", func(w schema.Writer) error {
		return w.Results(ctx, results)
	})
}

func (s *Store) inTx(ctx context.Context, op string, fn func(schema.Writer) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	w := schema.Writer{
		Dialect: schema.Postgres,
		Exec: func(ctx context.Context, query string, args ...any) error {
			_, err := tx.Exec(ctx, query, args...)
			return err
		},
	}
	if err := fn(w); err != nil {
		// The caller's context may already be done; rollback must still run.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Warn("postgres rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &race.StoreError{Kind: race.TransactionFailed, Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

// QueryFeatureJoin returns one row per lane. An unknown race yields no rows.
func (s *Store) QueryFeatureJoin(ctx context.Context, key race.Key) ([]race.FeatureRow, error) {
	rows, err := s.pool.Query(ctx, schema.FeatureJoinSQL(schema.Postgres), schema.KeyArgs(key)...)
	if err != nil {
		return nil, fmt.Errorf("postgres: feature join %s: %w", key, err)
	}
	defer rows.Close()

	out := []race.FeatureRow{}
	for rows.Next() {
		row, err := schema.ScanFeatureRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: feature join rows: %w", err)
	}
	return out, nil
}

// LookupIngestion returns the bookkeeping row for a race, if any.
func (s *Store) LookupIngestion(ctx context.Context, key race.Key) (race.Ingestion, bool, error) {
	in := race.Ingestion{Key: key}
	var status string
	err := s.pool.QueryRow(ctx, schema.IngestionSQL(schema.Postgres), schema.KeyArgs(key)...).Scan(
		&status, &in.Complete, &in.LaneCount, &in.SkippedRows, &in.WarningCount, &in.ContentHash, &in.IngestedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return race.Ingestion{}, false, nil
	}
	if err != nil {
		return race.Ingestion{}, false, fmt.Errorf("postgres: lookup ingestion %s: %w", key, err)
	}
	in.Status = race.Status(status)
	in.IngestedAt = in.IngestedAt.UTC()
	return in, true, nil
}

// TableCounts returns the row count of every table.
func (s *Store) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(schema.All()))
	for _, t := range schema.All() {
		var n int64
		if err := s.pool.QueryRow(ctx, t.CountSQL()).Scan(&n); err != nil {
			return nil, fmt.Errorf("postgres: count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}
	return counts, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}
