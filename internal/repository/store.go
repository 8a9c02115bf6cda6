// Package repository implements the store contracts on PostgreSQL.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/simonkvalheim/hm9-backoffice/internal/logging"
	"github.com/simonkvalheim/hm9-backoffice/internal/metrics"
	"github.com/simonkvalheim/hm9-backoffice/internal/model"
	"github.com/simonkvalheim/hm9-backoffice/internal/store"
)

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds store settings
type Config struct {
	// Timeout bounds every unit of work, lock waits included
	Timeout time.Duration
	Breaker BreakerConfig
	Logger  *zap.Logger
	Metrics metrics.Recorder
}

// DefaultConfig returns the default store settings
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Breaker: DefaultBreakerConfig(),
	}
}

// Store is the PostgreSQL implementation of store.Store
type Store struct {
	db      *pgxpool.Pool
	timeout time.Duration
	breaker *Breaker
	logger  *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New creates a new Store on an open pool
func New(db *pgxpool.Pool, cfg Config) *Store {
	logger := logging.OrNop(cfg.Logger).Named("repository")
	return &Store{
		db:      db,
		timeout: cfg.Timeout,
		breaker: NewBreaker("postgres", cfg.Breaker, logger, cfg.Metrics),
		logger:  logger,
	}
}

// Connect opens a pool and verifies it with a ping
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// RunInTx runs fn in a database transaction. Row locks taken through tx are
// released on commit or rollback.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.breaker.Run(func() error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		dbTx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return storageError("begin transaction", err)
		}
		defer dbTx.Rollback(ctx)

		if err := fn(ctx, &tx{q: dbTx}); err != nil {
			return err
		}

		if err := dbTx.Commit(ctx); err != nil {
			return storageError("commit transaction", err)
		}
		return nil
	})
}

// tx implements store.Tx on an open pgx transaction
type tx struct {
	q pgx.Tx
}

// storageError marks err as a transient storage failure
func storageError(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", model.ErrStorageUnavailable, op, err)
}

// isUniqueViolation checks if the error is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// constraintName returns the violated constraint, if any
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// isCheckViolation checks if the error is a CHECK constraint violation
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
