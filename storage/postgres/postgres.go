// Package postgres registers the "postgres" storage driver backed by a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pevans/scrapectl/scraper"
	"github.com/pevans/scrapectl/storage"
)

// Driver is the settings value selecting this backend.
const Driver = "postgres"

func init() {
	storage.Register(Driver, Open)
}

// Store implements storage.Store for Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a pool and pings the server. Server-side rejections (bad
// password, unknown database) carry the server's message as the reason.
func Open(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, connectivityError(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, connectivityError(err)
	}
	return &Store{pool: pool}, nil
}

func connectivityError(err error) *scraper.ConnectivityError {
	cerr := &scraper.ConnectivityError{Driver: Driver, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		cerr.Reason = pgErr.Message
	}
	return cerr
}

// RowCount returns SELECT COUNT(*) for table.
func (s *Store) RowCount(ctx context.Context, table string) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return int(n), nil
}

// Insert executes statement in its own transaction.
func (s *Store) Insert(ctx context.Context, statement string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, statement); err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit row: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
