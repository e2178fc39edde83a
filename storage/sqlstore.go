package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pevans/scrapectl/scraper"
)

// SQLStore is a Store on top of database/sql, shared by the backends whose
// drivers register with database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and pings a database/sql connection. label names the backend
// in connectivity errors.
func OpenSQL(ctx context.Context, label, driverName, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, &scraper.ConnectivityError{Driver: label, Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &scraper.ConnectivityError{Driver: label, Err: err}
	}
	return &SQLStore{db: db, driver: label}, nil
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// RowCount returns SELECT COUNT(*) for table.
func (s *SQLStore) RowCount(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return n, nil
}

// Insert executes statement in its own transaction.
func (s *SQLStore) Insert(ctx context.Context, statement string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, statement); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to insert row: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit row: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
