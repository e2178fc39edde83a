// Package runlog keeps a SQLite ledger of routine runs: when each routine
// started and finished, how much it scraped and why it failed.
package runlog

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Custom errors for run operations
var (
	ErrRunNotFound      = errors.New("run not found")
	ErrRunFinished      = errors.New("run already finished")
	ErrInvalidRunStatus = errors.New("status must be running, succeeded or failed")
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store manages the run history using SQLite.
type Store struct {
	db *sql.DB
}

// Counts is what a routine produced.
type Counts struct {
	Pages      int `json:"pages"`
	Containers int `json:"containers"`
	Rows       int `json:"rows"`
	Downloads  int `json:"downloads"`
}

// Run is one execution of one routine.
type Run struct {
	RunID      uuid.UUID  `json:"run_id"`
	File       string     `json:"file"`
	Routine    string     `json:"routine"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counts     Counts     `json:"counts"`
	Error      *string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunFilter represents filtering options for listing runs.
type RunFilter struct {
	Routine *string // Filter by routine name
	Status  *string // Filter by status
	Limit   int     // Pagination limit
	Offset  int     // Pagination offset
}

// NewStore creates a new run store with the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the runs table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		file TEXT NOT NULL,
		routine TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		pages INTEGER DEFAULT 0,
		containers INTEGER DEFAULT 0,
		rows_written INTEGER DEFAULT 0,
		downloads INTEGER DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun records a routine as running.
func (s *Store) StartRun(file, routine string) (*Run, error) {
	run := &Run{
		RunID:     uuid.New(),
		File:      file,
		Routine:   routine,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	query := `
		INSERT INTO runs (run_id, file, routine, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		run.RunID.String(),
		run.File,
		run.Routine,
		run.Status,
		formatTime(&run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	return run, nil
}

// FinishRun records the outcome of a running run. A nil runErr marks it
// succeeded.
func (s *Store) FinishRun(runID uuid.UUID, counts Counts, runErr error) error {
	status := StatusSucceeded
	var errText *string
	if runErr != nil {
		status = StatusFailed
		msg := runErr.Error()
		errText = &msg
	}
	now := time.Now()

	query := `
		UPDATE runs
		SET status = ?, finished_at = ?, pages = ?, containers = ?,
		    rows_written = ?, downloads = ?, error = ?
		WHERE run_id = ? AND status = ?
	`
	result, err := s.db.Exec(query,
		status,
		formatTime(&now),
		counts.Pages,
		counts.Containers,
		counts.Rows,
		counts.Downloads,
		errText,
		runID.String(),
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.GetRun(runID); err != nil {
			return err
		}
		return ErrRunFinished
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(runID uuid.UUID) (*Run, error) {
	query := `
		SELECT run_id, file, routine, status, started_at, finished_at,
		       pages, containers, rows_written, downloads, error
		FROM runs
		WHERE run_id = ?
	`

	run, err := scanRun(s.db.QueryRow(query, runID.String()))
	if err == sql.ErrNoRows {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	return run, nil
}

// whereClause builds the WHERE clause shared by ListRuns and CountRuns.
func whereClause(filter RunFilter) (string, []any, error) {
	var conditions []string
	var args []any

	if filter.Routine != nil {
		conditions = append(conditions, "routine = ?")
		args = append(args, *filter.Routine)
	}
	if filter.Status != nil {
		switch *filter.Status {
		case StatusRunning, StatusSucceeded, StatusFailed:
		default:
			return "", nil, ErrInvalidRunStatus
		}
		conditions = append(conditions, "status = ?")
		args = append(args, *filter.Status)
	}

	if len(conditions) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// CountRuns returns the number of runs matching filter, ignoring its
// pagination.
func (s *Store) CountRuns(filter RunFilter) (int, error) {
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM runs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

// ListRuns returns runs, most recent first.
func (s *Store) ListRuns(filter RunFilter) ([]Run, error) {
	query := `
		SELECT run_id, file, routine, status, started_at, finished_at,
		       pages, containers, rows_written, downloads, error
		FROM runs
	`

	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	query += where + " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var runIDStr, file, routine, status, startedAtStr string
	var finishedAtStr, errText sql.NullString
	var counts Counts

	err := row.Scan(
		&runIDStr, &file, &routine, &status, &startedAtStr, &finishedAtStr,
		&counts.Pages, &counts.Containers, &counts.Rows, &counts.Downloads, &errText,
	)
	if err != nil {
		return nil, err
	}

	runID, err := uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid run_id %q: %w", runIDStr, err)
	}

	run := &Run{
		RunID:     runID,
		File:      file,
		Routine:   routine,
		Status:    status,
		StartedAt: parseTime(startedAtStr),
		Counts:    counts,
	}
	if finishedAtStr.Valid {
		t := parseTime(finishedAtStr.String)
		run.FinishedAt = &t
	}
	if errText.Valid {
		run.Error = &errText.String
	}

	return run, nil
}

// timeLayout keeps every fractional digit so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	// Strip monotonic clock for consistent storage and comparisons
	return t.Truncate(0).UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	// Try RFC3339Nano first, fall back to RFC3339 for compatibility
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
