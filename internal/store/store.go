package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/attendance"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// RunStatus is the terminal status of a recorded run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded remediation session.
type Run struct {
	ID          uuid.UUID `json:"id" yaml:"id"`
	Period      string    `json:"period" yaml:"period"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
	Status      RunStatus `json:"status" yaml:"status"`
	Corrected   int       `json:"corrected" yaml:"corrected"`
	ScrollSteps int       `json:"scroll_steps" yaml:"scroll_steps"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS remediation_runs (
        id UUID PRIMARY KEY,
        period TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        status TEXT NOT NULL,
        corrected INTEGER NOT NULL,
        scroll_steps INTEGER NOT NULL,
        error TEXT NOT NULL DEFAULT ''
    );`,
	`CREATE TABLE IF NOT EXISTS attendance_rows (
        run_id UUID NOT NULL REFERENCES remediation_runs (id) ON DELETE CASCADE,
        position INTEGER NOT NULL,
        date TEXT NOT NULL,
        day_of_week TEXT NOT NULL,
        start_time TEXT NOT NULL,
        end_time TEXT NOT NULL,
        status TEXT NOT NULL,
        PRIMARY KEY (run_id, position)
    );`,
}

const insertRunSQL = `
        INSERT INTO remediation_runs (id, period, started_at, finished_at, status, corrected, scroll_steps, error)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

const listRunsSQL = `
        SELECT id, period, started_at, finished_at, status, corrected, scroll_steps, error
        FROM remediation_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

var rowColumns = []string{"run_id", "position", "date", "day_of_week", "start_time", "end_time", "status"}

// Store keeps the run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a connection pool for url and wraps it in a Store. The
// returned close function releases the pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveRun records run and the attendance rows captured during it in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run, rows []attendance.Row) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		run.ID.String(), run.Period,
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
		string(run.Status), run.Corrected, run.ScrollSteps, run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(rows) > 0 {
		if err := s.persistRows(ctx, tx, run.ID, rows); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run recorded.", zap.String("run_id", run.ID.String()), zap.Int("rows", len(rows)))
	return nil
}

func (s *Store) persistRows(ctx context.Context, tx pgx.Tx, runID uuid.UUID, rows []attendance.Row) error {
	src := make([][]any, len(rows))
	for i, r := range rows {
		src[i] = []any{runID.String(), i, r.Date, r.DayOfWeek, r.StartTime, r.EndTime, r.Status}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"attendance_rows"}, rowColumns, pgx.CopyFromRows(src))
	if err != nil {
		return fmt.Errorf("failed to copy attendance rows: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied rows count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	rows, err := s.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r      Run
			id     string
			status string
		)
		if err := rows.Scan(&id, &r.Period, &r.StartedAt, &r.FinishedAt, &status, &r.Corrected, &r.ScrollSteps, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid run id %q: %w", id, err)
		}
		r.Status = RunStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
