package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/attendfix/internal/attendance"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

func utcTime(want time.Time) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		got, ok := v.(time.Time)
		return ok && got.Location() == time.UTC && got.Equal(want)
	}
}

func newTestStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return s, mockPool
}

func sampleRun(t *testing.T) Run {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, loc)
	return Run{
		ID:          uuid.New(),
		Period:      "current",
		StartedAt:   started,
		FinishedAt:  started.Add(3 * time.Minute),
		Status:      RunCompleted,
		Corrected:   2,
		ScrollSteps: 4,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("creates both tables", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		for _, stmt := range schema {
			mockPool.ExpectExec(flexibleSQLMatcher(stmt)).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		}

		require.NoError(t, s.EnsureSchema(ctx))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("stops at the first failure", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		execErr := errors.New("permission denied")
		mockPool.ExpectExec(flexibleSQLMatcher(schema[0])).WillReturnError(execErr)

		err := s.EnsureSchema(ctx)
		assert.ErrorIs(t, err, execErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestSaveRun(t *testing.T) {
	ctx := context.Background()
	rows := []attendance.Row{
		{Date: "10/01", DayOfWeek: "Wed", StartTime: "09:00", EndTime: "18:00", Status: "approved"},
		{Date: "10/02", DayOfWeek: "Thu", StartTime: "09:00", EndTime: "18:00", Status: "pending"},
	}

	t.Run("should persist run and rows without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newTestStore(t, zap.New(observedZapCore))
		run := sampleRun(t)

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				run.ID.String(), "current",
				utcTime(run.StartedAt), utcTime(run.FinishedAt),
				"completed", 2, 4, "",
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"attendance_rows"}, rowColumns).WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run, rows))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should record a failed run without rows", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun(t)
		run.Status = RunFailed
		run.Corrected = 0
		run.Error = "waiting for first error cell: page closed"

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WithArgs(
				run.ID.String(), "current",
				utcTime(run.StartedAt), utcTime(run.FinishedAt),
				"failed", 0, 4, run.Error,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveRun(ctx, run, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should handle transaction begin failure", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		beginErr := errors.New("cannot begin tx")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := s.SaveRun(ctx, sampleRun(t), rows)
		assert.ErrorIs(t, err, beginErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should rollback if copying rows fails", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		run := sampleRun(t)
		copyErr := errors.New("copy from failed")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"attendance_rows"}, rowColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, run, rows)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should reject a short copy", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"attendance_rows"}, rowColumns).WillReturnResult(1)
		mockPool.ExpectRollback()

		err := s.SaveRun(ctx, sampleRun(t), rows)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 2, got 1")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should log a failing rollback", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newTestStore(t, zap.New(observedZapCore))
		insertErr := errors.New("duplicate key")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertRunSQL)).WillReturnError(insertErr)
		mockPool.ExpectRollback().WillReturnError(errors.New("connection reset"))

		err := s.SaveRun(ctx, sampleRun(t), nil)
		assert.ErrorIs(t, err, insertErr)
		assert.Equal(t, 1, observedLogs.FilterMessage("Failed to rollback transaction").Len())
	})
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "period", "started_at", "finished_at", "status", "corrected", "scroll_steps", "error"}

	t.Run("returns runs in query order", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		newer, older := uuid.New(), uuid.New()
		at := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

		mockPool.ExpectQuery(flexibleSQLMatcher(listRunsSQL)).
			WithArgs(10).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow(newer.String(), "previous", at, at.Add(time.Minute), "failed", 1, 0, "boom").
				AddRow(older.String(), "current", at.Add(-24*time.Hour), at.Add(-24*time.Hour+time.Minute), "completed", 3, 2, ""))

		runs, err := s.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, newer, runs[0].ID)
		assert.Equal(t, RunFailed, runs[0].Status)
		assert.Equal(t, "boom", runs[0].Error)
		assert.Equal(t, older, runs[1].ID)
		assert.Equal(t, 3, runs[1].Corrected)
		assert.Equal(t, 2, runs[1].ScrollSteps)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects a non-positive limit", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		_, err := s.ListRuns(ctx, 0)
		assert.Error(t, err)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("propagates query errors", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		queryErr := errors.New("relation does not exist")
		mockPool.ExpectQuery(flexibleSQLMatcher(listRunsSQL)).WithArgs(5).WillReturnError(queryErr)

		_, err := s.ListRuns(ctx, 5)
		assert.ErrorIs(t, err, queryErr)
	})

	t.Run("rejects a malformed id", func(t *testing.T) {
		s, mockPool := newTestStore(t, zap.NewNop())
		mockPool.ExpectQuery(flexibleSQLMatcher(listRunsSQL)).
			WithArgs(1).
			WillReturnRows(pgxmock.NewRows(columns).
				AddRow("not-a-uuid", "current", time.Now(), time.Now(), "completed", 0, 0, ""))

		_, err := s.ListRuns(ctx, 1)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid run id")
	})
}
