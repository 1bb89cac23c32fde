// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/attendfix/internal/attendance"
	"github.com/xkilldash9x/attendfix/internal/browser"
	"github.com/xkilldash9x/attendfix/internal/browser/browsertest"
	"github.com/xkilldash9x/attendfix/internal/config"
	"github.com/xkilldash9x/attendfix/internal/store"
)

// -- Test Doubles --

// mockRecorder captures saved runs.
type mockRecorder struct {
	mu   sync.Mutex
	runs []store.Run
	rows [][]attendance.Row
	err  error
}

func (m *mockRecorder) SaveRun(ctx context.Context, run store.Run, rows []attendance.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.runs = append(m.runs, run)
	m.rows = append(m.rows, rows)
	return m.err
}

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Target.LoginURL = "https://app.example.test/ap/login"
	cfg.Target.ContractID = "C-100"
	cfg.Target.AuthID = "worker"
	cfg.Target.Password = "hunter2"
	return cfg
}

type fixture struct {
	orch     *Orchestrator
	page     *browsertest.FakePage
	recorder *mockRecorder
	opened   int
}

func newFixture(t *testing.T, page *browsertest.FakePage, logger *zap.Logger) *fixture {
	t.Helper()
	fx := &fixture{page: page, recorder: &mockRecorder{}}
	pages := func(ctx context.Context) (browser.PageDriver, error) {
		fx.opened++
		return page, nil
	}
	cfg := testConfig()
	orch, err := New(cfg, logger, pages, attendance.NewExtractor(cfg.Selectors.Table, logger), fx.recorder)
	require.NoError(t, err)

	clock := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	orch.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	fx.orch = orch
	return fx
}

// -- Test Cases --

func TestNew(t *testing.T) {
	cfg := testConfig()
	logger := zap.NewNop()
	pages := func(context.Context) (browser.PageDriver, error) { return nil, nil }
	extractor := attendance.NewExtractor("", nil)

	_, err := New(nil, logger, pages, extractor, nil)
	assert.Error(t, err)
	_, err = New(cfg, nil, pages, extractor, nil)
	assert.Error(t, err)
	_, err = New(cfg, logger, nil, extractor, nil)
	assert.Error(t, err)
	_, err = New(cfg, logger, pages, nil, nil)
	assert.Error(t, err)

	o, err := New(cfg, logger, pages, extractor, nil)
	require.NoError(t, err)
	assert.NotNil(t, o, "a nil recorder disables run history")
}

func TestRun_CorrectsCurrentMonth(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(2, 0), 0)
	fx := newFixture(t, page, zaptest.NewLogger(t))

	out, err := fx.orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	// Login sequence.
	cfg := testConfig()
	assert.Equal(t, cfg.Target.LoginURL, page.URL())
	assert.Equal(t, []string{
		"Navigate",
		"WaitForElement:" + browsertest.ContractSelector,
		"TypeText:" + browsertest.ContractSelector,
		"TypeText:" + browsertest.AuthSelector,
		"TypeText:" + browsertest.PasswordSelector,
		"Click:" + browsertest.LoginSubmit,
		"Delay",
	}, page.Calls()[:7])
	assert.Equal(t, "C-100", page.Typed(browsertest.ContractSelector))
	assert.Equal(t, "worker", page.Typed(browsertest.AuthSelector))
	assert.Equal(t, "hunter2", page.Typed(browsertest.PasswordSelector))
	assert.Equal(t, cfg.Timing.PageSettle(), page.Delays()[0])
	assert.Empty(t, page.Period(), "current month never touches the period selector")

	assert.Equal(t, 2, out.Result.Corrected)
	assert.Equal(t, store.RunCompleted, out.Run.Status)
	assert.Equal(t, PeriodCurrent, out.Run.Period)
	assert.Equal(t, 2, out.Run.Corrected)
	assert.True(t, out.Run.FinishedAt.After(out.Run.StartedAt))
	assert.Zero(t, page.RemainingErrors())
	assert.True(t, page.Closed())
	assert.Equal(t, 1, fx.opened)

	require.Len(t, fx.recorder.runs, 1)
	assert.Equal(t, out.Run, fx.recorder.runs[0])
	assert.Nil(t, fx.recorder.rows[0])
}

func TestRun_PreviousMonth(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(1, 0), 0)
	fx := newFixture(t, page, zap.NewNop())

	out, err := fx.orch.Run(context.Background(), Options{PreviousMonth: true})
	require.NoError(t, err)

	assert.Equal(t, "-1", page.Period())
	assert.Equal(t, PeriodPrevious, out.Run.Period)

	settle := testConfig().Timing.PageSettle()
	delays := page.Delays()
	require.GreaterOrEqual(t, len(delays), 3)
	assert.Equal(t, []time.Duration{settle, settle, settle}, delays[:3], "login settle then two period settles")

	calls := page.Calls()
	assert.Equal(t, "WaitForElement:"+browsertest.PeriodSelector, calls[7])
	assert.Equal(t, "SelectOption:"+browsertest.PeriodSelector, calls[8])
	assert.Equal(t, 1, out.Run.Corrected)
}

func TestRun_ExtractsRowsAroundRemediation(t *testing.T) {
	rows := browsertest.ErrorRows(2, 0)
	rows = append(rows, browsertest.Row{Date: "10/03", DayOfWeek: "Wed", Start: "09:00", End: "18:00", Status: "ok"})
	page := browsertest.NewFakePage(rows, 0)
	fx := newFixture(t, page, zap.NewNop())

	out, err := fx.orch.Run(context.Background(), Options{ExtractBefore: true, ExtractAfter: true})
	require.NoError(t, err)

	require.Len(t, out.RowsBefore, 3)
	assert.Equal(t, "error", out.RowsBefore[0].Status)
	assert.Empty(t, out.RowsBefore[0].StartTime)

	require.Len(t, out.RowsAfter, 3)
	for _, r := range out.RowsAfter {
		assert.Equal(t, "ok", r.Status)
		assert.Equal(t, "09:00", r.StartTime)
		assert.Equal(t, "18:00", r.EndTime)
	}
	assert.Equal(t, out.RowsAfter, fx.recorder.rows[0], "the later snapshot is recorded")
}

func TestRun_FailureKeepsProgressAndClosesPage(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(3, 0), 0)
	boom := errors.New("target crashed")
	submits := 0
	page.BeforeCall = func(op string) {
		if op == "Click:"+browsertest.SubmitSelector {
			submits++
			if submits == 2 {
				page.FailOn = map[string]error{op: boom}
			}
		}
	}
	core, logs := observer.New(zapcore.InfoLevel)
	fx := newFixture(t, page, zap.New(core))

	out, err := fx.orch.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, out)

	assert.Equal(t, store.RunFailed, out.Run.Status)
	assert.Equal(t, 1, out.Run.Corrected, "progress before the failure is kept")
	assert.Contains(t, out.Run.Error, "target crashed")
	assert.Zero(t, out.Result.Corrected)
	assert.True(t, page.Closed())

	require.Len(t, fx.recorder.runs, 1)
	assert.Equal(t, store.RunFailed, fx.recorder.runs[0].Status)
	assert.Equal(t, 1, logs.FilterMessage("Update 1 completed.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Session failed.").Len())
}

func TestRun_LoginFailure(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(1, 0), 0)
	page.FailOn = map[string]error{"WaitForElement:" + browsertest.ContractSelector: browser.ErrElementTimeout}
	fx := newFixture(t, page, zap.NewNop())

	out, err := fx.orch.Run(context.Background(), Options{})
	assert.ErrorIs(t, err, browser.ErrElementTimeout)
	assert.Contains(t, err.Error(), "login failed")
	assert.Equal(t, store.RunFailed, out.Run.Status)
	assert.Equal(t, 1, page.RemainingErrors())
	assert.True(t, page.Closed())
}

func TestRun_MissingCredentials(t *testing.T) {
	page := browsertest.NewFakePage(nil, 0)
	fx := newFixture(t, page, zap.NewNop())
	fx.orch.cfg.Target.Password = ""

	out, err := fx.orch.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "target.password")
	assert.Zero(t, fx.opened, "no page is opened without credentials")
	assert.Empty(t, fx.recorder.runs)
}

func TestRun_PageSourceFailure(t *testing.T) {
	launchErr := errors.New("chrome not found")
	cfg := testConfig()
	rec := &mockRecorder{}
	orch, err := New(cfg, zap.NewNop(),
		func(context.Context) (browser.PageDriver, error) { return nil, launchErr },
		attendance.NewExtractor("", nil), rec)
	require.NoError(t, err)

	out, err := orch.Run(context.Background(), Options{})
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, store.RunFailed, out.Run.Status)
	require.Len(t, rec.runs, 1)
}

func TestRun_CancelledContextStillRecords(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(1, 0), 0)
	fx := newFixture(t, page, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := fx.orch.Run(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, store.RunFailed, out.Run.Status)
	assert.True(t, page.Closed())
	require.Len(t, fx.recorder.runs, 1, "recording outlives the cancelled run")
}

func TestRun_RecorderFailureIsLogged(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(1, 0), 0)
	core, logs := observer.New(zapcore.WarnLevel)
	fx := newFixture(t, page, zap.New(core))
	fx.recorder.err = errors.New("database unavailable")

	out, err := fx.orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, out.Run.Status)
	assert.Equal(t, 1, logs.FilterMessage("Failed to record run.").Len())
}

func TestRun_NoRecorder(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(1, 0), 0)
	cfg := testConfig()
	orch, err := New(cfg, zap.NewNop(),
		func(context.Context) (browser.PageDriver, error) { return page, nil },
		attendance.NewExtractor("", nil), nil)
	require.NoError(t, err)

	out, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Run.Corrected)
}

func TestExtractRows(t *testing.T) {
	page := browsertest.NewFakePage(browsertest.ErrorRows(2, 0), 0)
	fx := newFixture(t, page, zap.NewNop())

	rows, err := fx.orch.ExtractRows(context.Background(), Options{PreviousMonth: true})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "-1", page.Period())
	assert.Zero(t, page.CountCalls("ClickElement"), "extraction never opens a correction form")
	assert.Equal(t, 2, page.RemainingErrors())
	assert.True(t, page.Closed())
	assert.Empty(t, fx.recorder.runs)
}
