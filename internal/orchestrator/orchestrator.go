// File: internal/orchestrator/orchestrator.go
// Description: Runs one attendance session end to end. It is injected with a
// page source, a row extractor and an optional run recorder, and builds the
// remediation loop from configuration.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/attendance"
	"github.com/xkilldash9x/attendfix/internal/browser"
	"github.com/xkilldash9x/attendfix/internal/config"
	"github.com/xkilldash9x/attendfix/internal/remediation"
	"github.com/xkilldash9x/attendfix/internal/store"
)

const (
	PeriodCurrent  = "current"
	PeriodPrevious = "previous"

	cleanupTimeout = 10 * time.Second
)

// PageSource opens the page a session runs on.
type PageSource func(ctx context.Context) (browser.PageDriver, error)

// RowExtractor reads the attendance table.
type RowExtractor interface {
	ExtractRows(ctx context.Context, page browser.PageDriver) ([]attendance.Row, error)
}

// Recorder persists finished runs.
type Recorder interface {
	SaveRun(ctx context.Context, run store.Run, rows []attendance.Row) error
}

// Options select what a single session does besides remediation.
type Options struct {
	PreviousMonth bool
	ExtractBefore bool
	ExtractAfter  bool
}

func (o Options) period() string {
	if o.PreviousMonth {
		return PeriodPrevious
	}
	return PeriodCurrent
}

// Outcome is everything a Run produced. It is returned even when the run
// fails, carrying the progress made before the failure.
type Outcome struct {
	Run        store.Run
	Result     remediation.Result
	RowsBefore []attendance.Row
	RowsAfter  []attendance.Row
}

// Orchestrator manages the lifecycle of one attendance session.
type Orchestrator struct {
	cfg       *config.Config
	logger    *zap.Logger
	pages     PageSource
	extractor RowExtractor
	recorder  Recorder
	now       func() time.Time
}

// New creates a new Orchestrator. recorder may be nil to disable run history.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	pages PageSource,
	extractor RowExtractor,
	recorder Recorder,
) (*Orchestrator, error) {
	if cfg == nil ||
		logger == nil ||
		pages == nil ||
		extractor == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		pages:     pages,
		extractor: extractor,
		recorder:  recorder,
		now:       time.Now,
	}, nil
}

// Run logs in, optionally switches to the previous month, corrects every
// error row and records the run. The page is closed on every path.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Outcome, error) {
	if err := o.cfg.Target.RequireCredentials(); err != nil {
		return nil, err
	}
	loop, corrected, err := o.newLoop()
	if err != nil {
		return nil, err
	}

	out := &Outcome{Run: store.Run{
		ID:        uuid.New(),
		Period:    opts.period(),
		StartedAt: o.now(),
	}}
	o.logger.Info("Session starting.", zap.String("run_id", out.Run.ID.String()), zap.String("period", out.Run.Period))

	runErr := o.withSession(ctx, opts, func(page browser.PageDriver) error {
		if opts.ExtractBefore {
			rows, err := o.extractor.ExtractRows(ctx, page)
			if err != nil {
				return fmt.Errorf("extracting rows before remediation: %w", err)
			}
			out.RowsBefore = rows
		}

		res, err := loop.Remediate(ctx, page)
		if err != nil {
			return fmt.Errorf("remediation failed: %w", err)
		}
		out.Result = res

		if opts.ExtractAfter {
			rows, err := o.extractor.ExtractRows(ctx, page)
			if err != nil {
				return fmt.Errorf("extracting rows after remediation: %w", err)
			}
			out.RowsAfter = rows
		}
		return nil
	})

	out.Run.FinishedAt = o.now()
	if runErr != nil {
		out.Run.Status = store.RunFailed
		out.Run.Corrected = *corrected
		out.Run.Error = runErr.Error()
		o.logger.Error("Session failed.", zap.Int("corrected", *corrected), zap.Error(runErr))
	} else {
		out.Run.Status = store.RunCompleted
		out.Run.Corrected = out.Result.Corrected
		out.Run.ScrollSteps = out.Result.ScrollSteps
		o.logger.Info("Session finished.", zap.Int("corrected", out.Result.Corrected))
	}

	o.record(ctx, out)
	return out, runErr
}

// ExtractRows logs in, optionally switches to the previous month and reads
// the attendance table without changing anything.
func (o *Orchestrator) ExtractRows(ctx context.Context, opts Options) ([]attendance.Row, error) {
	if err := o.cfg.Target.RequireCredentials(); err != nil {
		return nil, err
	}
	var rows []attendance.Row
	err := o.withSession(ctx, opts, func(page browser.PageDriver) error {
		var err error
		rows, err = o.extractor.ExtractRows(ctx, page)
		return err
	})
	return rows, err
}

func (o *Orchestrator) newLoop() (*remediation.Loop, *int, error) {
	corrected := new(int)
	loop, err := remediation.New(
		remediation.PolicyFromConfig(o.cfg.Remediation, o.cfg.Timing),
		remediation.SelectorsFromConfig(o.cfg.Selectors),
		remediation.WithLogger(o.logger),
		remediation.WithOnCorrected(func(count int) {
			*corrected = count
			o.logger.Info(fmt.Sprintf("Update %d completed.", count))
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	return loop, corrected, nil
}

// withSession opens a page, logs in, selects the period and runs fn.
func (o *Orchestrator) withSession(ctx context.Context, opts Options, fn func(browser.PageDriver) error) error {
	page, err := o.pages(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupTimeout)
		defer cancel()
		if err := page.Close(closeCtx); err != nil {
			o.logger.Warn("Failed to close page.", zap.Error(err))
		}
	}()

	if err := o.login(ctx, page); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if opts.PreviousMonth {
		if err := o.selectPreviousMonth(ctx, page); err != nil {
			return fmt.Errorf("switching to previous month: %w", err)
		}
	}
	return fn(page)
}

func (o *Orchestrator) login(ctx context.Context, page browser.PageDriver) error {
	target, sel := o.cfg.Target, o.cfg.Selectors
	o.logger.Info("Logging in.", zap.String("url", target.LoginURL))

	if err := page.Navigate(ctx, target.LoginURL); err != nil {
		return err
	}
	if _, err := page.WaitForElement(ctx, sel.ContractID, browser.WaitOptions{Visible: true, Timeout: o.cfg.Network.NavigationTimeout}); err != nil {
		return err
	}
	fields := []struct{ selector, value string }{
		{sel.ContractID, target.ContractID},
		{sel.AuthID, target.AuthID},
		{sel.Password, target.Password},
	}
	for _, f := range fields {
		if err := page.TypeText(ctx, f.selector, f.value); err != nil {
			return err
		}
	}
	if err := page.Click(ctx, sel.LoginSubmit); err != nil {
		return err
	}
	return page.Delay(ctx, o.cfg.Timing.PageSettle())
}

func (o *Orchestrator) selectPreviousMonth(ctx context.Context, page browser.PageDriver) error {
	sel := o.cfg.Selectors
	if _, err := page.WaitForElement(ctx, sel.PeriodSelect, browser.WaitOptions{Timeout: o.cfg.Network.NavigationTimeout}); err != nil {
		return err
	}
	if err := page.SelectOption(ctx, sel.PeriodSelect, sel.PreviousPeriod); err != nil {
		return err
	}
	// Two settle delays, the period change reloads the page.
	for i := 0; i < 2; i++ {
		if err := page.Delay(ctx, o.cfg.Timing.PageSettle()); err != nil {
			return err
		}
	}
	o.logger.Info("Switched to previous month.")
	return nil
}

// record stores the run. Failures are logged and never mask the run's own result.
func (o *Orchestrator) record(ctx context.Context, out *Outcome) {
	if o.recorder == nil {
		return
	}
	rows := out.RowsAfter
	if rows == nil {
		rows = out.RowsBefore
	}
	recordCtx, cancel := context.WithTimeout(browser.Detach(ctx), cleanupTimeout)
	defer cancel()
	if err := o.recorder.SaveRun(recordCtx, out.Run, rows); err != nil {
		o.logger.Warn("Failed to record run.", zap.String("run_id", out.Run.ID.String()), zap.Error(err))
	}
}
