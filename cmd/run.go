package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/orchestrator"
	"github.com/xkilldash9x/attendfix/internal/reporting"
)

func newRunCmd(a *app) *cobra.Command {
	var reportRows bool

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Log in and correct every flagged attendance row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensurePassword(); err != nil {
				return err
			}

			sess, err := a.openSession(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer sess.shutdown()

			out, runErr := sess.orch.Run(ctx, orchestrator.Options{
				PreviousMonth: a.cfg.Session.PreviousMonth,
				ExtractAfter:  reportRows,
			})
			if out != nil {
				report := &reporting.Report{GeneratedAt: time.Now(), Run: &out.Run, Rows: out.RowsAfter}
				if err := a.writeReport(report); err != nil {
					a.logger.Error("Failed to write report", zap.Error(err))
					if runErr == nil {
						runErr = err
					}
				}
			}
			if errors.Is(runErr, context.Canceled) {
				a.logger.Warn("Run aborted.")
			}
			return runErr
		},
	}

	runCmd.Flags().Bool("prev-month", false, "Correct the previous month instead of the current one. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	runCmd.Flags().StringP("output", "o", "", "Output file path for the report (default stdout).")
	runCmd.Flags().StringP("format", "f", "text", "Report format: text, json or yaml.")
	runCmd.Flags().BoolVar(&reportRows, "report-rows", false, "Include the attendance table after remediation in the report.")
	return runCmd
}

func newRowsCmd(a *app) *cobra.Command {
	rowsCmd := &cobra.Command{
		Use:   "rows",
		Short: "Log in and print the attendance table without changing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.ensurePassword(); err != nil {
				return err
			}

			sess, err := a.openSession(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer sess.shutdown()

			rows, err := sess.orch.ExtractRows(ctx, orchestrator.Options{PreviousMonth: a.cfg.Session.PreviousMonth})
			if err != nil {
				return err
			}
			return a.writeReport(&reporting.Report{GeneratedAt: time.Now(), Rows: rows})
		},
	}

	rowsCmd.Flags().Bool("prev-month", false, "Read the previous month. (Overrides config/env)")
	rowsCmd.Flags().Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	rowsCmd.Flags().StringP("output", "o", "", "Output file path for the report (default stdout).")
	rowsCmd.Flags().StringP("format", "f", "text", "Report format: text, json or yaml.")
	return rowsCmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, closeFn, err := a.openHistory(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := src.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			return a.writeReport(&reporting.Report{GeneratedAt: time.Now(), History: runs})
		},
	}

	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list.")
	historyCmd.Flags().StringP("output", "o", "", "Output file path for the report (default stdout).")
	historyCmd.Flags().StringP("format", "f", "text", "Report format: text, json or yaml.")
	return historyCmd
}

func (a *app) writeReport(report *reporting.Report) error {
	reporter, err := reporting.New(a.cfg.Report.Format, a.cfg.Report.Output)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return reporter.Close()
}
