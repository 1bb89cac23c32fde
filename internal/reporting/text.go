// internal/reporting/text.go
package reporting

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/xkilldash9x/attendfix/internal/store"
)

// textReporter renders reports for a human. Colour is only emitted when the
// writer is a terminal.
type textReporter struct {
	w io.WriteCloser

	title lipgloss.Style
	muted lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
}

func newTextReporter(w io.WriteCloser) *textReporter {
	re := lipgloss.NewRenderer(w)
	return &textReporter{
		w:     w,
		title: re.NewStyle().Foreground(lipgloss.Color("#74c7ec")).Bold(true),
		muted: re.NewStyle().Foreground(lipgloss.Color("#a6adc8")),
		good:  re.NewStyle().Foreground(lipgloss.Color("#a6e3a1")).Bold(true),
		bad:   re.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true),
	}
}

func (r *textReporter) Write(report *Report) error {
	var sections []string
	if report.Run != nil {
		sections = append(sections, r.renderRun(report.Run))
	}
	if len(report.Rows) > 0 {
		rows := make([][]string, len(report.Rows))
		for i, row := range report.Rows {
			rows[i] = []string{row.Date, row.DayOfWeek, row.StartTime, row.EndTime, row.Status}
		}
		sections = append(sections,
			r.title.Render("Attendance")+"\n"+renderTable([]string{"DATE", "DAY", "START", "END", "STATUS"}, rows))
	}
	if len(report.History) > 0 {
		rows := make([][]string, len(report.History))
		for i, run := range report.History {
			rows[i] = []string{
				run.StartedAt.Local().Format(time.DateTime),
				run.Period,
				string(run.Status),
				strconv.Itoa(run.Corrected),
				run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String(),
				run.Error,
			}
		}
		sections = append(sections,
			r.title.Render("History")+"\n"+renderTable([]string{"STARTED", "PERIOD", "STATUS", "CORRECTED", "DURATION", "ERROR"}, rows))
	}
	if len(sections) == 0 {
		sections = append(sections, r.muted.Render("Nothing to report."))
	}

	if _, err := io.WriteString(r.w, strings.Join(sections, "\n\n")+"\n"); err != nil {
		return fmt.Errorf("failed to write text report: %w", err)
	}
	return nil
}

func (r *textReporter) renderRun(run *store.Run) string {
	status := r.good.Render(string(run.Status))
	if run.Status != store.RunCompleted {
		status = r.bad.Render(string(run.Status))
	}
	lines := []string{
		r.title.Render("Run") + " " + r.muted.Render(run.ID.String()) + " " + status,
		fmt.Sprintf("  period:       %s", run.Period),
		fmt.Sprintf("  corrected:    %d", run.Corrected),
		fmt.Sprintf("  scroll steps: %d", run.ScrollSteps),
		fmt.Sprintf("  duration:     %s", run.FinishedAt.Sub(run.StartedAt).Round(time.Second)),
	}
	if run.Error != "" {
		lines = append(lines, "  error:        "+r.bad.Render(run.Error))
	}
	return strings.Join(lines, "\n")
}

func renderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		Render()
}

func (r *textReporter) Close() error {
	return r.w.Close()
}
