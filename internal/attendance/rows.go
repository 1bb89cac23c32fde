// internal/attendance/rows.go
package attendance

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/attendfix/internal/browser"
)

// DefaultTableSelector locates the attendance table of the production application.
const DefaultTableSelector = "table.attendance-table"

const defaultTableTimeout = 10 * time.Second

// Row is one day of the attendance table as rendered.
type Row struct {
	Date      string `json:"date" yaml:"date"`
	DayOfWeek string `json:"day_of_week" yaml:"day_of_week"`
	StartTime string `json:"start_time" yaml:"start_time"`
	EndTime   string `json:"end_time" yaml:"end_time"`
	Status    string `json:"status" yaml:"status"`
}

// classXPath matches a td carrying class among its class tokens.
func classXPath(class string) string {
	return fmt.Sprintf(".//td[contains(concat(' ', normalize-space(@class), ' '), ' %s ')]", class)
}

var (
	dateCell      = classXPath("date-cell")
	dayOfWeekCell = classXPath("day-of-week-cell")
	startTimeCell = classXPath("start-time-cell")
	endTimeCell   = classXPath("end-time-cell")
	statusCell    = classXPath("status-cell")
)

// ParseRows reads every body row of an attendance table. A row missing one
// of the known cells yields an empty string for that field.
func ParseRows(r io.Reader) ([]Row, error) {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing attendance table: %w", err)
	}
	trs, err := htmlquery.QueryAll(doc, "//tbody/tr")
	if err != nil {
		return nil, fmt.Errorf("querying attendance rows: %w", err)
	}

	rows := make([]Row, 0, len(trs))
	for _, tr := range trs {
		rows = append(rows, Row{
			Date:      cellText(tr, dateCell),
			DayOfWeek: cellText(tr, dayOfWeekCell),
			StartTime: cellText(tr, startTimeCell),
			EndTime:   cellText(tr, endTimeCell),
			Status:    cellText(tr, statusCell),
		})
	}
	return rows, nil
}

func cellText(tr *html.Node, expr string) string {
	n := htmlquery.FindOne(tr, expr)
	if n == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.InnerText(n))
}

// Extractor reads the attendance table from a live page. It never mutates
// the page.
type Extractor struct {
	tableSelector string
	timeout       time.Duration
	logger        *zap.Logger
}

// NewExtractor creates an Extractor for the table matched by tableSelector.
// An empty selector falls back to DefaultTableSelector.
func NewExtractor(tableSelector string, logger *zap.Logger) *Extractor {
	if tableSelector == "" {
		tableSelector = DefaultTableSelector
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		tableSelector: tableSelector,
		timeout:       defaultTableTimeout,
		logger:        logger.Named("attendance"),
	}
}

// ExtractRows waits for the attendance table and returns its rows.
func (e *Extractor) ExtractRows(ctx context.Context, page browser.PageDriver) ([]Row, error) {
	if _, err := page.WaitForElement(ctx, e.tableSelector, browser.WaitOptions{Timeout: e.timeout}); err != nil {
		return nil, fmt.Errorf("waiting for attendance table: %w", err)
	}
	markup, err := page.OuterHTML(ctx, e.tableSelector)
	if err != nil {
		return nil, fmt.Errorf("reading attendance table: %w", err)
	}
	rows, err := ParseRows(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Attendance rows extracted.", zap.Int("count", len(rows)))
	if len(rows) > 0 {
		e.logger.Debug("First attendance row.",
			zap.String("date", rows[0].Date),
			zap.String("day_of_week", rows[0].DayOfWeek),
			zap.String("start_time", rows[0].StartTime),
			zap.String("end_time", rows[0].EndTime),
			zap.String("status", rows[0].Status))
	}
	return rows, nil
}
