// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xkilldash9x/attendfix/internal/attendance"
	"github.com/xkilldash9x/attendfix/internal/store"
)

// Supported output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// Report is what a command has to show. Sections left empty are omitted.
type Report struct {
	GeneratedAt time.Time        `json:"generated_at" yaml:"generated_at"`
	Run         *store.Run       `json:"run,omitempty" yaml:"run,omitempty"`
	Rows        []attendance.Row `json:"rows,omitempty" yaml:"rows,omitempty"`
	History     []store.Run      `json:"history,omitempty" yaml:"history,omitempty"`
}

// Reporter defines the interface for writing reports to an output.
type Reporter interface {
	// Write renders a single report.
	Write(report *Report) error
	// Close finalizes the output and closes any underlying file handle.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
// An empty path or "stdout" writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	r, err := NewWithWriter(format, writer)
	if err != nil && !isStdOut {
		writer.Close()
	}
	return r, err
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case FormatJSON:
		return newJSONReporter(w), nil
	case FormatYAML:
		return newYAMLReporter(w), nil
	case FormatText, "":
		return newTextReporter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
