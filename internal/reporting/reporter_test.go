// internal/reporting/reporter_test.go
package reporting_test

import (
	"bytes"
	stdjson "encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/attendfix/internal/attendance"
	"github.com/xkilldash9x/attendfix/internal/reporting"
	"github.com/xkilldash9x/attendfix/internal/store"
)

// bufferCloser records whether Close was called.
type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func sampleReport() *reporting.Report {
	started := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	return &reporting.Report{
		GeneratedAt: started.Add(5 * time.Minute),
		Run: &store.Run{
			ID:          uuid.MustParse("6f1c2a52-0d7e-4d4b-9a57-1a2b3c4d5e6f"),
			Period:      "previous",
			StartedAt:   started,
			FinishedAt:  started.Add(90 * time.Second),
			Status:      store.RunCompleted,
			Corrected:   3,
			ScrollSteps: 2,
		},
		Rows: []attendance.Row{
			{Date: "09/01", DayOfWeek: "Mon", StartTime: "09:00", EndTime: "18:00", Status: "approved"},
		},
	}
}

func TestNew_Stdout(t *testing.T) {
	for _, path := range []string{"stdout", ""} {
		r, err := reporting.New("json", path)
		require.NoError(t, err)
		assert.NotNil(t, r)
		// Closing the stdout wrapper is a no-op.
		assert.NoError(t, r.Close())
	}
}

func TestNew_File(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "report.yaml")

	r, err := reporting.New("yaml", tmpFile)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	data, err := os.ReadFile(tmpFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "corrected: 3")
}

func TestNew_Failure_UnsupportedFormat(t *testing.T) {
	r, err := reporting.New("sarif", "stdout")
	assert.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "unsupported output format: sarif")

	// The file is created before the format is checked and must be left empty.
	tmpFile := filepath.Join(t.TempDir(), "output.txt")
	r, err = reporting.New("sarif", tmpFile)
	assert.Error(t, err)
	assert.Nil(t, r)
	info, err := os.Stat(tmpFile)
	require.NoError(t, err, "File should still exist after failure")
	assert.Equal(t, int64(0), info.Size())
}

func TestNew_Failure_FileCreation(t *testing.T) {
	// A directory cannot be opened as the output file.
	r, err := reporting.New("json", t.TempDir())
	assert.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	buf := &bufferCloser{}
	r, err := reporting.NewWithWriter(reporting.FormatJSON, buf)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())
	assert.True(t, buf.closed)

	var decoded map[string]any
	require.NoError(t, stdjson.Unmarshal(buf.Bytes(), &decoded))
	run := decoded["run"].(map[string]any)
	assert.Equal(t, "6f1c2a52-0d7e-4d4b-9a57-1a2b3c4d5e6f", run["id"])
	assert.Equal(t, "completed", run["status"])
	assert.EqualValues(t, 3, run["corrected"])
	assert.NotContains(t, run, "error", "empty error is omitted")
	assert.NotContains(t, decoded, "history", "empty history is omitted")
	rows := decoded["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "09/01", rows[0].(map[string]any)["date"])
}

func TestYAMLReporter(t *testing.T) {
	buf := &bufferCloser{}
	r, err := reporting.NewWithWriter(reporting.FormatYAML, buf)
	require.NoError(t, err)
	require.NoError(t, r.Write(sampleReport()))
	require.NoError(t, r.Close())

	var decoded struct {
		Run struct {
			ID     string `yaml:"id"`
			Period string `yaml:"period"`
		} `yaml:"run"`
		Rows []attendance.Row `yaml:"rows"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "6f1c2a52-0d7e-4d4b-9a57-1a2b3c4d5e6f", decoded.Run.ID)
	assert.Equal(t, "previous", decoded.Run.Period)
	assert.Equal(t, sampleReport().Rows, decoded.Rows)
}

func TestTextReporter(t *testing.T) {
	t.Run("run with rows", func(t *testing.T) {
		buf := &bufferCloser{}
		r, err := reporting.NewWithWriter(reporting.FormatText, buf)
		require.NoError(t, err)
		require.NoError(t, r.Write(sampleReport()))

		out := buf.String()
		// Not a terminal, so no escape sequences.
		assert.NotContains(t, out, "\x1b[")
		assert.Contains(t, out, "6f1c2a52-0d7e-4d4b-9a57-1a2b3c4d5e6f completed")
		assert.Contains(t, out, "corrected:    3")
		assert.Contains(t, out, "duration:     1m30s")
		assert.Contains(t, out, "STATUS")
		assert.Contains(t, out, "approved")
		assert.NotContains(t, out, "History")
	})

	t.Run("failed history", func(t *testing.T) {
		buf := &bufferCloser{}
		r, err := reporting.NewWithWriter("", buf)
		require.NoError(t, err)
		run := *sampleReport().Run
		run.Status = store.RunFailed
		run.Error = "scroll budget exhausted"
		require.NoError(t, r.Write(&reporting.Report{History: []store.Run{run}}))

		out := buf.String()
		assert.Contains(t, out, "History")
		assert.Contains(t, out, "failed")
		assert.Contains(t, out, "scroll budget exhausted")
		assert.NotContains(t, out, "Attendance")
	})

	t.Run("empty report", func(t *testing.T) {
		buf := &bufferCloser{}
		r, err := reporting.NewWithWriter(reporting.FormatText, buf)
		require.NoError(t, err)
		require.NoError(t, r.Write(&reporting.Report{}))
		assert.Equal(t, "Nothing to report.", strings.TrimSpace(buf.String()))
	})
}
