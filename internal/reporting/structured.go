// internal/reporting/structured.go
package reporting

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonReporter struct {
	w   io.WriteCloser
	enc *jsoniter.Encoder
}

func newJSONReporter(w io.WriteCloser) *jsonReporter {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return &jsonReporter{w: w, enc: enc}
}

func (r *jsonReporter) Write(report *Report) error {
	if err := r.enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode json report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error {
	return r.w.Close()
}

// yamlReporter writes each report as its own YAML document.
type yamlReporter struct {
	w   io.WriteCloser
	enc *yaml.Encoder
}

func newYAMLReporter(w io.WriteCloser) *yamlReporter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &yamlReporter{w: w, enc: enc}
}

func (r *yamlReporter) Write(report *Report) error {
	if err := r.enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode yaml report: %w", err)
	}
	return nil
}

func (r *yamlReporter) Close() error {
	encErr := r.enc.Close()
	if err := r.w.Close(); err != nil {
		return err
	}
	return encErr
}
