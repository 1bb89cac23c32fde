// internal/remediation/policy.go
package remediation

import (
	"fmt"
	"time"

	"github.com/xkilldash9x/attendfix/internal/config"
)

// Correction defaults applied uniformly to every flagged row.
const (
	DefaultStartTime       = "09:00"
	DefaultEndTime         = "18:00"
	RegularAttendanceValue = "1"
	DefaultScrollStep      = 200.0
)

// Wait bounds and settle delays.
const (
	DefaultFirstCellTimeout = 5 * time.Second
	DefaultRevealTimeout    = 3 * time.Second
	DefaultFormTimeout      = 5 * time.Second
	DefaultInteractionDelay = 500 * time.Millisecond
	DefaultPageSettleDelay  = 2 * time.Second
)

// Policy is the correction policy and pacing of a Loop.
type Policy struct {
	StartTime     string
	EndTime       string
	CategoryValue string
	ScrollStep    float64

	FirstCellTimeout time.Duration
	RevealTimeout    time.Duration
	FormTimeout      time.Duration

	InteractionDelay time.Duration
	PageSettleDelay  time.Duration

	// MaxFruitlessScrolls caps consecutive scroll steps that moved the page
	// without revealing an error cell. Zero leaves the loop unbounded.
	MaxFruitlessScrolls int
}

// DefaultPolicy returns the stock correction policy.
func DefaultPolicy() Policy {
	return Policy{
		StartTime:        DefaultStartTime,
		EndTime:          DefaultEndTime,
		CategoryValue:    RegularAttendanceValue,
		ScrollStep:       DefaultScrollStep,
		FirstCellTimeout: DefaultFirstCellTimeout,
		RevealTimeout:    DefaultRevealTimeout,
		FormTimeout:      DefaultFormTimeout,
		InteractionDelay: DefaultInteractionDelay,
		PageSettleDelay:  DefaultPageSettleDelay,
	}
}

// PolicyFromConfig maps the remediation and timing configuration onto a Policy.
func PolicyFromConfig(rc config.RemediationConfig, tc config.TimingConfig) Policy {
	return Policy{
		StartTime:           rc.StartTime,
		EndTime:             rc.EndTime,
		CategoryValue:       rc.CategoryValue,
		ScrollStep:          rc.ScrollStep,
		FirstCellTimeout:    rc.FirstCellTimeout,
		RevealTimeout:       rc.RevealTimeout,
		FormTimeout:         rc.FormTimeout,
		InteractionDelay:    tc.Interaction(),
		PageSettleDelay:     tc.PageSettle(),
		MaxFruitlessScrolls: rc.MaxFruitlessScrolls,
	}
}

func (p Policy) validate() error {
	switch {
	case p.StartTime == "" || p.EndTime == "":
		return fmt.Errorf("start and end times are required")
	case p.CategoryValue == "":
		return fmt.Errorf("category value is required")
	case p.ScrollStep <= 0:
		return fmt.Errorf("scroll step must be positive, got %v", p.ScrollStep)
	case p.FirstCellTimeout <= 0 || p.RevealTimeout <= 0 || p.FormTimeout <= 0:
		return fmt.Errorf("wait timeouts must be positive")
	case p.InteractionDelay < 0 || p.PageSettleDelay < 0:
		return fmt.Errorf("settle delays cannot be negative")
	case p.MaxFruitlessScrolls < 0:
		return fmt.Errorf("max fruitless scrolls cannot be negative")
	}
	return nil
}

// FormSelectors locate the three fields of the correction form.
type FormSelectors struct {
	Category  string
	StartTime string
	EndTime   string
}

// Selectors is the markup contract the loop relies on.
type Selectors struct {
	ErrorCell string
	Form      FormSelectors
	Submit    string
}

// SelectorsFromConfig extracts the loop's selectors from the configuration.
func SelectorsFromConfig(sc config.SelectorsConfig) Selectors {
	return Selectors{
		ErrorCell: sc.ErrorCell,
		Form: FormSelectors{
			Category:  sc.Category,
			StartTime: sc.StartTime,
			EndTime:   sc.EndTime,
		},
		Submit: sc.Submit,
	}
}

// DefaultSelectors returns the selectors of the production application.
func DefaultSelectors() Selectors {
	return SelectorsFromConfig(config.NewDefaultConfig().Selectors)
}

func (s Selectors) validate() error {
	if s.ErrorCell == "" || s.Form.Category == "" || s.Form.StartTime == "" || s.Form.EndTime == "" || s.Submit == "" {
		return fmt.Errorf("all selectors are required")
	}
	return nil
}
