// internal/remediation/loop.go
package remediation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/browser"
)

// ErrScrollBudgetExhausted is returned when Policy.MaxFruitlessScrolls
// consecutive scroll steps moved the page without revealing an error cell.
var ErrScrollBudgetExhausted = errors.New("scroll budget exhausted")

// State is a state of the remediation loop.
type State int

const (
	StateScanning State = iota
	StateProcessing
	StateScrolling
	StateDone
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateProcessing:
		return "processing"
	case StateScrolling:
		return "scrolling"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the terminal status of a remediation run.
type Status string

// StatusCompleted means every reachable error row was corrected.
const StatusCompleted Status = "completed"

// Result summarises one Remediate call.
type Result struct {
	Corrected   int    `json:"corrected" yaml:"corrected"`
	Status      Status `json:"status" yaml:"status"`
	ScrollSteps int    `json:"scroll_steps" yaml:"scroll_steps"`
}

// Loop finds rows flagged as erroneous and submits the default correction
// for each until none remain.
type Loop struct {
	policy      Policy
	selectors   Selectors
	logger      *zap.Logger
	onCorrected func(count int)
	onState     func(from, to State)
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// WithOnCorrected registers fn to be called with the running total after
// each submitted row. Progress reported here survives a later failure.
func WithOnCorrected(fn func(count int)) Option {
	return func(l *Loop) { l.onCorrected = fn }
}

// WithStateObserver registers fn to be called on every state transition.
func WithStateObserver(fn func(from, to State)) Option {
	return func(l *Loop) { l.onState = fn }
}

// New creates a Loop.
func New(policy Policy, selectors Selectors, opts ...Option) (*Loop, error) {
	if err := policy.validate(); err != nil {
		return nil, fmt.Errorf("invalid remediation policy: %w", err)
	}
	if err := selectors.validate(); err != nil {
		return nil, fmt.Errorf("invalid remediation selectors: %w", err)
	}
	l := &Loop{
		policy:    policy,
		selectors: selectors,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.Named("remediation")
	return l, nil
}

// run is the mutable state of a single Remediate call.
type run struct {
	state     State
	target    browser.Element
	corrected int
	steps     int
	fruitless int
}

// Remediate corrects every error row reachable on page. Only the absence of
// any error cell at the start is treated as success without work; every other
// failure is returned and the partial count is dropped.
func (l *Loop) Remediate(ctx context.Context, page browser.PageDriver) (Result, error) {
	if _, err := page.WaitForElement(ctx, l.selectors.ErrorCell, browser.WaitOptions{Timeout: l.policy.FirstCellTimeout}); err != nil {
		if errors.Is(err, browser.ErrElementTimeout) {
			l.logger.Info("No error cells found.", zap.Duration("waited", l.policy.FirstCellTimeout))
			return Result{Status: StatusCompleted}, nil
		}
		return Result{}, fmt.Errorf("waiting for first error cell: %w", err)
	}

	r := &run{state: StateScanning}
	for r.state != StateDone {
		var err error
		switch r.state {
		case StateScanning:
			err = l.scan(ctx, page, r)
		case StateProcessing:
			err = l.process(ctx, page, r)
		case StateScrolling:
			err = l.scroll(ctx, page, r)
		}
		if err != nil {
			return Result{}, err
		}
	}

	l.logger.Info("All error rows corrected.", zap.Int("corrected", r.corrected), zap.Int("scroll_steps", r.steps))
	return Result{Corrected: r.corrected, Status: StatusCompleted, ScrollSteps: r.steps}, nil
}

func (l *Loop) transition(r *run, to State) {
	l.logger.Debug("State transition.", zap.Stringer("from", r.state), zap.Stringer("to", to))
	if l.onState != nil {
		l.onState(r.state, to)
	}
	r.state = to
}

func (l *Loop) scan(ctx context.Context, page browser.PageDriver, r *run) error {
	cells, err := page.QueryAll(ctx, l.selectors.ErrorCell)
	if err != nil {
		return fmt.Errorf("querying error cells: %w", err)
	}
	if len(cells) == 0 {
		l.transition(r, StateScrolling)
		return nil
	}
	l.logger.Debug("Error cells rendered.", zap.Int("count", len(cells)))
	r.target = cells[0]
	l.transition(r, StateProcessing)
	return nil
}

func (l *Loop) scroll(ctx context.Context, page browser.PageDriver, r *run) error {
	before, err := page.ReadScrollOffset(ctx)
	if err != nil {
		return fmt.Errorf("reading scroll offset: %w", err)
	}
	if err := page.ScrollBy(ctx, 0, l.policy.ScrollStep); err != nil {
		return fmt.Errorf("scrolling: %w", err)
	}
	r.steps++
	if err := page.Delay(ctx, l.policy.InteractionDelay); err != nil {
		return err
	}

	_, err = page.WaitForElement(ctx, l.selectors.ErrorCell, browser.WaitOptions{Timeout: l.policy.RevealTimeout})
	if err == nil {
		r.fruitless = 0
		l.transition(r, StateScanning)
		return nil
	}
	if !errors.Is(err, browser.ErrElementTimeout) {
		return fmt.Errorf("waiting for error cells after scroll: %w", err)
	}

	after, err := page.ReadScrollOffset(ctx)
	if err != nil {
		return fmt.Errorf("reading scroll offset: %w", err)
	}
	if after == before {
		l.logger.Debug("Scroll made no progress, content exhausted.", zap.Float64("offset", after))
		l.transition(r, StateDone)
		return nil
	}

	r.fruitless++
	l.logger.Debug("Scrolled without revealing error cells.",
		zap.Float64("from", before), zap.Float64("to", after), zap.Int("fruitless", r.fruitless))
	if l.policy.MaxFruitlessScrolls > 0 && r.fruitless >= l.policy.MaxFruitlessScrolls {
		return fmt.Errorf("%w: %d steps without progress (offset %v)", ErrScrollBudgetExhausted, r.fruitless, after)
	}
	return nil
}

func (l *Loop) process(ctx context.Context, page browser.PageDriver, r *run) error {
	form := l.selectors.Form
	cell := r.target
	// The handle dies with the first mutation below.
	r.target = browser.Element{}

	if err := page.ClickElement(ctx, cell); err != nil {
		return fmt.Errorf("opening correction form: %w", err)
	}
	if err := page.Delay(ctx, l.policy.InteractionDelay); err != nil {
		return err
	}

	for _, sel := range []string{form.Category, form.StartTime, form.EndTime} {
		if _, err := page.WaitForElement(ctx, sel, browser.WaitOptions{Visible: true, Timeout: l.policy.FormTimeout}); err != nil {
			return fmt.Errorf("correction form field %s: %w", sel, err)
		}
	}

	if err := page.SelectOption(ctx, form.Category, l.policy.CategoryValue); err != nil {
		return fmt.Errorf("selecting category: %w", err)
	}
	if err := page.Delay(ctx, l.policy.InteractionDelay); err != nil {
		return err
	}
	if err := l.fill(ctx, page, form.StartTime, l.policy.StartTime); err != nil {
		return err
	}
	if err := l.fill(ctx, page, form.EndTime, l.policy.EndTime); err != nil {
		return err
	}

	if err := l.submit(ctx, page); err != nil {
		return err
	}

	r.corrected++
	l.logger.Info("Row corrected.", zap.Int("count", r.corrected))
	if l.onCorrected != nil {
		l.onCorrected(r.corrected)
	}
	l.transition(r, StateScanning)
	return nil
}

// fill clears a time field and types value into it.
func (l *Loop) fill(ctx context.Context, page browser.PageDriver, selector, value string) error {
	if err := page.SetValue(ctx, selector, ""); err != nil {
		return fmt.Errorf("clearing %s: %w", selector, err)
	}
	if err := page.TypeText(ctx, selector, value); err != nil {
		return fmt.Errorf("typing into %s: %w", selector, err)
	}
	return page.Delay(ctx, l.policy.InteractionDelay)
}

// submit clicks the submit button with a one-shot dialog subscription that
// accepts the confirmation the application raises.
func (l *Loop) submit(ctx context.Context, page browser.PageDriver) error {
	sub := page.OnNextDialog(func(d browser.Dialog) bool {
		l.logger.Info("Accepting confirmation dialog.", zap.String("message", d.Message))
		return true
	})
	defer sub.Cancel()

	if err := page.Click(ctx, l.selectors.Submit); err != nil {
		return fmt.Errorf("submitting correction: %w", err)
	}
	return page.Delay(ctx, l.policy.PageSettleDelay)
}
