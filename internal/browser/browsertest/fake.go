// Package browsertest provides an in-memory browser.PageDriver that simulates
// the attendance list of the remote application, for tests that must not
// start a browser.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/attendfix/internal/browser"
)

// Default selectors understood by FakePage. They mirror the production markup.
const (
	ErrorCellSelector = `td.item-attendKbn.bg-err.tip`
	CategorySelector  = `select#chartDto\.attendanceDtos\[0\]\.attendId`
	StartSelector     = `input#chartDto\.attendanceDtos\[0\]\.worktimeStart`
	EndSelector       = `input#chartDto\.attendanceDtos\[0\]\.worktimeEnd`
	SubmitSelector    = `input#UPDATE-BTN`
	TableSelector     = `table.attendance-table`
	PeriodSelector    = `select#periodPoint`
	ContractSelector  = `input[id="contractId"]`
	AuthSelector      = `input[id="authId"]`
	PasswordSelector  = `input[id="password"]`
	LoginSubmit       = `input.common-btn.submit`
)

// Row is one simulated attendance row.
type Row struct {
	Date      string
	DayOfWeek string
	Start     string
	End       string
	Status    string
	// Error marks the row as flagged for correction.
	Error bool
	// RevealAt is the scroll offset from which the row is rendered.
	RevealAt float64
}

// Correction records a submitted correction.
type Correction struct {
	Row      int
	Category string
	Start    string
	End      string
	// StartBefore and EndBefore are the field contents right before the
	// time was typed.
	StartBefore string
	EndBefore   string
}

// FakePage is a scripted browser.PageDriver. All methods are safe for
// concurrent use, though the remediation loop drives it sequentially.
type FakePage struct {
	mu sync.Mutex

	rows      []Row
	offset    float64
	maxOffset float64
	gen       uint64
	closed    bool
	url       string
	period    string

	// form state
	openRow    int
	category   string
	start      string
	end        string
	startPrior string
	endPrior   string

	dialogs   []*fakeSubscription
	dialogLog []DialogEvent

	corrections []Correction
	calls       []string
	delays      []time.Duration
	typed       map[string]string

	// ScrollHook, when set, computes the new offset instead of the default
	// clamp to MaxOffset.
	ScrollHook func(current, dy float64) float64
	// FormNeverOpens keeps the correction form hidden after a click.
	FormNeverOpens bool
	// RejectCorrections leaves rows flagged after an accepted submit.
	RejectCorrections bool
	// NoConfirmDialog makes submit save without raising a dialog.
	NoConfirmDialog bool
	// FailOn makes the named operation fail. Keys are the entries recorded
	// by Calls, e.g. "ScrollBy" or "Click:" + SubmitSelector.
	FailOn map[string]error
	// BeforeCall is invoked, without the lock held, before every operation.
	BeforeCall func(op string)
}

// DialogEvent records how a raised dialog was answered.
type DialogEvent struct {
	Message  string
	Accepted bool
	// Pending is true when no handler was registered.
	Pending bool
}

var _ browser.PageDriver = (*FakePage)(nil)

// NewFakePage creates a page holding rows. maxOffset is the largest scroll
// offset the page can reach.
func NewFakePage(rows []Row, maxOffset float64) *FakePage {
	return &FakePage{
		rows:      append([]Row(nil), rows...),
		maxOffset: maxOffset,
		openRow:   -1,
		typed:     make(map[string]string),
	}
}

// ErrorRows builds n flagged rows rendered from offset revealAt.
func ErrorRows(n int, revealAt float64) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{
			Date:      fmt.Sprintf("10/%02d", i+1),
			DayOfWeek: "Mon",
			Status:    "error",
			Error:     true,
			RevealAt:  revealAt,
		}
	}
	return rows
}

// ErrDialogPending is returned by Click on submit when a dialog was raised
// and nobody answered it.
var ErrDialogPending = errors.New("dialog left pending")

func (f *FakePage) enter(op string) error {
	if f.BeforeCall != nil {
		f.BeforeCall(op)
	}
	f.mu.Lock()
	f.calls = append(f.calls, op)
	if f.closed {
		return browser.ErrPageClosed
	}
	if err, ok := f.FailOn[op]; ok {
		return err
	}
	return nil
}

func (f *FakePage) rendered(i int) bool { return f.offset >= f.rows[i].RevealAt }

func (f *FakePage) renderedErrors() []int {
	var idx []int
	for i, r := range f.rows {
		if r.Error && f.rendered(i) {
			idx = append(idx, i)
		}
	}
	return idx
}

func (f *FakePage) formOpen() bool { return f.openRow >= 0 && !f.FormNeverOpens }

// present reports whether selector currently matches something.
func (f *FakePage) present(selector string) bool {
	switch selector {
	case ErrorCellSelector:
		return len(f.renderedErrors()) > 0
	case CategorySelector, StartSelector, EndSelector, SubmitSelector:
		return f.formOpen()
	case TableSelector, PeriodSelector:
		return f.url != ""
	case ContractSelector, AuthSelector, PasswordSelector, LoginSubmit:
		return f.url != ""
	default:
		return false
	}
}

func (f *FakePage) element(ref string) browser.Element {
	return browser.Element{Ref: ref, Generation: f.gen}
}

// Navigate records url.
func (f *FakePage) Navigate(ctx context.Context, url string) error {
	if err := f.enter("Navigate"); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	f.url = url
	f.gen++
	return ctx.Err()
}

// WaitForElement returns immediately: a match, or ErrElementTimeout as if the
// bound had elapsed.
func (f *FakePage) WaitForElement(ctx context.Context, selector string, opts browser.WaitOptions) (browser.Element, error) {
	if err := f.enter("WaitForElement:" + selector); err != nil {
		f.mu.Unlock()
		return browser.Element{}, err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return browser.Element{}, err
	}
	if !f.present(selector) {
		return browser.Element{}, fmt.Errorf("%w: %q not present within %v", browser.ErrElementTimeout, selector, opts.Timeout)
	}
	if selector == ErrorCellSelector {
		return f.element(fmt.Sprintf("row-%d", f.renderedErrors()[0])), nil
	}
	return f.element(selector), nil
}

// QueryAll returns one element per rendered flagged row.
func (f *FakePage) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := f.enter("QueryAll:" + selector); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if selector != ErrorCellSelector {
		if f.present(selector) {
			return []browser.Element{f.element(selector)}, nil
		}
		return nil, nil
	}
	var out []browser.Element
	for _, i := range f.renderedErrors() {
		out = append(out, f.element(fmt.Sprintf("row-%d", i)))
	}
	return out, nil
}

// ClickElement opens the correction form of the referenced row.
func (f *FakePage) ClickElement(ctx context.Context, el browser.Element) error {
	if err := f.enter("ClickElement"); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if el.Generation != f.gen {
		return fmt.Errorf("%w: %s taken at generation %d, page is at %d", browser.ErrStaleElement, el.Ref, el.Generation, f.gen)
	}
	var row int
	if _, err := fmt.Sscanf(el.Ref, "row-%d", &row); err != nil || row < 0 || row >= len(f.rows) {
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, el.Ref)
	}
	f.gen++
	f.openRow = row
	f.category, f.start, f.end = "", f.rows[row].Start, f.rows[row].End
	return nil
}

// Click handles the submit and login buttons.
func (f *FakePage) Click(ctx context.Context, selector string) error {
	if err := f.enter("Click:" + selector); err != nil {
		f.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.present(selector) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %q", browser.ErrElementNotFound, selector)
	}
	f.gen++
	if selector != SubmitSelector {
		f.mu.Unlock()
		return nil
	}

	if f.NoConfirmDialog {
		f.save()
		f.mu.Unlock()
		return nil
	}

	// Take the oldest live subscription, as a browser would deliver the
	// event to listeners registered so far.
	var sub *fakeSubscription
	for _, s := range f.dialogs {
		if !s.cancelled && !s.fired {
			sub = s
			break
		}
	}
	msg := fmt.Sprintf("Update attendance for %s?", f.rows[f.openRow].Date)
	if sub == nil {
		f.dialogLog = append(f.dialogLog, DialogEvent{Message: msg, Pending: true})
		f.mu.Unlock()
		return ErrDialogPending
	}
	sub.fired = true
	f.mu.Unlock()

	accept := sub.handler(browser.Dialog{Type: "confirm", Message: msg})

	f.mu.Lock()
	defer f.mu.Unlock()
	close(sub.handled)
	f.dialogLog = append(f.dialogLog, DialogEvent{Message: msg, Accepted: accept})
	if accept {
		f.save()
	}
	return nil
}

// save commits the open form. Called with the lock held.
func (f *FakePage) save() {
	row := f.openRow
	f.corrections = append(f.corrections, Correction{
		Row:         row,
		Category:    f.category,
		Start:       f.start,
		End:         f.end,
		StartBefore: f.startPrior,
		EndBefore:   f.endPrior,
	})
	f.rows[row].Start, f.rows[row].End = f.start, f.end
	if !f.RejectCorrections && f.category != "" && f.start != "" && f.end != "" {
		f.rows[row].Error = false
		f.rows[row].Status = "ok"
	}
	f.openRow = -1
}

func (f *FakePage) field(selector string) (*string, *string, bool) {
	switch selector {
	case StartSelector:
		return &f.start, &f.startPrior, true
	case EndSelector:
		return &f.end, &f.endPrior, true
	}
	return nil, nil, false
}

// TypeText appends text to a form field.
func (f *FakePage) TypeText(ctx context.Context, selector, text string) error {
	if err := f.enter("TypeText:" + selector); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	val, prior, ok := f.field(selector)
	switch {
	case ok && f.formOpen():
		*prior = *val
		*val += text
	case isLoginField(selector) && f.url != "":
	default:
		return fmt.Errorf("%w: %q", browser.ErrElementNotFound, selector)
	}
	f.gen++
	f.typed[selector] += text
	return nil
}

func isLoginField(selector string) bool {
	return selector == ContractSelector || selector == AuthSelector || selector == PasswordSelector
}

// SetValue replaces a form field's value.
func (f *FakePage) SetValue(ctx context.Context, selector, value string) error {
	if err := f.enter("SetValue:" + selector); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	val, _, ok := f.field(selector)
	if !ok || !f.formOpen() {
		return fmt.Errorf("%w: %q", browser.ErrElementNotFound, selector)
	}
	f.gen++
	*val = value
	return nil
}

// SelectOption sets the category of the open form or the period selector.
func (f *FakePage) SelectOption(ctx context.Context, selector, value string) error {
	if err := f.enter("SelectOption:" + selector); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case selector == CategorySelector && f.formOpen():
		f.category = value
	case selector == PeriodSelector && f.url != "":
		f.period = value
	default:
		return fmt.Errorf("%w: %q", browser.ErrElementNotFound, selector)
	}
	f.gen++
	return nil
}

// ScrollBy moves the offset, clamped to [0, maxOffset] unless ScrollHook is set.
func (f *FakePage) ScrollBy(ctx context.Context, _, dy float64) error {
	if err := f.enter("ScrollBy"); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.gen++
	if f.ScrollHook != nil {
		f.offset = f.ScrollHook(f.offset, dy)
		return nil
	}
	next := f.offset + dy
	if next > f.maxOffset {
		next = f.maxOffset
	}
	if next < 0 {
		next = 0
	}
	f.offset = next
	return nil
}

// ReadScrollOffset returns the current offset.
func (f *FakePage) ReadScrollOffset(ctx context.Context) (float64, error) {
	if err := f.enter("ReadScrollOffset"); err != nil {
		f.mu.Unlock()
		return 0, err
	}
	defer f.mu.Unlock()
	return f.offset, ctx.Err()
}

// OnNextDialog registers a one-shot handler.
func (f *FakePage) OnNextDialog(handler browser.DialogHandler) browser.DialogSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "OnNextDialog")
	sub := &fakeSubscription{page: f, handler: handler, handled: make(chan struct{})}
	f.dialogs = append(f.dialogs, sub)
	return sub
}

// Delay records d without sleeping.
func (f *FakePage) Delay(ctx context.Context, d time.Duration) error {
	if err := f.enter("Delay"); err != nil {
		f.mu.Unlock()
		return err
	}
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	return ctx.Err()
}

// OuterHTML renders the rendered rows as the production table markup.
func (f *FakePage) OuterHTML(ctx context.Context, selector string) (string, error) {
	if err := f.enter("OuterHTML:" + selector); err != nil {
		f.mu.Unlock()
		return "", err
	}
	defer f.mu.Unlock()
	if selector != TableSelector || f.url == "" {
		return "", fmt.Errorf("%w: %q", browser.ErrElementNotFound, selector)
	}
	var b strings.Builder
	b.WriteString(`<table class="attendance-table"><tbody>`)
	for i, r := range f.rows {
		if !f.rendered(i) {
			continue
		}
		attend := `<td class="item-attendKbn"></td>`
		if r.Error {
			attend = `<td class="item-attendKbn bg-err tip"></td>`
		}
		fmt.Fprintf(&b, `<tr><td class="date-cell">%s</td><td class="day-of-week-cell">%s</td>%s<td class="start-time-cell">%s</td><td class="end-time-cell">%s</td><td class="status-cell">%s</td></tr>`,
			html.EscapeString(r.Date), html.EscapeString(r.DayOfWeek), attend,
			html.EscapeString(r.Start), html.EscapeString(r.End), html.EscapeString(r.Status))
	}
	b.WriteString(`</tbody></table>`)
	return b.String(), ctx.Err()
}

// Close marks the page closed. Later operations fail with browser.ErrPageClosed.
func (f *FakePage) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "Close")
	f.closed = true
	return nil
}

// -- Inspection --

// Calls returns the operations issued so far, in order.
func (f *FakePage) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CountCalls returns how many calls had the given operation name (prefix before ':').
func (f *FakePage) CountCalls(op string) int {
	n := 0
	for _, c := range f.Calls() {
		name, _, _ := strings.Cut(c, ":")
		if c == op || name == op {
			n++
		}
	}
	return n
}

// Corrections returns the submitted corrections.
func (f *FakePage) Corrections() []Correction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Correction(nil), f.corrections...)
}

// Dialogs returns every dialog raised so far.
func (f *FakePage) Dialogs() []DialogEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DialogEvent(nil), f.dialogLog...)
}

// ActiveSubscriptions counts dialog handlers that are neither fired nor cancelled.
func (f *FakePage) ActiveSubscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.dialogs {
		if !s.cancelled && !s.fired {
			n++
		}
	}
	return n
}

// Delays returns every requested delay.
func (f *FakePage) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

// RemainingErrors counts rows still flagged, rendered or not.
func (f *FakePage) RemainingErrors() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.Error {
			n++
		}
	}
	return n
}

// Offset returns the scroll offset.
func (f *FakePage) Offset() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// URL returns the last navigated URL.
func (f *FakePage) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.url
}

// Period returns the last value selected in the period selector.
func (f *FakePage) Period() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.period
}

// Typed returns everything typed into selector so far.
func (f *FakePage) Typed(selector string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typed[selector]
}

// Closed reports whether Close was called.
func (f *FakePage) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSubscription struct {
	page      *FakePage
	handler   browser.DialogHandler
	handled   chan struct{}
	fired     bool
	cancelled bool
}

func (s *fakeSubscription) Cancel() {
	s.page.mu.Lock()
	defer s.page.mu.Unlock()
	s.cancelled = true
}

func (s *fakeSubscription) Handled() <-chan struct{} { return s.handled }
