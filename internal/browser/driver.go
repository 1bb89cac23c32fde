// internal/browser/driver.go
package browser

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/cdp"
)

var (
	// ErrElementTimeout is returned when a bounded wait for an element expires.
	ErrElementTimeout = errors.New("element wait timed out")
	// ErrElementNotFound is returned when a selector matches nothing at the moment of use.
	ErrElementNotFound = errors.New("element not found")
	// ErrStaleElement is returned when an Element obtained before a page
	// mutation is presented after it.
	ErrStaleElement = errors.New("stale element handle")
	// ErrPageClosed is returned for any operation on a closed page.
	ErrPageClosed = errors.New("page closed")
)

// Element is an opaque handle to a node on the page. It is valid only until
// the next mutating operation (navigate, click, type, set value, select or
// scroll); callers must re-query after each mutation.
type Element struct {
	// Ref identifies the node for diagnostics.
	Ref string
	// Generation is the page mutation generation the handle was taken in.
	Generation uint64

	node *cdp.Node
}

// WaitOptions bounds WaitForElement.
type WaitOptions struct {
	// Visible requires the element to be rendered and visible, not just attached.
	Visible bool
	// Timeout bounds the wait. Zero means the wait is bounded only by the context.
	Timeout time.Duration
}

// Dialog describes a native page dialog (alert, confirm, prompt, beforeunload).
type Dialog struct {
	Type    string
	Message string
}

// DialogHandler decides whether a dialog is accepted (true) or dismissed (false).
type DialogHandler func(Dialog) bool

// AcceptDialog accepts every dialog it is given.
func AcceptDialog(Dialog) bool { return true }

// DialogSubscription is a one-shot dialog registration.
type DialogSubscription interface {
	// Cancel unregisters the handler if it has not fired yet. It is safe to
	// call more than once and after the handler fired.
	Cancel()
	// Handled is closed once a dialog was received and answered.
	Handled() <-chan struct{}
}

// PageDriver is the contract over a controllable web page. Operations are
// issued one at a time; every blocking call honours ctx and fails once the
// page is closed.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	WaitForElement(ctx context.Context, selector string, opts WaitOptions) (Element, error)
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	ClickElement(ctx context.Context, el Element) error
	Click(ctx context.Context, selector string) error
	TypeText(ctx context.Context, selector, text string) error
	SetValue(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, value string) error
	ScrollBy(ctx context.Context, dx, dy float64) error
	ReadScrollOffset(ctx context.Context) (float64, error)
	OnNextDialog(handler DialogHandler) DialogSubscription
	Delay(ctx context.Context, d time.Duration) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	Close(ctx context.Context) error
}
