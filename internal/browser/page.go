// internal/browser/page.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 90 * time.Second
	defaultActionTimeout     = 30 * time.Second
)

// Page is a single browser tab driven over CDP. It implements PageDriver.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	navTimeout time.Duration
	pacer      *pacer

	// generation is bumped by every mutating operation and stamped onto Elements.
	generation atomic.Uint64

	onClose   func()
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ PageDriver = (*Page)(nil)

// newPage wraps an already attached tab context.
func newPage(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger, navTimeout, slowMotion time.Duration, onClose func()) *Page {
	id := uuid.New().String()
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	return &Page{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(zap.String("page_id", id)),
		navTimeout: navTimeout,
		pacer:      newPacer(slowMotion),
		onClose:    onClose,
	}
}

// ID returns the page identifier.
func (p *Page) ID() string { return p.id }

// runActions executes actions bounded by both the page lifetime and ctx.
func (p *Page) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed.Load() || p.ctx.Err() != nil {
		return ErrPageClosed
	}
	if err := p.pacer.wait(ctx); err != nil {
		return err
	}

	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if p.closed.Load() || p.ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrPageClosed, err)
		}
		return err
	}
	return nil
}

// opError normalises the error of an operation bounded by opCtx, derived from ctx.
func (p *Page) opError(ctx, opCtx context.Context, what string, err error) error {
	if errors.Is(err, ErrPageClosed) {
		return fmt.Errorf("%s: %w", what, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", what, ctx.Err())
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%s timed out: %w", what, opCtx.Err())
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

func (p *Page) mutated() { p.generation.Add(1) }

// Navigate loads url and waits for the document body.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Info("Navigating page.", zap.String("url", url))
	defer p.mutated()

	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	err := p.runActions(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return p.opError(ctx, navCtx, fmt.Sprintf("navigation to %s", url), err)
	}
	return nil
}

// WaitForElement waits until selector matches (and is visible, if requested).
// An expired opts.Timeout yields an error wrapping ErrElementTimeout.
func (p *Page) WaitForElement(ctx context.Context, selector string, opts WaitOptions) (Element, error) {
	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	queryOpts := []chromedp.QueryOption{chromedp.ByQuery}
	if opts.Visible {
		queryOpts = append(queryOpts, chromedp.NodeVisible)
	}

	gen := p.generation.Load()
	var nodes []*cdp.Node
	if err := p.runActions(waitCtx, chromedp.Nodes(selector, &nodes, queryOpts...)); err != nil {
		if !errors.Is(err, ErrPageClosed) && ctx.Err() == nil && waitCtx.Err() == context.DeadlineExceeded {
			return Element{}, fmt.Errorf("%w: %q not present within %v", ErrElementTimeout, selector, opts.Timeout)
		}
		return Element{}, p.opError(ctx, waitCtx, fmt.Sprintf("wait for %q", selector), err)
	}
	if len(nodes) == 0 {
		return Element{}, fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	return p.element(selector, nodes[0], gen), nil
}

// QueryAll returns every element currently matching selector without waiting.
func (p *Page) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	gen := p.generation.Load()
	var nodes []*cdp.Node
	err := p.runActions(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return nil, p.opError(ctx, ctx, fmt.Sprintf("query %q", selector), err)
	}
	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, p.element(selector, n, gen))
	}
	return elements, nil
}

func (p *Page) element(selector string, n *cdp.Node, gen uint64) Element {
	return Element{
		Ref:        fmt.Sprintf("%s@%d", selector, n.NodeID),
		Generation: gen,
		node:       n,
	}
}

// ClickElement clicks the centre of el. el must have been obtained since the
// last mutation.
func (p *Page) ClickElement(ctx context.Context, el Element) error {
	if el.node == nil {
		return fmt.Errorf("%w: empty handle", ErrElementNotFound)
	}
	if cur := p.generation.Load(); el.Generation != cur {
		return fmt.Errorf("%w: %s taken at generation %d, page is at %d", ErrStaleElement, el.Ref, el.Generation, cur)
	}
	defer p.mutated()

	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	err := p.runActions(opCtx,
		chromedp.ScrollIntoView([]cdp.NodeID{el.node.NodeID}, chromedp.ByNodeID),
		chromedp.MouseClickNode(el.node),
	)
	if err != nil {
		return p.opError(ctx, opCtx, fmt.Sprintf("click on %s", el.Ref), err)
	}
	p.logger.Debug("Clicked element.", zap.String("ref", el.Ref))
	return nil
}

// Click clicks the first visible element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	defer p.mutated()

	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	err := p.runActions(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err != nil {
		return p.opError(ctx, opCtx, fmt.Sprintf("click on %q", selector), err)
	}
	p.logger.Debug("Clicked selector.", zap.String("selector", selector))
	return nil
}

// TypeText focuses selector and types text key by key, appending to any
// existing value.
func (p *Page) TypeText(ctx context.Context, selector, text string) error {
	defer p.mutated()

	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout+time.Duration(len(text))*time.Second)
	defer cancel()

	if err := p.runActions(opCtx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return p.opError(ctx, opCtx, fmt.Sprintf("type into %q", selector), err)
	}
	return nil
}

// SetValue assigns value directly to the element's value property and fires
// input and change events.
func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	defer p.mutated()

	script := fmt.Sprintf(`(function(selector, value) {
		const el = document.querySelector(selector);
		if (!el) { return false; }
		el.value = value;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})(%s, %s)`, jsonEncode(selector), jsonEncode(value))

	return p.assign(ctx, selector, script)
}

// SelectOption chooses the option with the given value in a select element
// and fires input and change events. An absent option is an error.
func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	defer p.mutated()

	script := fmt.Sprintf(`(function(selector, value) {
		const el = document.querySelector(selector);
		if (!el || !el.options) { return false; }
		const match = Array.from(el.options).some(o => o.value === value);
		if (!match) { return false; }
		el.value = value;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})(%s, %s)`, jsonEncode(selector), jsonEncode(value))

	return p.assign(ctx, selector, script)
}

func (p *Page) assign(ctx context.Context, selector, script string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	var ok bool
	if err := p.runActions(opCtx, chromedp.Evaluate(script, &ok)); err != nil {
		return p.opError(ctx, opCtx, fmt.Sprintf("assign value to %q", selector), err)
	}
	if !ok {
		return fmt.Errorf("%w: %q (or value not selectable)", ErrElementNotFound, selector)
	}
	return nil
}

// ScrollBy scrolls the window by (dx, dy) pixels.
func (p *Page) ScrollBy(ctx context.Context, dx, dy float64) error {
	defer p.mutated()

	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()

	script := fmt.Sprintf(`window.scrollBy(%v, %v)`, dx, dy)
	if err := p.runActions(opCtx, chromedp.Evaluate(script, nil)); err != nil {
		return p.opError(ctx, opCtx, "scroll", err)
	}
	return nil
}

// ReadScrollOffset returns the document's vertical scroll offset.
func (p *Page) ReadScrollOffset(ctx context.Context) (float64, error) {
	var offset float64
	if err := p.runActions(ctx, chromedp.Evaluate(`document.documentElement.scrollTop`, &offset)); err != nil {
		return 0, p.opError(ctx, ctx, "read scroll offset", err)
	}
	return offset, nil
}

// Delay waits d inside the page by awaiting a timer promise. When the page
// navigates away mid-wait the remainder is waited out locally.
func (p *Page) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	start := time.Now()
	script := fmt.Sprintf(`new Promise(resolve => setTimeout(resolve, %d))`, d.Milliseconds())
	err := p.runActions(ctx, chromedp.Evaluate(script, nil, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPageClosed) || ctx.Err() != nil {
		return p.opError(ctx, ctx, "delay", err)
	}

	p.logger.Debug("In-page delay interrupted, finishing locally.", zap.Error(err))
	remaining := d - time.Since(start)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("delay: %w", ctx.Err())
	case <-p.ctx.Done():
		return fmt.Errorf("delay: %w", ErrPageClosed)
	}
}

// OuterHTML returns the outer HTML of the first element matching selector.
func (p *Page) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	if err := p.runActions(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
		return "", p.opError(ctx, ctx, fmt.Sprintf("outer html of %q", selector), err)
	}
	return html, nil
}

// Close closes the tab. It is idempotent.
func (p *Page) Close(ctx context.Context) error {
	var closeErr error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.logger.Debug("Closing page.")

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.ctx) }()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				closeErr = fmt.Errorf("failed to close tab: %w", err)
			}
		case <-ctx.Done():
			closeErr = fmt.Errorf("failed to close tab: %w", ctx.Err())
		}

		if p.cancel != nil {
			p.cancel()
		}
		if p.onClose != nil {
			p.onClose()
		}
	})
	return closeErr
}

// jsonEncode renders v as a JavaScript literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
