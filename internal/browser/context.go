// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from ctx1 that is also canceled
// when ctx2 is done. Values (including the chromedp target) come from ctx1
// only, while ctx2 usually carries the operation's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                     { return nil }
func (valueOnlyContext) Err() error                                { return nil }

// Detach returns a context that inherits values from ctx but is not canceled
// with it. Cleanup that has to outlive a canceled run uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
