// internal/browser/dialog.go
package browser

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// dialogSubscription answers at most one dialog.
type dialogSubscription struct {
	cancel    context.CancelFunc
	once      sync.Once
	cancelled atomic.Bool
	handled   chan struct{}
}

func (s *dialogSubscription) Cancel() {
	s.cancelled.Store(true)
	s.cancel()
}

func (s *dialogSubscription) Handled() <-chan struct{} { return s.handled }

// OnNextDialog registers handler for the next native dialog only. Dialogs
// that open after the handler fired, or after Cancel, are not answered here.
func (p *Page) OnNextDialog(handler DialogHandler) DialogSubscription {
	listenCtx, cancel := context.WithCancel(p.ctx)
	sub := &dialogSubscription{cancel: cancel, handled: make(chan struct{})}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok || sub.cancelled.Load() {
			return
		}
		sub.once.Do(func() {
			d := Dialog{Type: string(e.Type), Message: e.Message}
			// Listener callbacks must not block; answer from a goroutine.
			go func() {
				defer close(sub.handled)
				defer cancel()

				accept := handler(d)
				if err := chromedp.Run(p.ctx, page.HandleJavaScriptDialog(accept)); err != nil {
					p.logger.Warn("Failed to answer dialog.", zap.String("type", d.Type), zap.Error(err))
					return
				}
				p.logger.Info("Dialog answered.",
					zap.String("type", d.Type),
					zap.String("message", d.Message),
					zap.Bool("accepted", accept))
			}()
		})
	})
	return sub
}
