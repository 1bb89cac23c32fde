// internal/browser/pacer.go
package browser

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces consecutive page operations by a fixed interval.
// A nil pacer never waits.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(interval time.Duration) *pacer {
	if interval <= 0 {
		return nil
	}
	return &pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}
