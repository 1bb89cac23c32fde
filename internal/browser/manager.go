// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/attendfix/internal/config"
)

const shutdownGracePeriod = 15 * time.Second

// Manager owns the browser process and hands out pages.
type Manager struct {
	allocCtx context.Context
	logger   *zap.Logger
	cfg      *config.Config

	browserCtx    context.Context
	browserCancel context.CancelFunc

	pages map[string]*Page
	mu    sync.RWMutex
	wg    sync.WaitGroup

	initOnce sync.Once
	initErr  error
}

// NewManager creates a manager on top of an exec allocator context. The
// browser is started lazily by the first NewPage call.
func NewManager(allocCtx context.Context, cfg *config.Config, logger *zap.Logger) (*Manager, error) {
	if allocCtx == nil {
		return nil, fmt.Errorf("allocator context cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	m := &Manager{
		allocCtx: allocCtx,
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		pages:    make(map[string]*Page),
	}
	m.logger.Debug("Browser manager created (initialization deferred).")
	return m, nil
}

// runStartup runs an empty action list on target to attach it, giving up when ctx is done.
func runStartup(ctx, target context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Run(target) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) initialize(ctx context.Context) error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Browser.Headless))

		browserCtx, browserCancel := chromedp.NewContext(m.allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Errorf),
		)
		if err := runStartup(ctx, browserCtx); err != nil {
			browserCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.browserCtx, m.browserCancel = browserCtx, browserCancel
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// NewPage opens a new tab.
func (m *Manager) NewPage(ctx context.Context) (*Page, error) {
	if err := m.initialize(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx)
	if err := runStartup(ctx, tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	m.wg.Add(1)
	var p *Page
	p = newPage(tabCtx, tabCancel, m.logger.Named("page"),
		m.cfg.Network.NavigationTimeout, m.cfg.Browser.SlowMotion,
		func() {
			m.mu.Lock()
			delete(m.pages, p.ID())
			m.mu.Unlock()
			m.wg.Done()
		})

	m.mu.Lock()
	m.pages[p.ID()] = p
	m.mu.Unlock()

	m.logger.Debug("New page opened.", zap.String("page_id", p.ID()))
	return p, nil
}

// Shutdown closes every open page and then the browser. The allocator
// context remains the caller's to cancel.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.browserCtx == nil {
		m.logger.Debug("Browser never launched, nothing to shut down.")
		return nil
	}
	m.logger.Info("Shutting down browser manager.")

	m.mu.RLock()
	open := make([]*Page, 0, len(m.pages))
	for _, p := range m.pages {
		open = append(open, p)
	}
	m.mu.RUnlock()

	for _, p := range open {
		go func(p *Page) {
			if err := p.Close(ctx); err != nil {
				m.logger.Warn("Error closing page during shutdown.", zap.String("page_id", p.ID()), zap.Error(err))
			}
		}(p)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for pages to close, forcing browser shutdown.", zap.Error(ctx.Err()))
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- chromedp.Cancel(m.browserCtx) }()

	var shutdownErr error
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	case <-cleanupCtx.Done():
		shutdownErr = fmt.Errorf("failed to close browser: %w", cleanupCtx.Err())
	}
	m.browserCancel()

	m.logger.Info("Browser manager shutdown complete.")
	return shutdownErr
}
