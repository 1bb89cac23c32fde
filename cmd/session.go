package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/xkilldash9x/attendfix/internal/attendance"
	"github.com/xkilldash9x/attendfix/internal/browser"
	"github.com/xkilldash9x/attendfix/internal/config"
	"github.com/xkilldash9x/attendfix/internal/orchestrator"
	"github.com/xkilldash9x/attendfix/internal/store"
)

const shutdownTimeout = 15 * time.Second

// session is a wired orchestrator plus the teardown of everything behind it.
type session struct {
	orch     *orchestrator.Orchestrator
	shutdown func()
}

type sessionFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error)

// historySource lists recorded runs.
type historySource interface {
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
}

type historyFactory func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (historySource, func(), error)

// newBrowserSession launches Chrome lazily through a browser manager and
// connects the run history store when a database is configured.
func newBrowserSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), browser.DefaultAllocatorOptions(cfg.Browser)...)
	manager, err := browser.NewManager(allocCtx, cfg, logger)
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("failed to initialize browser manager: %w", err)
	}

	closeDB := func() {}
	var recorder orchestrator.Recorder
	if cfg.Database.URL != "" {
		st, closePool, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			allocCancel()
			return nil, fmt.Errorf("failed to initialize database store: %w", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			closePool()
			allocCancel()
			return nil, err
		}
		recorder, closeDB = st, closePool
	} else {
		logger.Debug("No database configured, run history disabled.")
	}

	pages := func(ctx context.Context) (browser.PageDriver, error) {
		p, err := manager.NewPage(ctx)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	orch, err := orchestrator.New(cfg, logger, pages, attendance.NewExtractor(cfg.Selectors.Table, logger), recorder)
	if err != nil {
		closeDB()
		allocCancel()
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return &session{
		orch: orch,
		shutdown: func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := manager.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Error during browser manager shutdown", zap.Error(err))
			}
			allocCancel()
			closeDB()
		},
	}, nil
}

func newStoreHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (historySource, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (ATTENDFIX_DATABASE_URL or DATABASE_URL)")
	}
	st, closePool, err := store.Connect(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, closePool, nil
}

// promptPassword reads the password from the terminal without echo.
func promptPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("password is not configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Recoru password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// ensurePassword fills in a missing password interactively.
func (a *app) ensurePassword() error {
	if a.cfg.Target.Password != "" {
		return nil
	}
	if a.cfg.Target.ContractID == "" || a.cfg.Target.AuthID == "" {
		// Report every missing field at once instead of prompting first.
		return a.cfg.Target.RequireCredentials()
	}
	pw, err := a.readPassword()
	if err != nil {
		return err
	}
	a.cfg.Target.Password = pw
	return nil
}
