// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/attendfix/internal/config"
)

var (
	// globalProcessSemaphore limits the number of concurrent browser processes across all tests.
	globalProcessSemaphore     *semaphore.Weighted
	globalProcessSemaphoreOnce sync.Once
)

const (
	maxTestConcurrency        = 2
	defaultBrowserTestTimeout = 120 * time.Second
	testCleanupGracePeriod    = 1 * time.Second
	semaphoreAcquireTimeout   = 10 * time.Second
	// minTestExecutionTime is the least time a test needs to run, excluding cleanup.
	minTestExecutionTime = 5 * time.Second
)

// chromeCandidates are the executable names tried when CHROME_PATH is unset.
var chromeCandidates = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell", "chrome"}

func getGlobalProcessSemaphore() *semaphore.Weighted {
	globalProcessSemaphoreOnce.Do(func() {
		concurrency := int64(runtime.GOMAXPROCS(0))
		if concurrency > maxTestConcurrency {
			concurrency = maxTestConcurrency
		}
		if concurrency < 1 {
			concurrency = 1
		}
		globalProcessSemaphore = semaphore.NewWeighted(concurrency)
	})
	return globalProcessSemaphore
}

// findChrome returns the browser executable, or "" when none is installed.
func findChrome() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// testFixture is the sandboxed environment of one browser test.
type testFixture struct {
	Config  *config.Config
	Manager *Manager
	Logger  *zap.Logger
	// RootCtx is tied to the test's lifecycle and ends before its deadline.
	RootCtx context.Context
}

type fixtureConfigurator func(*config.Config)

// createTestConfig generates a configuration tuned for fast integration tests.
func createTestConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Browser.Headless = true
	cfg.Browser.SlowMotion = 0
	cfg.Network.NavigationTimeout = 30 * time.Second
	return cfg
}

// newTestFixture launches an isolated browser for t. It skips under -short
// and when no Chrome is installed.
func newTestFixture(t *testing.T, configurators ...fixtureConfigurator) *testFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chrome executable found (set CHROME_PATH)")
	}

	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))

	testDeadline, ok := t.Deadline()
	if !ok {
		testDeadline = time.Now().Add(defaultBrowserTestTimeout)
	}
	rootDeadline := testDeadline.Add(-testCleanupGracePeriod)
	if time.Until(rootDeadline) < minTestExecutionTime {
		t.Fatalf("Insufficient test timeout: less than %v left for execution. Increase 'go test -timeout'.", minTestExecutionTime)
	}
	rootCtx, rootCancel := context.WithDeadline(context.Background(), rootDeadline)
	t.Cleanup(rootCancel)

	cfg := createTestConfig()
	cfg.Browser.ExecPath = chrome
	for _, configurator := range configurators {
		configurator(cfg)
	}

	processSemaphore := getGlobalProcessSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(rootCtx, semaphoreAcquireTimeout)
	if err := processSemaphore.Acquire(acquireCtx, 1); err != nil {
		acquireCancel()
		t.Fatalf("Failed to acquire semaphore: %v", err)
	}
	acquireCancel()
	t.Cleanup(func() { processSemaphore.Release(1) })

	// A private profile per test avoids SingletonLock contention.
	allocOpts := append(DefaultAllocatorOptions(cfg.Browser), chromedp.UserDataDir(t.TempDir()))
	allocCtx, allocCancel := chromedp.NewExecAllocator(rootCtx, allocOpts...)
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer shutdownCancel()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(allocCtx) }()
		select {
		case err := <-done:
			if err != nil && !(err == context.Canceled && allocCtx.Err() != nil) {
				t.Logf("Warning: error during allocator shutdown: %v", err)
			}
		case <-shutdownCtx.Done():
			t.Logf("Warning: allocator shutdown timed out after %v", shutdownGracePeriod)
		}
		allocCancel()
	})

	manager, err := NewManager(allocCtx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer shutdownCancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			t.Logf("Warning: error during browser manager shutdown: %v", err)
		}
	})

	return &testFixture{Config: cfg, Manager: manager, Logger: logger, RootCtx: rootCtx}
}

// createTestServer returns a server using the provided handler.
func createTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// createStaticTestServer returns a server that serves the given HTML content.
func createStaticTestServer(t *testing.T, htmlContent string) *httptest.Server {
	t.Helper()
	return createTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintln(w, htmlContent)
	}))
}
