// internal/browser/allocator.go
package browser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/attendfix/internal/config"
)

// DefaultAllocatorOptions builds the exec allocator options for cfg on top of
// chromedp's defaults.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// allocatorFlags resolves the command-line flags Chrome is started with.
// A false value removes a flag that chromedp would otherwise pass.
func allocatorFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":                 cfg.Headless,
		"disable-gpu":              cfg.Headless,
		"hide-scrollbars":          cfg.Headless,
		"mute-audio":               cfg.Headless,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"disable-dev-shm-usage":    true,
	}

	width, height := cfg.Viewport["width"], cfg.Viewport["height"]
	if width > 0 && height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", width, height)
	}

	// User supplied args are applied last and win over the defaults above.
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}
