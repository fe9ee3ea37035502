// Package engine drives a headless browser through one capture: launch,
// isolated context, page, navigation to the load event, screenshot, teardown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	NameRod        = "rod"
	NameChromedp   = "chromedp"
	NamePlaywright = "playwright"
)

// ErrUnknownEngine is returned by New for names it does not recognise.
var ErrUnknownEngine = errors.New("unknown capture engine")

// ErrBrowserUnavailable wraps failures to start a browser or driver process.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// Engine captures a single rendered frame of a page.
type Engine interface {
	Name() string
	Capture(ctx context.Context, target string) (*Shot, error)
}

// Shot is the outcome of a capture.
type Shot struct {
	TargetURL  string
	LandingURL string
	StatusCode int
	Image      Image
}

// Image holds PNG-encoded bytes.
type Image []byte

// Config contains the browser settings shared by all engines.
type Config struct {
	CaptureWidth       int  // Viewport width, 0 keeps the library default
	CaptureHeight      int  // Viewport height, 0 keeps the library default
	CaptureFull        bool // Take a full-page screenshot
	DelayBeforeCapture int  // Delay between the load event and the capture (seconds)
	NavigationTimeout  int  // Limit from navigation to screenshot (seconds), 0 for none
	NoSandbox          bool // Pass --no-sandbox to Chromium
	Stealth            bool // Open the page through go-rod/stealth (rod only)
	InstallBrowsers    bool // Download the Playwright driver and Chromium first (playwright only)
}

// Names lists the engines New accepts.
func Names() []string {
	return []string{NameRod, NameChromedp, NamePlaywright}
}

// New returns the engine registered under name.
func New(name string, cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameRod, "":
		return &Rod{Config: cfg}, nil
	case NameChromedp:
		return &Chromedp{Config: cfg}, nil
	case NamePlaywright:
		return &Playwright{Config: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownEngine, name, strings.Join(Names(), ", "))
	}
}

func (c Config) hasViewport() bool {
	return c.CaptureWidth > 0 && c.CaptureHeight > 0
}

// navigationContext bounds navigation, settling and the screenshot by
// NavigationTimeout. Browser start-up is not counted.
func (c Config) navigationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.NavigationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(c.NavigationTimeout)*time.Second)
}

// settle waits DelayBeforeCapture seconds or until ctx is done.
func (c Config) settle(ctx context.Context) error {
	if c.DelayBeforeCapture <= 0 {
		return nil
	}

	t := time.NewTimer(time.Duration(c.DelayBeforeCapture) * time.Second)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
