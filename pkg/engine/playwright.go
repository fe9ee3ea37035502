package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/root4loot/goutils/log"
)

// Playwright captures through the Playwright driver with its bundled Chromium.
type Playwright struct {
	Config Config
}

func (p *Playwright) Name() string { return NamePlaywright }

// Capture starts the driver, launches Chromium, opens a new browser context
// and a page in it, navigates to target with the "load" readiness state and
// takes a screenshot. The driver and the browser are stopped on every return
// path. Playwright has no context support, so the navigation deadline is
// mapped onto the navigation and screenshot timeouts.
func (p *Playwright) Capture(ctx context.Context, target string) (*Shot, error) {
	shot := &Shot{TargetURL: target}

	if p.Config.InstallBrowsers {
		log.Debugf("Installing playwright driver and chromium")
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("%w: start playwright: %w", ErrBrowserUnavailable, err)
	}
	defer pw.Stop()

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	}
	if p.Config.NoSandbox {
		launchOpts.ChromiumSandbox = playwright.Bool(false)
	}

	log.Debugf("Launching browser for %s", target)
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: launch browser: %w", ErrBrowserUnavailable, err)
	}
	defer browser.Close()

	var contextOpts playwright.BrowserNewContextOptions
	if p.Config.hasViewport() {
		contextOpts.Viewport = &playwright.Size{Width: p.Config.CaptureWidth, Height: p.Config.CaptureHeight}
	}

	browserContext, err := browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("create browsing context: %w", err)
	}
	defer browserContext.Close()

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	navCtx, cancel := p.Config.navigationContext(ctx)
	defer cancel()

	if err := navCtx.Err(); err != nil {
		return nil, err
	}

	gotoOpts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad}
	if timeout, ok := remaining(navCtx); ok {
		gotoOpts.Timeout = playwright.Float(timeout)
	}

	resp, err := page.Goto(target, gotoOpts)
	if err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}
	if resp != nil {
		shot.StatusCode = resp.Status()
	}
	shot.LandingURL = page.URL()

	if err := p.Config.settle(navCtx); err != nil {
		return nil, err
	}

	screenshotOpts := playwright.PageScreenshotOptions{FullPage: playwright.Bool(p.Config.CaptureFull)}
	if timeout, ok := remaining(navCtx); ok {
		screenshotOpts.Timeout = playwright.Float(timeout)
	}

	shot.Image, err = page.Screenshot(screenshotOpts)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot of %s: %w", target, err)
	}

	return shot, nil
}

// remaining returns the time left before the deadline of ctx in
// milliseconds, the unit Playwright timeouts use.
func remaining(ctx context.Context) (float64, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return ms, true
}
