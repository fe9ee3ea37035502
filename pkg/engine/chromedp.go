package engine

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"github.com/root4loot/goutils/log"
)

// Chromedp captures through chromedp. The exec allocator starts Chromium
// with a temporary profile directory, so every capture gets an isolated
// cookie and storage jar that is removed on teardown.
type Chromedp struct {
	Config Config
}

func (c *Chromedp) Name() string { return NameChromedp }

// Capture navigates to target, waits for the load event and takes a
// screenshot. Cancelling the browser context closes Chromium and removes
// the temporary profile on every return path.
func (c *Chromedp) Capture(ctx context.Context, target string) (*Shot, error) {
	shot := &Shot{TargetURL: target}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], c.customFlags()...)

	allocator, cancelAllocator := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAllocator()

	cctx, cancelContext := chromedp.NewContext(allocator)
	defer cancelContext()

	// Start the browser before navigating so launch failures are reported
	// separately from navigation failures.
	log.Debugf("Launching browser for %s", target)
	if err := chromedp.Run(cctx); err != nil {
		return nil, fmt.Errorf("%w: launch browser: %w", ErrBrowserUnavailable, err)
	}

	if c.Config.hasViewport() {
		err := chromedp.Run(cctx, chromedp.EmulateViewport(int64(c.Config.CaptureWidth), int64(c.Config.CaptureHeight)))
		if err != nil {
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	navCtx, cancel := c.Config.navigationContext(cctx)
	defer cancel()

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(target))
	if err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}
	if resp != nil {
		shot.StatusCode = int(resp.Status)
	}

	if err := c.Config.settle(navCtx); err != nil {
		return nil, err
	}

	var screenshot []byte
	var capture chromedp.Action = chromedp.CaptureScreenshot(&screenshot)
	if c.Config.CaptureFull {
		capture = chromedp.FullScreenshot(&screenshot, 100)
	}

	if err := chromedp.Run(navCtx, chromedp.Location(&shot.LandingURL), capture); err != nil {
		return nil, fmt.Errorf("capture screenshot of %s: %w", target, err)
	}
	shot.Image = screenshot

	return shot, nil
}

// customFlags returns the allocator flags derived from the engine config.
func (c *Chromedp) customFlags() []chromedp.ExecAllocatorOption {
	var customFlags []chromedp.ExecAllocatorOption

	customFlags = append(customFlags, chromedp.Flag("headless", true))

	if c.Config.NoSandbox {
		customFlags = append(customFlags, chromedp.Flag("no-sandbox", true))
	}

	return customFlags
}
