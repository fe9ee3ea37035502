package engine

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/root4loot/goutils/log"
)

// lookPath finds a local Chromium binary.
var lookPath = launcher.LookPath

// Rod captures through go-rod with a locally installed Chromium.
type Rod struct {
	Config Config
}

func (r *Rod) Name() string { return NameRod }

// Capture launches Chromium, opens an incognito context and a page in it,
// navigates to target, waits for the load event and takes a screenshot.
// Every handle is released before returning, whether or not the capture
// succeeded.
func (r *Rod) Capture(ctx context.Context, target string) (*Shot, error) {
	shot := &Shot{TargetURL: target}

	// Without an explicit binary the launcher downloads one.
	path, found := lookPath()
	if !found {
		return nil, fmt.Errorf("%w: no chromium binary found", ErrBrowserUnavailable)
	}

	l := launcher.New().
		Context(ctx).
		Bin(path).
		Headless(true).
		NoSandbox(r.Config.NoSandbox)

	log.Debugf("Launching browser %s for %s", path, target)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch browser: %w", ErrBrowserUnavailable, err)
	}
	defer l.Cleanup()
	defer l.Kill()

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	defer browser.Close()

	incognito, err := browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("create browsing context: %w", err)
	}
	defer incognito.Close()

	var page *rod.Page
	if r.Config.Stealth {
		page, err = stealth.Page(incognito)
	} else {
		page, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if r.Config.hasViewport() {
		viewport := &proto.EmulationSetDeviceMetricsOverride{
			Width:             r.Config.CaptureWidth,
			Height:            r.Config.CaptureHeight,
			DeviceScaleFactor: 1,
			Mobile:            false,
		}
		if err := page.SetViewport(viewport); err != nil {
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}

	navCtx, cancel := r.Config.navigationContext(ctx)
	defer cancel()
	navPage := page.Context(navCtx)

	var e proto.NetworkResponseReceived
	wait := navPage.WaitEvent(&e)

	if err := navPage.Navigate(target); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}

	wait()

	if err := navPage.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait for load on %s: %w", target, err)
	}

	if err := r.Config.settle(navCtx); err != nil {
		return nil, err
	}

	if info, err := navPage.Info(); err == nil {
		shot.LandingURL = info.URL
	}
	if e.Response != nil {
		shot.StatusCode = e.Response.Status
	}

	shot.Image, err = navPage.Screenshot(r.Config.CaptureFull, nil)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot of %s: %w", target, err)
	}

	return shot, nil
}
