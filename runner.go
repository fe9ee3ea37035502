package screenprobe

import (
	"context"
	"fmt"
	"time"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/screenprobe/pkg/engine"
)

const (
	// TargetURL is the page that gets captured.
	TargetURL = "http://localhost:3002/"
	// OutputPath is where the capture is written, relative to the working directory.
	OutputPath = "screenshot.png"
)

type Runner struct {
	Options *Options
	Engine  engine.Engine
}

// Options contains options for the runner
type Options struct {
	TargetURL           string // Page to capture
	OutputPath          string // File the PNG is written to
	Engine              string // Capture engine: rod, chromedp or playwright
	Timeout             int    // Timeout from navigation until the screenshot is taken (seconds)
	CaptureHeight       int    // Height of the capture, 0 keeps the browser default
	CaptureWidth        int    // Width of the capture, 0 keeps the browser default
	CaptureFull         bool   // Take a full-page screenshot
	DelayBeforeCapture  int    // Delay after the load event before capturing (seconds)
	Stealth             bool   // Open the page through go-rod/stealth
	NoSandbox           bool   // Run Chromium without its sandbox
	InstallBrowsers     bool   // Install the Playwright driver and Chromium before launching
	Imprint             bool   // Add the page origin below the image
	CompareWithPrevious bool   // Score similarity against the file being replaced
	Silence             bool   // Silence output
	Verbose             bool   // Verbose logging
}

func init() {
	log.Init("screenprobe")
}

// DefaultOptions returns default options
func DefaultOptions() *Options {
	return &Options{
		TargetURL:           TargetURL,
		OutputPath:          OutputPath,
		Engine:              engine.NameRod,
		Timeout:             30,
		CaptureFull:         false,
		DelayBeforeCapture:  0,
		Imprint:             false,
		CompareWithPrevious: true,
	}
}

// NewRunner returns a new runner with default options
func NewRunner() (*Runner, error) {
	return NewRunnerWithOptions(*DefaultOptions())
}

// NewRunnerWithOptions returns a new runner with the specified options.
// Empty target and output fall back to TargetURL and OutputPath.
func NewRunnerWithOptions(options Options) (*Runner, error) {
	SetLogLevel(&options)

	if options.TargetURL == "" {
		options.TargetURL = TargetURL
	}
	if options.OutputPath == "" {
		options.OutputPath = OutputPath
	}

	e, err := engine.New(options.Engine, options.engineConfig())
	if err != nil {
		return nil, err
	}

	log.Debugf("Created runner with %s engine", e.Name())

	return &Runner{
		Options: &options,
		Engine:  e,
	}, nil
}

// Run launches the browser, captures the target page and writes the image
// to the output path. The existing output file is only replaced once a
// non-empty image has been captured.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	log.Debugf("Attempting capture on %s using %s", r.Options.TargetURL, r.Engine.Name())
	if r.Options.DelayBeforeCapture == 0 {
		log.Debugf("Capturing right after the load event; content rendered later by scripts may be missing")
	}

	shot, err := r.Engine.Capture(ctx, r.Options.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", r.Options.TargetURL, err)
	}
	if len(shot.Image) == 0 {
		return nil, fmt.Errorf("capture %s: %w", r.Options.TargetURL, ErrEmptyImage)
	}

	result := &Result{
		TargetURL:  shot.TargetURL,
		LandingURL: shot.LandingURL,
		StatusCode: shot.StatusCode,
		Image:      shot.Image,
		Engine:     r.Engine.Name(),
		Similarity: -1,
	}

	if r.Options.Imprint {
		result.Image, err = result.Image.AddTextToImage(r.Options.TargetURL)
		if err != nil {
			return nil, fmt.Errorf("imprint %s: %w", r.Options.TargetURL, err)
		}
	}

	if r.Options.CompareWithPrevious {
		result.Similarity = result.SimilarityToFile(r.Options.OutputPath)
	}

	result.OutputPath, err = result.WriteToFile(r.Options.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("save screenshot: %w", err)
	}

	result.Duration = time.Since(start)
	log.Infof("Screenshot of %s saved to %s", r.Options.TargetURL, result.OutputPath)

	return result, nil
}

func (o *Options) engineConfig() engine.Config {
	return engine.Config{
		CaptureWidth:       o.CaptureWidth,
		CaptureHeight:      o.CaptureHeight,
		CaptureFull:        o.CaptureFull,
		DelayBeforeCapture: o.DelayBeforeCapture,
		NavigationTimeout:  o.Timeout,
		NoSandbox:          o.NoSandbox,
		Stealth:            o.Stealth,
		InstallBrowsers:    o.InstallBrowsers,
	}
}

// SetLogLevel sets the log level based on the options
func SetLogLevel(options *Options) {
	if options.Silence {
		log.SetLevel(log.FatalLevel)
	} else if options.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
