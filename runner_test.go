package screenprobe

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/root4loot/screenprobe/pkg/engine"
)

type fakeEngine struct {
	image []byte
	err   error
	block bool
	calls int
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Capture(ctx context.Context, target string) (*engine.Shot, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &engine.Shot{TargetURL: target, LandingURL: target, StatusCode: http.StatusOK, Image: f.image}, nil
}

// noisyPNG returns a PNG large enough for ssdeep to hash.
func noisyPNG(t *testing.T, seed int64) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	for x := 0; x < 96; x++ {
		for y := 0; y < 96; y++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func newTestRunner(t *testing.T, e engine.Engine) (*Runner, string) {
	t.Helper()

	options := DefaultOptions()
	options.OutputPath = filepath.Join(t.TempDir(), OutputPath)
	options.Silence = true
	SetLogLevel(options)

	return &Runner{Options: options, Engine: e}, options.OutputPath
}

func assertSingleFile(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", dir, err)
	}
	if len(entries) != 1 || entries[0].Name() != OutputPath {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only %s in %s, got %v", OutputPath, dir, names)
	}
}

func TestDefaultOptions(t *testing.T) {
	options := DefaultOptions()

	if options.TargetURL != "http://localhost:3002/" {
		t.Errorf("Expected TargetURL http://localhost:3002/, got %s", options.TargetURL)
	}
	if options.OutputPath != "screenshot.png" {
		t.Errorf("Expected OutputPath screenshot.png, got %s", options.OutputPath)
	}
	if options.Engine != engine.NameRod {
		t.Errorf("Expected engine %s, got %s", engine.NameRod, options.Engine)
	}
	if options.CaptureFull || options.Imprint {
		t.Errorf("Expected viewport capture without imprint by default")
	}
}

func TestNewRunnerWithOptions(t *testing.T) {
	runner, err := NewRunnerWithOptions(Options{Engine: engine.NamePlaywright, Silence: true})
	if err != nil {
		t.Fatalf("NewRunnerWithOptions returned error: %v", err)
	}

	if runner.Options.TargetURL != TargetURL {
		t.Errorf("Expected TargetURL to fall back to %s, got %s", TargetURL, runner.Options.TargetURL)
	}
	if runner.Options.OutputPath != OutputPath {
		t.Errorf("Expected OutputPath to fall back to %s, got %s", OutputPath, runner.Options.OutputPath)
	}
	if runner.Engine.Name() != engine.NamePlaywright {
		t.Errorf("Expected playwright engine, got %s", runner.Engine.Name())
	}
}

func TestNewRunnerWithUnknownEngine(t *testing.T) {
	_, err := NewRunnerWithOptions(Options{Engine: "webkit-native", Silence: true})
	if !errors.Is(err, engine.ErrUnknownEngine) {
		t.Fatalf("Expected ErrUnknownEngine, got %v", err)
	}
}

func TestRunWritesScreenshot(t *testing.T) {
	img := noisyPNG(t, 1)
	runner, path := newTestRunner(t, &fakeEngine{image: img})

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Screenshot was not written: %v", err)
	}
	if !bytes.Equal(written, img) {
		t.Errorf("Written file differs from captured image")
	}

	if result.OutputPath != path {
		t.Errorf("Expected OutputPath %s, got %s", path, result.OutputPath)
	}
	if result.TargetURL != TargetURL {
		t.Errorf("Expected TargetURL %s, got %s", TargetURL, result.TargetURL)
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("Expected status code 200, got %d", result.StatusCode)
	}
	if result.Similarity != -1 {
		t.Errorf("Expected similarity -1 without a previous file, got %d", result.Similarity)
	}

	assertSingleFile(t, filepath.Dir(path))
}

func TestRunServerAbsentLeavesFileUntouched(t *testing.T) {
	navErr := errors.New("navigation failed: net::ERR_CONNECTION_REFUSED")
	runner, path := newTestRunner(t, &fakeEngine{err: navErr})

	previous := []byte("previous screenshot")
	if err := os.WriteFile(path, previous, 0o644); err != nil {
		t.Fatalf("Failed to seed previous file: %v", err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}

	_, err := runner.Run(context.Background())
	if !errors.Is(err, navErr) {
		t.Fatalf("Expected navigation error, got %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Previous file is gone: %v", err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("Expected mtime %v to be unchanged, got %v", old, info.ModTime())
	}
	written, _ := os.ReadFile(path)
	if !bytes.Equal(written, previous) {
		t.Errorf("Previous file content changed")
	}

	assertSingleFile(t, filepath.Dir(path))
}

func TestRunServerAbsentWritesNothing(t *testing.T) {
	runner, path := newTestRunner(t, &fakeEngine{err: errors.New("connection refused")})

	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatalf("Expected error")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no screenshot, stat returned %v", err)
	}
}

func TestRunOverwrites(t *testing.T) {
	runner, path := newTestRunner(t, &fakeEngine{image: noisyPNG(t, 2)})

	if err := os.WriteFile(path, []byte("arbitrary content"), 0o600); err != nil {
		t.Fatalf("Failed to seed previous file: %v", err)
	}
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Screenshot missing: %v", err)
	}
	if !info.ModTime().After(old) {
		t.Errorf("Expected mtime after %v, got %v", old, info.ModTime())
	}
	if want := createdMode(t, filepath.Dir(path)); info.Mode().Perm() != want {
		t.Errorf("Expected mode %v, got %v", want, info.Mode().Perm())
	}
}

func TestRunRepeatable(t *testing.T) {
	img := noisyPNG(t, 3)
	fake := &fakeEngine{image: img}
	runner, path := newTestRunner(t, fake)

	for i := 0; i < 2; i++ {
		if _, err := runner.Run(context.Background()); err != nil {
			t.Fatalf("Run %d returned error: %v", i+1, err)
		}
		assertSingleFile(t, filepath.Dir(path))
	}

	if fake.calls != 2 {
		t.Errorf("Expected 2 captures, got %d", fake.calls)
	}
}

func TestRunComparesWithPrevious(t *testing.T) {
	img := noisyPNG(t, 4)
	runner, _ := newTestRunner(t, &fakeEngine{image: img})

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("First run returned error: %v", err)
	}

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Second run returned error: %v", err)
	}
	if result.Similarity != 100 {
		t.Errorf("Expected similarity 100 for identical captures, got %d", result.Similarity)
	}
}

func TestRunEmptyImage(t *testing.T) {
	runner, path := newTestRunner(t, &fakeEngine{image: nil})

	_, err := runner.Run(context.Background())
	if !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("Expected ErrEmptyImage, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no screenshot, stat returned %v", err)
	}
}

func TestRunImprint(t *testing.T) {
	img := noisyPNG(t, 5)
	runner, path := newTestRunner(t, &fakeEngine{image: img})
	runner.Options.Imprint = true

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Screenshot was not written: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(written))
	if err != nil {
		t.Fatalf("Written file is not a PNG: %v", err)
	}
	if cfg.Height <= 96 {
		t.Errorf("Expected imprinted image taller than 96px, got %d", cfg.Height)
	}
}

func TestRunHonoursCallerDeadline(t *testing.T) {
	runner, path := newTestRunner(t, &fakeEngine{block: true})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	_, err := runner.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("Run did not honour the deadline")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected no screenshot, stat returned %v", err)
	}
}

func TestTimeoutAppliesToNavigation(t *testing.T) {
	options := DefaultOptions()
	options.Timeout = 12

	if got := options.engineConfig().NavigationTimeout; got != 12 {
		t.Errorf("Expected navigation timeout 12, got %d", got)
	}
	if DefaultOptions().engineConfig().NavigationTimeout != 30 {
		t.Errorf("Expected default navigation timeout of 30 seconds")
	}
}

func TestRunWithBrowser(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser capture in short mode")
	}
	if _, found := launcher.LookPath(); !found {
		t.Skip("no chromium binary found")
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!doctype html><html><body><h1>fixture</h1></body></html>`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	options := DefaultOptions()
	options.TargetURL = srv.URL + "/"
	options.OutputPath = filepath.Join(t.TempDir(), OutputPath)
	options.NoSandbox = true
	options.Silence = true

	runner, err := NewRunnerWithOptions(*options)
	if err != nil {
		t.Fatalf("NewRunnerWithOptions returned error: %v", err)
	}

	result, err := runner.Run(context.Background())
	if errors.Is(err, engine.ErrBrowserUnavailable) {
		t.Skipf("could not start a browser: %v", err)
	}
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	info, err := os.Stat(result.OutputPath)
	if err != nil {
		t.Fatalf("Screenshot missing: %v", err)
	}
	if info.Size() == 0 {
		t.Errorf("Screenshot is empty")
	}
}
