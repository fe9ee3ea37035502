// Command verify captures http://localhost:3002/ into ./screenshot.png with a
// headless browser. It takes no arguments; any failure exits with status 1.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/screenprobe"
	"github.com/root4loot/screenprobe/pkg/engine"
)

func init() {
	log.Init("verify")
}

func main() {
	runner, err := screenprobe.NewRunner()
	if err != nil {
		log.Errorf("Could not create runner: %v", err)
		os.Exit(1)
	}

	os.Exit(run(context.Background(), runner))
}

// run performs one capture and returns the process exit code.
func run(ctx context.Context, runner *screenprobe.Runner) int {
	if _, err := runner.Run(ctx); err != nil {
		log.Errorf("%s", captureErrorMessage(runner.Options.TargetURL, err))
		return 1
	}
	return 0
}

func captureErrorMessage(target string, err error) string {
	switch {
	case errors.Is(err, engine.ErrBrowserUnavailable):
		return fmt.Sprintf("Could not start a headless browser: %s", unwrapError(err))
	case isConnectionRefused(err):
		return fmt.Sprintf("Nothing is listening on %s", target)
	case isTimeoutError(err):
		return fmt.Sprintf("Timed out capturing %s", target)
	default:
		return fmt.Sprintf("Error capturing screenshot for %s: %s", target, unwrapError(err))
	}
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "net::ERR_CONNECTION_REFUSED") ||
		strings.Contains(errMessage, "connection refused")
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errMessage := getFullErrorMessage(err)
	return strings.Contains(errMessage, "context deadline exceeded") ||
		strings.Contains(strings.ToLower(errMessage), "timeout")
}

func getFullErrorMessage(err error) string {
	var sb strings.Builder
	for err != nil {
		sb.WriteString(err.Error())
		err = errors.Unwrap(err)
		if err != nil {
			sb.WriteString(" | ")
		}
	}
	return sb.String()
}

// unwrapError returns the message of the innermost error in the first
// wrap chain.
func unwrapError(err error) string {
	rootErr := err
	for {
		unwrappedErr := errors.Unwrap(rootErr)
		if unwrappedErr == nil {
			break
		}
		rootErr = unwrappedErr
	}
	return fmt.Sprint(rootErr)
}
