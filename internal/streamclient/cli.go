package streamclient

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/scorews/pkg/logger"
)

// SetupLogging routes logs to stderr so stdout carries only scores.
func SetupLogging(level string) error {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.SetLevelString(level)
}

// ShowHelp prints usage information for the stream client.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Score Stream Client
===================

Connects to the score stream, prints every score, and on exit prints the
id to resume from.

Usage:
  go run ./cmd/stream-client [options]

Options:
  -url string
        Websocket URL of the service (default "ws://localhost:7727/")
  -resume string
        Resume from this score id; empty streams live only
  -duration duration
        Stream for this long, then disconnect (default 0, until interrupted)
  -token string
        Bearer token when the server requires authentication
  -timeout duration
        Dial and close timeout (default 10s)
  -quiet
        Only print the summary
  -log string
        Log level: off, error, warn, info, debug, trace (default "info")
  -help
        Show this help message

Examples:
  # Follow live scores for a minute
  go run ./cmd/stream-client -duration 1m

  # Pick up where a previous run stopped
  go run ./cmd/stream-client -resume 4213
`)
}
