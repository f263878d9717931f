package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/okian/scorews/internal/streamclient"
)

// Default configuration constants.
const (
	defaultURL     = "ws://localhost:7727/"
	defaultTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		url      = flag.String("url", defaultURL, "Websocket URL of the service")
		resume   = flag.String("resume", "", "Resume from this score id; empty streams live only")
		duration = flag.Duration("duration", 0, "Stream for this long, then disconnect")
		token    = flag.String("token", "", "Bearer token")
		timeout  = flag.Duration("timeout", defaultTimeout, "Dial and close timeout")
		quiet    = flag.Bool("quiet", false, "Only print the summary")
		logLevel = flag.String("log", "info", "Log level")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		streamclient.ShowHelp(os.Stdout)
		return 0
	}

	if err := streamclient.SetupLogging(*logLevel); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return 2
	}

	config := &streamclient.Config{
		URL:      *url,
		Duration: *duration,
		Token:    *token,
		Timeout:  *timeout,
		Quiet:    *quiet,
	}
	if *resume != "" {
		id, err := strconv.ParseUint(*resume, 10, 64)
		if err != nil {
			os.Stderr.WriteString("invalid -resume: " + err.Error() + "\n")
			return 2
		}
		config.Resume = &id
	}

	// Interrupt asks the server for a resume id instead of dropping the connection.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := streamclient.Run(ctx, config, os.Stdout)
	streamclient.DisplayStats(context.Background(), stats)
	if next, ok := stats.NextResume(); ok {
		fmt.Fprintf(os.Stderr, "resume with: -resume %d\n", next)
	}

	if err == nil {
		err = streamclient.Verify(stats)
	}
	if err != nil {
		os.Stderr.WriteString("stream failed: " + err.Error() + "\n")
		if errors.Is(err, streamclient.ErrUnauthorized) {
			return 3
		}
		return 1
	}
	return 0
}
