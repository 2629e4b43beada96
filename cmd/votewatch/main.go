// Package main runs the votewatch terminal dashboard against a running
// aggregator.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vote-aggregator/internal/config"
	"vote-aggregator/internal/logger"
	"vote-aggregator/internal/tui"
)

func main() {
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg, err := config.LoadDashboard()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// The dashboard owns the terminal, so logs go to a file in debug mode.
	var logWriter io.Writer = io.Discard
	if cfg.Debug {
		logFile, err := os.OpenFile("votewatch.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			defer logFile.Close()
			logWriter = logFile
			fmt.Fprintf(os.Stderr, "Debug logs written to votewatch.log\n")
		} else {
			fmt.Fprintf(os.Stderr, "Warning: failed to open log file: %v\n", err)
		}
	}
	log := logger.NewWithWriter(cfg.Debug, "text", logWriter)
	log.WithField("aggregator", cfg.AggregatorURL).Info("votewatch starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := tui.Run(ctx, tui.NewClient(cfg.AggregatorURL, cfg.AdminToken), cfg.PollInterval); err != nil {
		log.WithError(err).Error("dashboard exited")
		fmt.Fprintf(os.Stderr, "votewatch: %v\n", err)
		os.Exit(1)
	}
}
