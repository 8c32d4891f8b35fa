package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/smukkama/energy-reporting/internal/app"
	"github.com/smukkama/energy-reporting/internal/logging"
	"github.com/smukkama/energy-reporting/internal/schedule"
	"github.com/smukkama/energy-reporting/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log, "reporter")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting energy reporting service")

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	scheduler := schedule.New(logger)
	if err := a.Schedule(scheduler); err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}
	scheduler.Start()

	logger.Info("energy reporting service is running")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gracefully")
	scheduler.Stop()
}
