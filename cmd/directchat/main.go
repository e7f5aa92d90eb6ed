package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"directchat/internal/app"
	"directchat/internal/config"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// run blocks until ctx is cancelled, then shuts the application down
func run(ctx context.Context, logOutput io.Writer) error {
	// STEP 1: Optional .env file; the process environment still applies without it
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	// STEP 2: Load configuration with precedence (file > env > defaults)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg, logOutput)
	if err != nil {
		return err
	}

	// STEP 3: Create and start the application
	application, err := app.NewApplication(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("failed to start application: %w", err)
	}

	// STEP 4: Wait for shutdown signal
	<-ctx.Done()
	logger.Info("shutdown requested")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
