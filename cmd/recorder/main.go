package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/replayops/recfleet/internal/config"
	"github.com/replayops/recfleet/internal/recorder"
	"github.com/replayops/recfleet/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("RECORDER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/recorder/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRecorderConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting recorder agent",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("worker_id", cfg.Recorder.WorkerID),
		slog.String("coordinator", cfg.Recorder.CoordinatorURL),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	uploader, err := recorder.NewUploader(ctx, cfg.Recorder.Upload, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize uploader: %w", err)
	}

	client := recorder.NewClient(
		cfg.Recorder.CoordinatorURL,
		cfg.Recorder.WorkerID,
		cfg.Recorder.RequestTimeout,
		appLogger.Logger,
	)

	agent := recorder.NewAgent(&recorder.AgentConfig{
		Client:       client,
		Uploader:     uploader,
		Logger:       appLogger.Logger,
		WorkerID:     cfg.Recorder.WorkerID,
		PollInterval: cfg.Recorder.PollInterval,
	})

	// Run the agent in a goroutine so signals interrupt it
	errChan := make(chan error, 1)
	go func() {
		errChan <- agent.Run(ctx)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down",
			slog.String("signal", sig.String()),
		)
		cancel()
		<-errChan
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			appLogger.Error("Agent error",
				slog.Any("error", err),
			)
			return err
		}
	}

	appLogger.Info("Recorder agent shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}
