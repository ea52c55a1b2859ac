package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/replayops/recfleet/internal/api/handler"
	"github.com/replayops/recfleet/internal/api/router"
	"github.com/replayops/recfleet/internal/config"
	"github.com/replayops/recfleet/internal/scheduler"
	"github.com/replayops/recfleet/internal/scheduler/storage"
	"github.com/replayops/recfleet/shared/logger"
	"github.com/replayops/recfleet/shared/postgresql"
	"github.com/replayops/recfleet/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("COORDINATOR_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/coordinator/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateCoordinatorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting coordinator",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client and schema
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	store := storage.NewStore(dbClient, appLogger.Logger)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = store.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client for the dispatch kick bus
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Scheduling core
	svc := scheduler.NewService(store, appLogger.Logger, cfg.Scheduler.HeartbeatTolerance)
	dispatcher := scheduler.NewDispatcher(svc, appLogger.Logger, cfg.Scheduler.DispatchInterval)
	monitor := scheduler.NewMonitor(svc, appLogger.Logger, cfg.Scheduler.MonitorInterval, stallTimeouts(&cfg.Scheduler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			appLogger.Error("Dispatcher exited", slog.Any("error", err))
		}
	}()
	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			appLogger.Error("Monitor exited", slog.Any("error", err))
		}
	}()
	go consumeKicks(ctx, rabbitClient, dispatcher, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:     appLogger.Logger,
		Service:    svc,
		Dispatcher: dispatcher,
		Bus:        rabbitClient,
		DBClient:   dbClient,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("Coordinator is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down coordinator...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cleanup := func() {
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if dbClient != nil {
			dbClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Coordinator shutdown complete")
	return nil
}

// consumeKicks feeds bus kicks into the dispatcher. A closed delivery channel
// ends the loop; the periodic tick keeps dispatch alive without the bus.
func consumeKicks(ctx context.Context, client *rabbitmq.Client, dispatcher *scheduler.Dispatcher, logger *slog.Logger) {
	deliveries, err := client.ConsumeKicks("coordinator")
	if err != nil {
		logger.Error("Failed to consume dispatch kicks, relying on periodic dispatch",
			slog.Any("error", err),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-deliveries:
			if !ok {
				logger.Warn("Kick channel closed, relying on periodic dispatch")
				return
			}
			dispatcher.Kick()
		}
	}
}

// stallTimeouts builds the monitor limits, falling back to the defaults for
// any unset value.
func stallTimeouts(cfg *config.SchedulerConfig) scheduler.StallTimeouts {
	timeouts := scheduler.DefaultStallTimeouts()
	if cfg.AssignedTimeout > 0 {
		timeouts.Assigned = cfg.AssignedTimeout
	}
	if cfg.RecordingTimeout > 0 {
		timeouts.Recording = cfg.RecordingTimeout
	}
	if cfg.UploadingTimeout > 0 {
		timeouts.Uploading = cfg.UploadingTimeout
	}
	return timeouts
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

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the dispatch kick bus client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange,
		QueueName:         cfg.Queue,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
