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

	"github.com/cuongbtq/email-verifier/internal/config"
	"github.com/cuongbtq/email-verifier/internal/dispatcher"
	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/producer"
	"github.com/cuongbtq/email-verifier/internal/storage"
	"github.com/cuongbtq/email-verifier/shared/logger"
	"github.com/cuongbtq/email-verifier/shared/postgresql"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
	"github.com/cuongbtq/email-verifier/shared/redis"
)

const listenerConcurrency = 8

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("DISPATCHER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/dispatcher-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateDispatcherConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting dispatcher service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Component("postgresql"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	redisClient, err := initRedis(&cfg.Redis, appLogger.Component("redis"))
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	if err := rabbitClient.DeclareTopics(domain.AllTopics()...); err != nil {
		return fmt.Errorf("failed to declare topics: %w", err)
	}

	v := &cfg.Verification
	store := storage.NewStorage(dbClient, appLogger.Component("storage"))
	dedup := producer.NewDedup(redisClient.GetClient(), "", v.DedupWindow)
	submitter := producer.NewProducer(rabbitClient, store, dedup, appLogger.Component("producer"))

	d := dispatcher.NewDispatcher(store, submitter, dispatcher.Config{
		RetryDelay:      v.RetryDelay,
		SMTPMaxAttempts: v.MaxAttempts(true),
		HTTPMaxAttempts: v.MaxAttempts(false),
		Logger:          appLogger.Component("dispatcher"),
	})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "dispatcher"
	}

	listener := dispatcher.NewListener(rabbitClient, d, dispatcher.ListenerConfig{
		ID:          hostname,
		Concurrency: listenerConcurrency,
		Logger:      appLogger.Component("listener"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- listener.Start(ctx)
	}()

	appLogger.Info("Dispatcher service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Listener error", slog.Any("error", err))
		}
		return err
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			return err
		}
		appLogger.Info("Listener stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Listener shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Dispatcher service shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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
	}, logger)
}

func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		URL:      cfg.URL,
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
