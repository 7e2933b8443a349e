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
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/email-verifier/internal/blacklist"
	"github.com/cuongbtq/email-verifier/internal/concurrency"
	"github.com/cuongbtq/email-verifier/internal/config"
	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/producer"
	"github.com/cuongbtq/email-verifier/internal/validator"
	"github.com/cuongbtq/email-verifier/internal/worker"
	"github.com/cuongbtq/email-verifier/shared/logger"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
	"github.com/cuongbtq/email-verifier/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("bindings", len(cfg.Worker.Bindings)),
	)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	disposable := validator.NewDisposableList(cfg.Verification.Disposable.URL, appLogger.Component("disposable"))
	g.Go(func() error {
		disposable.Run(gctx, cfg.Verification.Disposable.RefreshInterval)
		return nil
	})

	workers, err := buildWorkers(cfg, appLogger, redisClient, rabbitClient, disposable)
	if err != nil {
		return err
	}

	for _, w := range workers {
		g.Go(func() error {
			if err := w.Start(gctx); err != nil {
				return fmt.Errorf("worker %s: %w", w.ID(), err)
			}
			return nil
		})
	}

	appLogger.Info("Worker service started successfully", slog.Int("workers", len(workers)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case <-gctx.Done():
		appLogger.Error("Worker failed, shutting down")
	}

	for _, w := range workers {
		w.Stop()
	}
	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			appLogger.Error("Worker error", slog.Any("error", err))
			return err
		}
		appLogger.Info("Workers stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// buildWorkers creates one worker per (topic, ip) binding. Probers are bound
// to their outbound IP, so each IP gets its own engine.
func buildWorkers(
	cfg *config.Config,
	appLogger *logger.Logger,
	redisClient *redis.Client,
	rabbitClient *rabbitmq.Client,
	disposable *validator.DisposableList,
) ([]*worker.Worker, error) {
	v := &cfg.Verification
	rdb := redisClient.GetClient()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	resolver := validator.NewResolver(v.SMTP.Nameservers, v.SMTP.Timeout)
	blocklist := blacklist.NewStore(rdb, "", v.BlacklistTTL)
	dedup := producer.NewDedup(rdb, "", v.DedupWindow)
	engineLogger := appLogger.Component("validator")

	registries := make(map[string]*worker.Registry)
	probers := make(map[string]*validator.Prober)
	workers := make([]*worker.Worker, 0, len(cfg.Worker.Bindings))

	for _, b := range cfg.Worker.Bindings {
		registry, ok := registries[b.IP]
		if !ok {
			prober, err := validator.NewProber(validator.ProberConfig{
				Sender:        v.SMTP.Sender,
				HeloName:      v.SMTP.HeloName,
				Port:          v.SMTP.Port,
				Timeout:       v.SMTP.Timeout,
				LocalIP:       b.IP,
				Relay:         v.SMTP.Relay,
				RelayUser:     v.SMTP.RelayUser,
				RelayPassword: v.SMTP.RelayPass,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create prober for %s: %w", b.IP, err)
			}

			suite := validator.NewSuite(resolver, prober, disposable)
			registry = worker.NewRegistry(validator.NewEngine(suite, v.CatchAllProbes, engineLogger))
			registries[b.IP] = registry
			probers[b.IP] = prober
		}

		validate := registry.For(b.Topic)
		workers = append(workers, worker.NewWorker(&worker.Config{
			ID:          fmt.Sprintf("%s-%s-%s", hostname, b.Topic, b.IP),
			Topic:       b.Topic,
			IP:          b.IP,
			Relay:       probers[b.IP].Relay(),
			Concurrency: b.Concurrency,
			Lifetime:    v.LifetimeFor(validate.Method()),
			ProbeRate:   v.SMTP.ProbeRate,
			Logger:      appLogger.Component("worker"),
			Broker:      rabbitClient,
			Validator:   validate,
			Slots: concurrency.NewManager(rdb, concurrency.Config{
				Limit:   v.ConcurrencyFor(b.Topic),
				SlotTTL: v.LifetimeFor(validate.Method()),
			}),
			Blocklist: blocklist,
			Releaser:  dedup,
		}))
	}

	return workers, nil
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
