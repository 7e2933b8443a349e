package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration. URL takes precedence over the
// discrete fields when set.
type Config struct {
	URL          string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps a go-redis client
type Client struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

// NewClient connects to Redis and verifies the connection with a ping
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	opts, err := options(config)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to Redis",
		slog.String("addr", opts.Addr),
		slog.Int("db", opts.DB),
	)

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		logger.Error("Failed to ping Redis", slog.Any("error", err))
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("Successfully connected to Redis")

	return &Client{rdb: rdb, logger: logger}, nil
}

func options(config *Config) (*goredis.Options, error) {
	if config.URL != "" {
		opts, err := goredis.ParseURL(config.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		if config.PoolSize > 0 {
			opts.PoolSize = config.PoolSize
		}
		return opts, nil
	}

	if config.Addr == "" {
		return nil, fmt.Errorf("redis addr or url is required")
	}

	return &goredis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}, nil
}

// GetClient returns the underlying go-redis client
func (c *Client) GetClient() *goredis.Client {
	return c.rdb
}

// HealthCheck pings Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection pool
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.rdb.Close()
}
