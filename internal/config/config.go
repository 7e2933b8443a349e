package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. Values are read
// from YAML first and then overridden by environment variables.
type Config struct {
	Server       ServerConfig       `yaml:"server" envPrefix:"SERVER_"`
	Database     DatabaseConfig     `yaml:"database" envPrefix:"DATABASE_"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Redis        RedisConfig        `yaml:"redis" envPrefix:"REDIS_"`
	Logging      LoggingConfig      `yaml:"logging" envPrefix:"LOG_"`
	App          AppConfig          `yaml:"app" envPrefix:"APP_"`
	Worker       WorkerConfig       `yaml:"worker"`
	Verification VerificationConfig `yaml:"verification" envPrefix:"VERIFICATION_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Database        string        `yaml:"database" env:"NAME"`
	SSLMode         string        `yaml:"sslmode" env:"SSLMODE"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and publishing configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"HOST"`
	Port       int              `yaml:"port" env:"PORT"`
	User       string           `yaml:"user" env:"USER"`
	Password   string           `yaml:"password" env:"PASSWORD"`
	VHost      string           `yaml:"vhost" env:"VHOST"`
	Exchange   string           `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"`
	Output       string `yaml:"output" env:"OUTPUT"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"ENV"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Bindings        []WorkerBinding `yaml:"bindings"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// WorkerBinding binds one consumer to a topic and an outbound IP
type WorkerBinding struct {
	Topic       string `yaml:"topic"`
	IP          string `yaml:"ip"`
	Concurrency int    `yaml:"concurrency"`
}

// VerificationConfig holds the retry, admission and probing settings
type VerificationConfig struct {
	RetryDelay      time.Duration     `yaml:"retry_delay" env:"RETRY_DELAY"`
	SMTPMaxAttempts int               `yaml:"smtp_max_attempts" env:"SMTP_MAX_ATTEMPTS"`
	HTTPMaxAttempts int               `yaml:"http_max_attempts" env:"HTTP_MAX_ATTEMPTS"`
	CatchAllProbes  int               `yaml:"catchall_validation_count" env:"CATCHALL_VALIDATION_COUNT"`
	DedupWindow     time.Duration     `yaml:"dedup_window"`
	BlacklistTTL    time.Duration     `yaml:"blacklist_ttl" env:"BLACKLIST_TTL"`
	Concurrency     ConcurrencyConfig `yaml:"concurrency"`
	MaxJobLifetime  LifetimeConfig    `yaml:"max_job_lifetime"`
	SMTP            SMTPConfig        `yaml:"smtp" envPrefix:"SMTP_"`
	Disposable      DisposableConfig  `yaml:"disposable"`
}

// ConcurrencyConfig holds the per-domain probe limits
type ConcurrencyConfig struct {
	SMTP             int `yaml:"smtp"`
	CustomMultiplier int `yaml:"custom_multiplier"`
	Default          int `yaml:"default"`
}

// LifetimeConfig holds the maximum job lifetime per validation method
type LifetimeConfig struct {
	Default time.Duration `yaml:"default"`
	Custom  time.Duration `yaml:"custom"`
}

// SMTPConfig holds the SMTP probe settings
type SMTPConfig struct {
	Sender      string        `yaml:"sender" env:"SENDER"`
	HeloName    string        `yaml:"helo_name" env:"HELO_NAME"`
	Port        int           `yaml:"port"`
	Timeout     time.Duration `yaml:"timeout"`
	Relay       string        `yaml:"relay" env:"RELAY"`
	RelayUser   string        `yaml:"relay_user" env:"RELAY_USER"`
	RelayPass   string        `yaml:"relay_password" env:"RELAY_PASSWORD"`
	ProbeRate   float64       `yaml:"probe_rate"`
	Nameservers []string      `yaml:"nameservers" env:"NAMESERVERS"`
}

// DisposableConfig holds the disposable domain list source
type DisposableConfig struct {
	URL             string        `yaml:"url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.setDefaults()

	return &config, nil
}

func (c *Config) setDefaults() {
	v := &c.Verification
	if v.RetryDelay <= 0 {
		v.RetryDelay = time.Minute
	}
	if v.SMTPMaxAttempts <= 0 {
		v.SMTPMaxAttempts = 3
	}
	if v.HTTPMaxAttempts <= 0 {
		v.HTTPMaxAttempts = 5
	}
	if v.CatchAllProbes <= 0 {
		v.CatchAllProbes = 3
	}
	if v.DedupWindow <= 0 {
		v.DedupWindow = 30 * time.Minute
	}
	if v.BlacklistTTL <= 0 {
		v.BlacklistTTL = 24 * time.Hour
	}
	if v.Concurrency.SMTP <= 0 {
		v.Concurrency.SMTP = 1
	}
	if v.Concurrency.CustomMultiplier <= 0 {
		v.Concurrency.CustomMultiplier = 80
	}
	if v.MaxJobLifetime.Default <= 0 {
		v.MaxJobLifetime.Default = 2 * time.Minute
	}
	if v.SMTP.Port <= 0 {
		v.SMTP.Port = 25
	}
	if v.SMTP.Timeout <= 0 {
		v.SMTP.Timeout = 30 * time.Second
	}
	if v.Disposable.RefreshInterval <= 0 {
		v.Disposable.RefreshInterval = 24 * time.Hour
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "verification"
	}
}

// ConcurrencyFor returns the per-domain probe limit for a topic. The custom
// SMTP path is scaled by CustomMultiplier.
func (v *VerificationConfig) ConcurrencyFor(topic string) int {
	if topic == domain.TopicCustomVerificationRequested {
		return v.Concurrency.SMTP * v.Concurrency.CustomMultiplier
	}
	if v.Concurrency.Default > 0 {
		return v.Concurrency.Default
	}
	return v.Concurrency.SMTP
}

// LifetimeFor returns the maximum job lifetime for a validation method
func (v *VerificationConfig) LifetimeFor(method string) time.Duration {
	if method == domain.ValidationMethodCustom && v.MaxJobLifetime.Custom > 0 {
		return v.MaxJobLifetime.Custom
	}
	return v.MaxJobLifetime.Default
}

// MaxAttempts returns the attempt budget for the SMTP or HTTP path
func (v *VerificationConfig) MaxAttempts(isSMTP bool) int {
	if isSMTP {
		return v.SMTPMaxAttempts
	}
	return v.HTTPMaxAttempts
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateBroker() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.Redis.URL == "" && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr or url is required")
	}

	return nil
}

// ValidateAPIConfig checks the settings used by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateBroker()
}

// ValidateDispatcherConfig checks the settings used by the dispatcher service
func (c *Config) ValidateDispatcherConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateBroker()
}

// ValidateWorkerConfig checks the settings used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBroker(); err != nil {
		return err
	}

	if len(c.Worker.Bindings) == 0 {
		return fmt.Errorf("at least one worker binding is required")
	}

	for i, b := range c.Worker.Bindings {
		if !domain.IsRequestTopic(b.Topic) {
			return fmt.Errorf("worker binding %d: unknown topic %q", i, b.Topic)
		}
		if b.IP != "" && net.ParseIP(b.IP) == nil {
			return fmt.Errorf("worker binding %d: invalid ip %q", i, b.IP)
		}
		if b.Concurrency <= 0 {
			return fmt.Errorf("worker binding %d: concurrency must be greater than 0", i)
		}
	}

	if c.Verification.SMTP.Sender == "" {
		return fmt.Errorf("verification smtp sender is required")
	}

	return nil
}
