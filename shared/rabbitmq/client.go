package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DelaySuffix is appended to a topic name to form its delay queue
const DelaySuffix = ".delay"

// ErrNotConnected is returned when the client has been closed
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Message is a single publication on a topic
type Message struct {
	ID    string
	Body  []byte
	Delay time.Duration
}

// Client is a RabbitMQ client that maps topics to durable queues. Every topic
// gets a companion delay queue whose messages dead-letter back into the topic
// once their per-message expiration elapses.
type Client struct {
	config  *Config
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger

	mu        sync.Mutex
	consumers []*amqp.Channel
	connected bool
}

// NewClient connects to RabbitMQ
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := max(c.config.RetryAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.ExchangeName, // name
		amqp.ExchangeDirect,   // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	c.connected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
	)

	return nil
}

// DeclareTopics declares the durable queue and delay queue of each topic
func (c *Client) DeclareTopics(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	for _, topic := range topics {
		if _, err := c.channel.QueueDeclare(topic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", topic, err)
		}

		if err := c.channel.QueueBind(topic, topic, c.config.ExchangeName, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", topic, err)
		}

		// Expired messages are routed back to the topic queue
		_, err := c.channel.QueueDeclare(topic+DelaySuffix, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    c.config.ExchangeName,
			"x-dead-letter-routing-key": topic,
		})
		if err != nil {
			return fmt.Errorf("failed to declare delay queue %s: %w", topic, err)
		}

		c.logger.Debug("Topic declared", slog.String("topic", topic))
	}

	return nil
}

// Publish publishes a message to a topic, retrying with exponential backoff.
// Messages with a positive Delay are parked in the topic's delay queue.
func (c *Client) Publish(ctx context.Context, topic string, msg Message) error {
	exchange := c.config.ExchangeName
	routingKey := topic

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		Body:         msg.Body,
		MessageId:    msg.ID,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}

	if msg.Delay > 0 {
		exchange = ""
		routingKey = topic + DelaySuffix
		publishing.Expiration = strconv.FormatInt(msg.Delay.Milliseconds(), 10)
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	backoff := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.publishOnce(ctx, exchange, routingKey, publishing)
		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.String("topic", topic),
				slog.String("message_id", msg.ID),
				slog.Duration("delay", msg.Delay),
			)
			return nil
		}

		if errors.Is(lastErr, ErrNotConnected) || attempt == maxRetries {
			break
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
			slog.String("topic", topic),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", backoff),
			slog.Any("error", lastErr),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to publish message: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * backoffMult)
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.String("topic", topic),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message to %s: %w", topic, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, exchange, routingKey string, publishing amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	return c.channel.PublishWithContext(ctx, exchange, routingKey, false, false, publishing)
}

// Consume opens a dedicated channel with the given prefetch and starts
// consuming the queue with manual acknowledgement
func (c *Client) Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, ErrNotConnected
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.consumers = append(c.consumers, ch)

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetch),
	)

	return deliveries, nil
}

// Close closes every channel and the connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")
	c.connected = false

	for _, ch := range c.consumers {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close consumer channel", slog.Any("error", err))
		}
	}
	c.consumers = nil

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			return err
		}
	}

	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && !c.conn.IsClosed()
}
