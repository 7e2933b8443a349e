// Package worker consumes verification jobs of one topic from one outbound
// IP and publishes a classified ValidationResponse for each of them.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/email-verifier/internal/blacklist"
	"github.com/cuongbtq/email-verifier/internal/validator"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
)

// Broker is the part of the RabbitMQ client a worker needs
type Broker interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	Publish(ctx context.Context, topic string, msg rabbitmq.Message) error
}

// Slots admits probes per receiving domain
type Slots interface {
	Enqueue(ctx context.Context, host, jobID string) error
	Dequeue(ctx context.Context, host, jobID string) error
}

// Blocklist records (ip, domain) pairs the receiving side refuses
type Blocklist interface {
	Contains(ctx context.Context, item blacklist.Item) (bool, error)
	Add(ctx context.Context, item blacklist.Item) error
}

// Releaser frees the submission reservation of a job
type Releaser interface {
	Release(ctx context.Context, jobID string) error
}

// Validator classifies one address
type Validator interface {
	Validate(ctx context.Context, email string) validator.Outcome
	Method() string
}

var _ Validator = (*validator.Engine)(nil)

// Config holds worker configuration
type Config struct {
	ID          string
	Topic       string
	IP          string
	Relay       string
	Concurrency int
	Lifetime    time.Duration
	ProbeRate   float64

	Logger    *slog.Logger
	Broker    Broker
	Validator Validator
	Slots     Slots
	Blocklist Blocklist
	Releaser  Releaser
}

// Worker is one (topic, outbound IP) consumer with a pool of goroutines
type Worker struct {
	id          string
	topic       string
	ip          string
	relay       string
	concurrency int
	lifetime    time.Duration

	logger    *slog.Logger
	broker    Broker
	validator Validator
	slots     Slots
	blocklist Blocklist
	releaser  Releaser
	limiter   *rate.Limiter

	jobsChan chan amqp.Delivery
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	limit := rate.Inf
	if cfg.ProbeRate > 0 {
		limit = rate.Limit(cfg.ProbeRate)
	}

	concurrency := max(cfg.Concurrency, 1)

	return &Worker{
		id:          cfg.ID,
		topic:       cfg.Topic,
		ip:          cfg.IP,
		relay:       cfg.Relay,
		concurrency: concurrency,
		lifetime:    cfg.Lifetime,
		logger:      cfg.Logger.With(slog.String("topic", cfg.Topic), slog.String("ip", cfg.IP)),
		broker:      cfg.Broker,
		validator:   cfg.Validator,
		slots:       cfg.Slots,
		blocklist:   cfg.Blocklist,
		releaser:    cfg.Releaser,
		limiter:     rate.NewLimiter(limit, 1),
		jobsChan:    make(chan amqp.Delivery),
		stopChan:    make(chan struct{}),
	}
}

// ID returns the worker id stamped on attempts
func (w *Worker) ID() string {
	return w.id
}

// Start consumes the topic until ctx is canceled or Stop is called, then
// waits for in-flight jobs to settle
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.id),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_lifetime", w.lifetime),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.id))
	return nil
}

// Stop asks the worker to stop taking new deliveries
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.id))
		close(w.stopChan)
	})
}
