package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

// Consumer starts a manual-ack consumer on a queue
type Consumer interface {
	Consume(queue, consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// ListenerConfig holds listener configuration
type ListenerConfig struct {
	ID          string
	Concurrency int
	Logger      *slog.Logger
}

// Listener feeds the result topics into a Dispatcher
type Listener struct {
	id          string
	concurrency int
	consumer    Consumer
	dispatcher  *Dispatcher
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// NewListener creates a new Listener
func NewListener(consumer Consumer, dispatcher *Dispatcher, cfg ListenerConfig) *Listener {
	return &Listener{
		id:          cfg.ID,
		concurrency: max(cfg.Concurrency, 1),
		consumer:    consumer,
		dispatcher:  dispatcher,
		logger:      cfg.Logger,
	}
}

// Start consumes every result topic until ctx is canceled
func (l *Listener) Start(ctx context.Context) error {
	for _, topic := range domain.ResultTopics {
		deliveries, err := l.consumer.Consume(topic, fmt.Sprintf("%s-%s", l.id, topic), l.concurrency)
		if err != nil {
			return fmt.Errorf("failed to start consuming %s: %w", topic, err)
		}

		for i := 0; i < l.concurrency; i++ {
			l.wg.Add(1)
			go l.loop(ctx, topic, deliveries)
		}
	}

	l.logger.Info("Result listener started",
		slog.Any("topics", domain.ResultTopics),
		slog.Int("concurrency", l.concurrency),
	)

	<-ctx.Done()
	l.wg.Wait()
	l.logger.Info("Result listener stopped")
	return nil
}

func (l *Listener) loop(ctx context.Context, topic string, deliveries <-chan amqp.Delivery) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				l.logger.Warn("RabbitMQ delivery channel closed", slog.String("topic", topic))
				return
			}
			l.settle(topic, delivery, l.handle(ctx, topic, delivery))
		}
	}
}

// handle routes one result message to the dispatcher
func (l *Listener) handle(ctx context.Context, topic string, delivery amqp.Delivery) error {
	switch topic {
	case domain.TopicVerificationFinished:
		var resp domain.ValidationResponse
		if err := json.Unmarshal(delivery.Body, &resp); err != nil || resp.ID == "" {
			return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, topic)
		}
		if err := l.dispatcher.OnCompleted(ctx, resp); err != nil {
			return domain.NewRetryableError(err)
		}

	case domain.TopicVerificationFailed:
		var event domain.FailedEvent
		if err := json.Unmarshal(delivery.Body, &event); err != nil || event.JobID == "" {
			return fmt.Errorf("%w: %s", domain.ErrInvalidPayload, topic)
		}
		if err := l.dispatcher.OnFailed(ctx, event.JobID, event.Reason); err != nil {
			return domain.NewRetryableError(err)
		}

	case domain.TopicVerificationBounced:
		// Bounces are settled through the finished topic
		l.logger.Debug("Bounce observed", slog.String("message_id", delivery.MessageId))
	}

	return nil
}

func (l *Listener) settle(topic string, delivery amqp.Delivery, err error) {
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			l.logger.Error("Failed to ACK message",
				slog.String("topic", topic),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	l.logger.Error("Result processing failed",
		slog.String("topic", topic),
		slog.String("message_id", delivery.MessageId),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		l.logger.Error("Failed to NACK message",
			slog.String("topic", topic),
			slog.Any("error", nackErr),
		)
	}
}

func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
