package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
)

const requeueTimeout = 5 * time.Second

// setupConsumer starts consuming the worker's topic. Prefetch equals the pool
// size so the broker never hands this consumer more jobs than it can run.
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	deliveries, err := w.broker.Consume(w.topic, w.id, w.concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming %s: %w", w.topic, err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.id),
		slog.Int("prefetch_count", w.concurrency),
	)

	return deliveries, nil
}

// startMessageDispatcher hands deliveries to the worker pool until the
// context is canceled, Stop is called or the broker closes the channel
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - stopChan closed")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			select {
			case w.jobsChan <- delivery:
			case <-ctx.Done():
				w.requeue(delivery)
				return
			case <-w.stopChan:
				w.requeue(delivery)
				return
			}
		}
	}
}

// requeue hands a delivery back as a fresh message on the worker's topic.
// A broker-side requeue would come back flagged as redelivered and be
// charged as a stall, so that is only the fallback when republishing fails.
func (w *Worker) requeue(delivery amqp.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), requeueTimeout)
	defer cancel()

	msg := rabbitmq.Message{ID: delivery.MessageId, Body: delivery.Body}
	if err := w.broker.Publish(ctx, w.topic, msg); err != nil {
		w.logger.Warn("Failed to republish message, requeueing on the broker",
			slog.String("message_id", delivery.MessageId),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			w.logger.Error("Failed to NACK message",
				slog.String("message_id", delivery.MessageId),
				slog.Any("error", nackErr),
			)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK republished message",
			slog.String("message_id", delivery.MessageId),
			slog.Any("error", err),
		)
	}
}
