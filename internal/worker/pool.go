package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

// spawnWorkerPool spawns one goroutine per unit of concurrency
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}

	w.logger.Debug("Worker pool spawned", slog.Int("worker_count", w.concurrency))
}

// workerLoop processes deliveries until the dispatcher closes jobsChan
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.id, workerNum)

	for delivery := range w.jobsChan {
		w.settle(workerName, delivery, w.processJob(ctx, delivery))
	}
}

// settle acks a handled delivery, hands transient failures back to the
// topic and drops the rest
func (w *Worker) settle(workerName string, delivery amqp.Delivery, err error) {
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("message_id", delivery.MessageId),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	requeue := shouldRequeue(err)
	w.logger.Error("Job processing failed",
		slog.String("worker_name", workerName),
		slog.String("message_id", delivery.MessageId),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if requeue {
		w.requeue(delivery)
		return
	}

	if nackErr := delivery.Nack(false, false); nackErr != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("message_id", delivery.MessageId),
			slog.Any("error", nackErr),
		)
	}
}

// shouldRequeue reports whether a failed delivery is worth another try
func shouldRequeue(err error) bool {
	if errors.Is(err, domain.ErrInvalidPayload) {
		return false
	}

	var retryableErr *domain.RetryableError
	return errors.As(err, &retryableErr)
}
