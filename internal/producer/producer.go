// Package producer submits verification jobs to the topic of the workers
// able to handle their domain.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/router"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
)

// Publisher delivers a message to a topic, optionally delayed
type Publisher interface {
	Publish(ctx context.Context, topic string, msg rabbitmq.Message) error
}

// PauseChecker reports whether the request owning a job is paused
type PauseChecker interface {
	IsRequestPausedByJob(ctx context.Context, jobID string) (bool, error)
}

// Producer routes, deduplicates and publishes verification jobs
type Producer struct {
	publisher Publisher
	pauses    PauseChecker
	dedup     *Dedup
	logger    *slog.Logger
}

// NewProducer creates a new Producer
func NewProducer(publisher Publisher, pauses PauseChecker, dedup *Dedup, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		pauses:    pauses,
		dedup:     dedup,
		logger:    logger,
	}
}

// Submit queues job id for email after delay. With checkPaused set, a job
// whose request is paused, or that no longer exists, is silently dropped.
func (p *Producer) Submit(ctx context.Context, id, email string, checkPaused bool, delay time.Duration) error {
	if checkPaused {
		paused, err := p.pauses.IsRequestPausedByJob(ctx, id)
		if errors.Is(err, domain.ErrJobNotFound) {
			p.logger.Debug("Skipping submission of unknown job", slog.String("job_id", id))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check pause state: %w", err)
		}
		if paused {
			p.logger.Debug("Skipping submission of paused job", slog.String("job_id", id))
			return nil
		}
	}

	email = router.Normalize(email)
	host, err := router.DomainOf(email)
	if err != nil {
		return err
	}
	topic := router.TopicFor(host)

	reserved, err := p.dedup.Reserve(ctx, id, topic, delay)
	if err != nil {
		return err
	}
	if !reserved {
		p.logger.Debug("Job already queued", slog.String("job_id", id), slog.String("topic", topic))
		return nil
	}

	body, err := json.Marshal(domain.VerificationRequest{ID: id, Email: email, Domain: host})
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", id, err)
	}

	if err := p.publisher.Publish(ctx, topic, rabbitmq.Message{ID: id, Body: body, Delay: delay}); err != nil {
		if relErr := p.dedup.Release(context.WithoutCancel(ctx), id); relErr != nil {
			p.logger.Warn("Failed to release job reservation", slog.String("job_id", id), slog.Any("error", relErr))
		}
		return fmt.Errorf("failed to publish job %s: %w", id, err)
	}

	p.logger.Debug("Job submitted",
		slog.String("job_id", id),
		slog.String("topic", topic),
		slog.Duration("delay", delay),
	)

	return nil
}
