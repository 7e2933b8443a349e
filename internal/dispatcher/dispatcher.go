// Package dispatcher turns worker outcomes into job state transitions and
// decides whether a job is verified again.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/storage"
)

// JobStore is the persistence the dispatcher drives
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	GetAttemptCount(ctx context.Context, jobID string) (int, error)
	CompleteJob(ctx context.Context, jobID string, u storage.JobUpdate) (bool, error)
	FinalizeJob(ctx context.Context, jobID string, verificationResult bool, reason string) (bool, error)
	FailJob(ctx context.Context, jobID string, u storage.JobUpdate) (bool, error)
}

// Submitter queues a job for another verification
type Submitter interface {
	Submit(ctx context.Context, id, email string, checkPaused bool, delay time.Duration) error
}

var _ JobStore = (*storage.Storage)(nil)

const (
	followUpAttempts       = 3
	defaultFollowUpBackoff = 500 * time.Millisecond
)

// Config holds the retry policy
type Config struct {
	RetryDelay      time.Duration
	SMTPMaxAttempts int
	HTTPMaxAttempts int
	// FollowUpBackoff is the first pause between tries of the step that
	// follows a stored failed attempt. It doubles on every try.
	FollowUpBackoff time.Duration
	Logger          *slog.Logger
}

// Dispatcher is the single place where retry and termination are decided
type Dispatcher struct {
	jobs       JobStore
	submitter  Submitter
	retryDelay time.Duration
	smtpMax    int
	httpMax    int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(jobs JobStore, submitter Submitter, cfg Config) *Dispatcher {
	if cfg.FollowUpBackoff <= 0 {
		cfg.FollowUpBackoff = defaultFollowUpBackoff
	}

	return &Dispatcher{
		jobs:       jobs,
		submitter:  submitter,
		retryDelay: cfg.RetryDelay,
		smtpMax:    cfg.SMTPMaxAttempts,
		httpMax:    cfg.HTTPMaxAttempts,
		backoff:    cfg.FollowUpBackoff,
		logger:     cfg.Logger,
	}
}

// CanTryAgain reports whether the job has attempt budget left on the SMTP
// or HTTP path. A job that no longer exists cannot be tried again.
func (d *Dispatcher) CanTryAgain(ctx context.Context, jobID string, isSMTP bool) (bool, error) {
	count, err := d.jobs.GetAttemptCount(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	limit := d.httpMax
	if isSMTP {
		limit = d.smtpMax
	}
	return count < limit, nil
}

// OnCompleted applies a worker's response to its job
func (d *Dispatcher) OnCompleted(ctx context.Context, resp domain.ValidationResponse) error {
	logger := d.logger.With(slog.String("job_id", resp.ID), slog.String("reason", resp.Reason.String()))

	update := storage.JobUpdate{
		VerificationResult: resp.Valid,
		Reason:             resp.Reason.String(),
		Attempt: domain.Attempt{
			IP:                     resp.IP,
			Reason:                 resp.Reason.String(),
			CustomValidationResult: resp.CustomValidationResult,
			AttemptData:            resp.AttemptData,
		},
	}

	switch {
	case resp.Reason.IsTerminal():
		if _, err := d.jobs.CompleteJob(ctx, resp.ID, update); err != nil {
			return err
		}
		logger.Debug("Job completed")
		return nil

	case resp.Reason == domain.ResultBounced:
		// No attempt was made, so the budget is not consulted
		logger.Info("Bounced", slog.String("ip", resp.IP), slog.String("domain", resp.Domain))
		return d.resubmit(ctx, resp.ID, resp.Email)
	}

	failed, err := d.jobs.FailJob(ctx, resp.ID, update)
	if err != nil {
		return err
	}
	if !failed {
		logger.Debug("Ignoring result for settled job")
		return nil
	}

	return d.followUp(ctx, logger, func(ctx context.Context) error {
		if !resp.IsSMTP && !resp.Reason.IsHTTPRetriable() {
			return d.finalize(ctx, logger, resp.ID, resp.Valid, resp.Reason.String())
		}

		canTry, err := d.CanTryAgain(ctx, resp.ID, resp.IsSMTP)
		if err != nil {
			return err
		}
		if !canTry {
			return d.finalize(ctx, logger, resp.ID, resp.Valid, resp.Reason.String())
		}

		logger.Debug("Retrying verification", slog.Duration("delay", d.retryDelay))
		return d.resubmit(ctx, resp.ID, resp.Email)
	})
}

// OnFailed handles a job that ended without a structured response
func (d *Dispatcher) OnFailed(ctx context.Context, jobID, reason string) error {
	logger := d.logger.With(slog.String("job_id", jobID))
	logger.Error("Job failed", slog.String("failed_reason", reason))

	failed, err := d.jobs.FailJob(ctx, jobID, storage.JobUpdate{
		Reason:  reason,
		Attempt: domain.Attempt{IP: domain.UnknownIP, Reason: reason},
	})
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}

	return d.followUp(ctx, logger, func(ctx context.Context) error {
		canTry, err := d.CanTryAgain(ctx, jobID, false)
		if err != nil {
			return err
		}
		if !canTry {
			return d.finalize(ctx, logger, jobID, false, reason)
		}

		job, err := d.jobs.GetJob(ctx, jobID)
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return d.resubmit(ctx, jobID, job.Email)
	})
}

// followUp runs the step that comes after a failed attempt was stored. The
// result message must not be redelivered from here on, since that would
// store the same attempt again, so step is retried in place. A job whose
// step keeps failing stays FAILED until its request is resumed.
func (d *Dispatcher) followUp(ctx context.Context, logger *slog.Logger, step func(context.Context) error) error {
	backoff := d.backoff

	for attempt := 1; ; attempt++ {
		err := step(ctx)
		if err == nil {
			return nil
		}

		if attempt == followUpAttempts || ctx.Err() != nil {
			logger.Error("Job left FAILED, resume its request to verify it again",
				slog.Int("tries", attempt),
				slog.Any("error", err),
			)
			return nil
		}

		logger.Warn("Follow-up failed, retrying",
			slog.Int("try", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (d *Dispatcher) resubmit(ctx context.Context, jobID, email string) error {
	if err := d.submitter.Submit(ctx, jobID, email, true, d.retryDelay); err != nil {
		return fmt.Errorf("failed to resubmit job %s: %w", jobID, err)
	}
	return nil
}

func (d *Dispatcher) finalize(ctx context.Context, logger *slog.Logger, jobID string, verificationResult bool, reason string) error {
	if _, err := d.jobs.FinalizeJob(ctx, jobID, verificationResult, reason); err != nil {
		return err
	}
	logger.Info("Job finalized without further retries")
	return nil
}
