package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/email-verifier/internal/blacklist"
	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/router"
	"github.com/cuongbtq/email-verifier/internal/validator"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
)

const slotReleaseTimeout = 5 * time.Second

// processJob handles one delivery. A nil error means the outcome was
// published and the delivery can be acked.
func (w *Worker) processJob(ctx context.Context, delivery amqp.Delivery) error {
	var req domain.VerificationRequest
	if err := json.Unmarshal(delivery.Body, &req); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if req.ID == "" {
		req.ID = delivery.MessageId
	}
	if req.ID == "" {
		return fmt.Errorf("%w: missing job id", domain.ErrInvalidPayload)
	}

	// Released on pickup so the dispatcher can resubmit whatever this ends as
	w.release(ctx, req.ID)

	// A redelivery means the previous consumer died mid-job. Jobs handed
	// back at shutdown are republished fresh and do not land here.
	if delivery.Redelivered {
		w.logger.Warn("Job stalled", slog.String("job_id", req.ID))
		return w.reportFailure(ctx, req.ID, domain.FailureStalled)
	}

	if req.Domain == "" {
		host, err := router.DomainOf(router.Normalize(req.Email))
		if err != nil {
			return w.reportFailure(ctx, req.ID, domain.FailureInvalidPayload)
		}
		req.Domain = host
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return domain.NewRetryableError(fmt.Errorf("probe rate wait: %w", err))
	}

	resp, err := w.handle(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return domain.NewRetryableError(err)
		}
		w.logger.Error("Job failed without a result",
			slog.String("job_id", req.ID),
			slog.Any("error", err),
		)
		return w.reportFailure(ctx, req.ID, err.Error())
	}

	return w.publishResponse(ctx, resp)
}

func (w *Worker) release(ctx context.Context, jobID string) {
	if err := w.releaser.Release(context.WithoutCancel(ctx), jobID); err != nil {
		w.logger.Warn("Failed to release job reservation",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

// handle runs the per-job contract: blacklist check, slot admission, probe
// and slot release. Expected failure modes come back as a classified
// response; an error means no outcome could be produced at all.
func (w *Worker) handle(ctx context.Context, req domain.VerificationRequest) (domain.ValidationResponse, error) {
	resp := domain.NewResponse(req, w.ip)
	item := blacklist.Item{IP: w.ip, Provider: req.Domain}

	listed, err := w.blocklist.Contains(ctx, item)
	if err != nil {
		return resp, fmt.Errorf("blacklist lookup failed: %w", err)
	}
	if listed {
		w.logger.Debug("Bounce back because blacklisted", slog.String("job_id", req.ID), slog.String("domain", req.Domain))
		return bounce(resp), nil
	}

	if err := w.slots.Enqueue(ctx, req.Domain, req.ID); err != nil {
		w.logger.Debug("Bounce back because concurrency limit reached",
			slog.String("job_id", req.ID),
			slog.String("domain", req.Domain),
			slog.Any("error", err),
		)
		return bounce(resp), nil
	}
	defer w.releaseSlot(ctx, req)

	started := time.Now()
	out, err := w.probe(ctx, req)
	if err != nil {
		return resp, err
	}

	if out.Result == domain.ResultBlacklisted {
		if err := w.blocklist.Add(ctx, item); err != nil {
			w.logger.Warn("Failed to record blacklisting",
				slog.String("domain", req.Domain),
				slog.Any("error", err),
			)
		}
	}

	resp.Valid = out.Result == domain.ResultValid
	resp.Reason = out.Result
	resp.IsSMTP = out.IsSMTP
	if out.Result != domain.ResultCrash && out.Result != domain.ResultTimeout {
		resp.CustomValidationResult = out.Output.ValidationResult()
	}
	resp.AttemptData = domain.AttemptData{
		ValidatedRelay:   w.relay,
		ValidatedWorker:  w.id,
		ValidationTime:   time.Since(started).Milliseconds(),
		ValidationMethod: w.validator.Method(),
	}

	return resp, nil
}

// probe runs the validator under the job lifetime. A panic becomes CRASH and
// an expired lifetime becomes TIMEOUT. Cancellation of ctx itself is
// returned as an error so the delivery goes back to the queue.
func (w *Worker) probe(ctx context.Context, req domain.VerificationRequest) (validator.Outcome, error) {
	probeCtx, cancel := context.WithTimeout(ctx, w.lifetime)
	defer cancel()

	done := make(chan validator.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Validator panicked",
					slog.String("job_id", req.ID),
					slog.Any("panic", r),
				)
				done <- validator.Outcome{Result: domain.ResultCrash, IsSMTP: true}
			}
		}()
		done <- w.validator.Validate(probeCtx, req.Email)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-probeCtx.Done():
		if ctx.Err() != nil {
			return validator.Outcome{}, ctx.Err()
		}
		w.logger.Warn("Job exceeded its lifetime",
			slog.String("job_id", req.ID),
			slog.Duration("lifetime", w.lifetime),
		)
		return validator.Outcome{Result: domain.ResultTimeout, IsSMTP: true}, nil
	}
}

func (w *Worker) releaseSlot(ctx context.Context, req domain.VerificationRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), slotReleaseTimeout)
	defer cancel()

	if err := w.slots.Dequeue(ctx, req.Domain, req.ID); err != nil {
		w.logger.Warn("Failed to release concurrency slot",
			slog.String("job_id", req.ID),
			slog.String("domain", req.Domain),
			slog.Any("error", err),
		)
	}
}

func bounce(resp domain.ValidationResponse) domain.ValidationResponse {
	resp.Valid = false
	resp.Reason = domain.ResultBounced
	resp.IsSMTP = true
	return resp
}

// publishResponse publishes the outcome on the finished topic. Bounces are
// also published on the bounced topic for cross-cutting consumers.
func (w *Worker) publishResponse(ctx context.Context, resp domain.ValidationResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response for job %s: %w", resp.ID, err)
	}

	msg := rabbitmq.Message{ID: resp.ID, Body: body}
	if err := w.broker.Publish(ctx, domain.TopicVerificationFinished, msg); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to publish result: %w", err))
	}

	if resp.Reason == domain.ResultBounced {
		if err := w.broker.Publish(ctx, domain.TopicVerificationBounced, msg); err != nil {
			w.logger.Warn("Failed to publish bounce notice",
				slog.String("job_id", resp.ID),
				slog.Any("error", err),
			)
		}
	}

	w.logger.Debug("Job result published",
		slog.String("job_id", resp.ID),
		slog.String("reason", resp.Reason.String()),
	)
	return nil
}

// reportFailure publishes a failed event for a job that has no structured
// response
func (w *Worker) reportFailure(ctx context.Context, jobID, reason string) error {
	body, err := json.Marshal(domain.FailedEvent{JobID: jobID, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal failed event: %w", err)
	}

	if err := w.broker.Publish(ctx, domain.TopicVerificationFailed, rabbitmq.Message{ID: jobID, Body: body}); err != nil {
		return domain.NewRetryableError(fmt.Errorf("failed to publish failed event: %w", err))
	}
	return nil
}
