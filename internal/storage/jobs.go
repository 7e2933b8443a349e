package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

const jobColumns = `
	id, request_id, email, domain, status, verification_result, reason,
	attempt_count, attempts, extra, created_at, updated_at
`

// JobUpdate is the outcome recorded by a job transition. VerificationResult
// is ignored when failing a job.
type JobUpdate struct {
	VerificationResult bool
	Reason             string
	Attempt            domain.Attempt
}

// GetJob retrieves a job by its ID
func (s *Storage) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// GetAttemptCount returns how many attempts have been recorded for a job
func (s *Storage) GetAttemptCount(ctx context.Context, jobID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT attempt_count FROM jobs WHERE id = $1`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrJobNotFound
		}
		return 0, fmt.Errorf("failed to get attempt count: %w", err)
	}

	return count, nil
}

// ListPendingJobs returns every job of a request that is not COMPLETED
func (s *Storage) ListPendingJobs(ctx context.Context, requestID string) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE request_id = $1 AND status <> $2 ORDER BY created_at, id`

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, requestID, domain.JobStatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}

	return jobs, nil
}

// CompleteJob moves a job to COMPLETED, appends the attempt and bumps the
// request's completed counter. It reports false when the job was already
// COMPLETED or does not exist.
func (s *Storage) CompleteJob(ctx context.Context, jobID string, u JobUpdate) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
			verification_result = $3,
			reason = $4,
			attempt_count = attempt_count + 1,
			attempts = attempts || $5::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status <> $2
		RETURNING request_id
	`

	return s.complete(ctx, jobID, "complete", query,
		domain.JobStatusCompleted, u.VerificationResult, u.Reason, stamp(u.Attempt, u.Reason),
	)
}

// FinalizeJob moves a job to COMPLETED with the verdict of its last attempt,
// without recording a new attempt. Used once the retry budget is spent.
func (s *Storage) FinalizeJob(ctx context.Context, jobID string, verificationResult bool, reason string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
			verification_result = $3,
			reason = $4,
			updated_at = NOW()
		WHERE id = $1 AND status <> $2
		RETURNING request_id
	`

	return s.complete(ctx, jobID, "finalize", query,
		domain.JobStatusCompleted, verificationResult, reason,
	)
}

func (s *Storage) complete(ctx context.Context, jobID, op, query string, args ...any) (bool, error) {
	var requestID string

	err := s.pg.InTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &requestID, query, append([]any{jobID}, args...)...); err != nil {
			return err
		}

		counter := `
			UPDATE requests
			SET completed_count = completed_count + 1,
				updated_at = NOW()
			WHERE id = $1 AND completed_count < total_count
		`
		_, err := tx.ExecContext(ctx, counter, requestID)
		return err
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Debug("Job already completed or not found",
				slog.String("job_id", jobID),
				slog.String("op", op),
			)
			return false, nil
		}
		return false, fmt.Errorf("failed to %s job: %w", op, err)
	}

	s.logger.Debug("Job completed",
		slog.String("job_id", jobID),
		slog.String("request_id", requestID),
	)

	return true, nil
}

// FailJob moves a job to FAILED, counts the attempt and appends it. It
// reports false when the job was already COMPLETED or does not exist.
func (s *Storage) FailJob(ctx context.Context, jobID string, u JobUpdate) (bool, error) {
	query := `
		UPDATE jobs
		SET status = $2,
			reason = $3,
			attempt_count = attempt_count + 1,
			attempts = attempts || $4::jsonb,
			updated_at = NOW()
		WHERE id = $1 AND status <> $5
	`

	result, err := s.db.ExecContext(ctx, query,
		jobID, domain.JobStatusFailed, u.Reason, stamp(u.Attempt, u.Reason), domain.JobStatusCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Debug("Job already completed or not found",
			slog.String("job_id", jobID),
			slog.String("op", "fail"),
		)
		return false, nil
	}

	return true, nil
}

// stamp fills the attempt date and reason and wraps it for JSONB append
func stamp(a domain.Attempt, reason string) domain.Attempts {
	if a.Date.IsZero() {
		a.Date = time.Now().UTC()
	}
	if a.Reason == "" {
		a.Reason = reason
	}
	return domain.Attempts{a}
}

// JobFilter selects a page of a request's jobs
type JobFilter struct {
	RequestID string
	Status    string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the position of the last job of the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs ordered newest first. The extra row
// tells the caller whether another page exists.
func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE request_id = $1`
	args := []any{filter.RequestID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	jobs := []domain.Job{}
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
