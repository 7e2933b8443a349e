// Package storage persists verification requests and jobs in PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/shared/postgresql"
)

// jobs per INSERT statement, well under the PostgreSQL parameter limit
const insertBatchSize = 1000

const requestColumns = `id, idempotency_key, paused, total_count, completed_count, created_at, updated_at`

// Storage handles all database operations on requests and jobs
type Storage struct {
	pg     *postgresql.Client
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		pg:     pg,
		db:     pg.GetDB(),
		logger: logger,
	}
}

// CreateRequest inserts a request and all of its jobs in one transaction
func (s *Storage) CreateRequest(ctx context.Context, req *domain.Request, jobs []domain.Job) error {
	err := s.pg.InTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO requests (` + requestColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		if _, err := tx.ExecContext(ctx, query,
			req.ID,
			req.IdempotencyKey,
			req.Paused,
			req.TotalCount,
			req.CompletedCount,
			req.CreatedAt,
			req.UpdatedAt,
		); err != nil {
			return err
		}

		insertJobs := `
			INSERT INTO jobs (
				id, request_id, email, domain, status,
				attempt_count, attempts, extra, created_at, updated_at
			) VALUES (
				:id, :request_id, :email, :domain, :status,
				:attempt_count, :attempts, :extra, :created_at, :updated_at
			)
		`
		for start := 0; start < len(jobs); start += insertBatchSize {
			end := min(start+insertBatchSize, len(jobs))
			if _, err := tx.NamedExecContext(ctx, insertJobs, jobs[start:end]); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrDuplicateRequest
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	s.logger.Info("Request created",
		slog.String("request_id", req.ID),
		slog.Int("total_count", req.TotalCount),
	)

	return nil
}

// GetRequest retrieves a request by its ID
func (s *Storage) GetRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`

	var req domain.Request
	if err := s.db.GetContext(ctx, &req, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}

	return &req, nil
}

// GetRequestByIdempotencyKey retrieves the request created with key
func (s *Storage) GetRequestByIdempotencyKey(ctx context.Context, key string) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE idempotency_key = $1`

	var req domain.Request
	if err := s.db.GetContext(ctx, &req, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request by idempotency key: %w", err)
	}

	return &req, nil
}

// SetRequestPaused sets or clears the paused flag of a request
func (s *Storage) SetRequestPaused(ctx context.Context, requestID string, paused bool) error {
	query := `UPDATE requests SET paused = $1, updated_at = NOW() WHERE id = $2`

	result, err := s.db.ExecContext(ctx, query, paused, requestID)
	if err != nil {
		return fmt.Errorf("failed to update request paused flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrRequestNotFound
	}

	s.logger.Info("Request paused flag updated",
		slog.String("request_id", requestID),
		slog.Bool("paused", paused),
	)

	return nil
}

// IsRequestPausedByJob reports whether the request owning a job is paused
func (s *Storage) IsRequestPausedByJob(ctx context.Context, jobID string) (bool, error) {
	query := `
		SELECT r.paused
		FROM jobs j
		JOIN requests r ON r.id = j.request_id
		WHERE j.id = $1
	`

	var paused bool
	if err := s.db.GetContext(ctx, &paused, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, domain.ErrJobNotFound
		}
		return false, fmt.Errorf("failed to check request paused flag: %w", err)
	}

	return paused, nil
}

// Request status filters for ListRequests
const (
	RequestStatusRunning   = "running"
	RequestStatusCompleted = "completed"
)

// RequestFilter selects a page of requests
type RequestFilter struct {
	Status string
	Page   int
	Limit  int
}

// ListRequests returns a page of non-empty requests, newest first, and the
// total number of requests matching the filter
func (s *Storage) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, int, error) {
	where := ` WHERE total_count > 0`
	switch filter.Status {
	case RequestStatusCompleted:
		where += ` AND completed_count >= total_count`
	case RequestStatusRunning:
		where += ` AND completed_count < total_count`
	}

	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM requests`+where); err != nil {
		return nil, 0, fmt.Errorf("failed to count requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM requests` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`

	requests := []domain.Request{}
	offset := (filter.Page - 1) * filter.Limit
	if err := s.db.SelectContext(ctx, &requests, query, filter.Limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list requests: %w", err)
	}

	return requests, count, nil
}

// ReasonStats counts jobs per reason for each request. Jobs without a reason
// yet are not counted.
func (s *Storage) ReasonStats(ctx context.Context, requestIDs []string) (map[string]map[string]int, error) {
	stats := make(map[string]map[string]int, len(requestIDs))
	if len(requestIDs) == 0 {
		return stats, nil
	}

	query := `
		SELECT request_id, reason, COUNT(*) AS count
		FROM jobs
		WHERE request_id = ANY($1) AND reason <> ''
		GROUP BY request_id, reason
	`

	var rows []struct {
		RequestID string `db:"request_id"`
		Reason    string `db:"reason"`
		Count     int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, pq.Array(requestIDs)); err != nil {
		return nil, fmt.Errorf("failed to aggregate reason stats: %w", err)
	}

	for _, row := range rows {
		if stats[row.RequestID] == nil {
			stats[row.RequestID] = make(map[string]int)
		}
		stats[row.RequestID][row.Reason] = row.Count
	}

	return stats, nil
}
