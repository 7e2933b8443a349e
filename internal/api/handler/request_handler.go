package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/email-verifier/internal/api/dto"
	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/router"
	"github.com/cuongbtq/email-verifier/internal/storage"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// CreateRequest handles POST /api/v1/requests
// Stores a batch of addresses and queues one job per distinct address
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req dto.CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	key := req.IdempotencyKey
	if header := c.GetHeader("X-Idempotency-Key"); header != "" {
		key = header
	}

	if key != "" {
		existing, err := h.store.GetRequestByIdempotencyKey(c.Request.Context(), key)
		if err == nil {
			c.JSON(http.StatusOK, dto.CreateRequestResponse{Request: dto.NewRequestDTO(*existing, nil)})
			return
		}
		if !errors.Is(err, domain.ErrRequestNotFound) {
			h.logger.Error("Failed to check idempotency key", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create request",
			})
			return
		}
	}

	now := time.Now().UTC()
	request := domain.Request{
		ID:        uuid.New().String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if key != "" {
		request.IdempotencyKey = &key
	}

	jobs, rejected := buildJobs(request.ID, req.Emails, now)
	if len(jobs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":    "No valid email address in request",
			"rejected": rejected,
		})
		return
	}
	request.TotalCount = len(jobs)

	if err := h.store.CreateRequest(c.Request.Context(), &request, jobs); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Request with this idempotency key already exists",
			})
			return
		}
		h.logger.Error("Failed to create request", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create request",
		})
		return
	}

	h.logger.Info("Request created",
		slog.String("request_id", request.ID),
		slog.Int("jobs", len(jobs)),
		slog.Int("rejected", len(rejected)),
	)

	h.submitAll(c.Request.Context(), request.ID, jobs, nil)

	c.JSON(http.StatusCreated, dto.CreateRequestResponse{
		Request:  dto.NewRequestDTO(request, nil),
		Rejected: rejected,
	})
}

// buildJobs creates one REQUESTED job per distinct routable address
func buildJobs(requestID string, emails []string, now time.Time) ([]domain.Job, []string) {
	seen := make(map[string]struct{}, len(emails))
	jobs := make([]domain.Job, 0, len(emails))
	var rejected []string

	for _, raw := range emails {
		email := router.Normalize(raw)
		host, err := router.DomainOf(email)
		if err != nil {
			rejected = append(rejected, raw)
			continue
		}

		dedupKey := strings.ToLower(email)
		if _, ok := seen[dedupKey]; ok {
			continue
		}
		seen[dedupKey] = struct{}{}

		jobs = append(jobs, domain.Job{
			ID:        uuid.New().String(),
			RequestID: requestID,
			Email:     email,
			Domain:    host,
			Status:    domain.JobStatusRequested,
			Attempts:  domain.Attempts{},
			Extra:     domain.Extra{},
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	return jobs, rejected
}

// submitAll queues jobs in the background without the pause check, then
// runs after. The request context is detached so the work outlives the
// response.
func (h *RequestHandler) submitAll(ctx context.Context, requestID string, jobs []domain.Job, after func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		submitted := 0
		for _, job := range jobs {
			if err := h.submitter.Submit(ctx, job.ID, job.Email, false, 0); err != nil {
				h.logger.Error("Failed to submit job",
					slog.String("request_id", requestID),
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			submitted++
		}

		h.logger.Info("Jobs submitted",
			slog.String("request_id", requestID),
			slog.Int("submitted", submitted),
			slog.Int("total", len(jobs)),
		)

		if after != nil {
			if err := after(ctx); err != nil {
				h.logger.Error("Failed to finish submission",
					slog.String("request_id", requestID),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// ListRequests handles GET /api/v1/requests
// Lists non-empty requests newest first with per-reason job counts
func (h *RequestHandler) ListRequests(c *gin.Context) {
	var req dto.ListRequestsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Limit <= 0 {
		req.Limit = defaultPageLimit
	}
	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}

	ctx := c.Request.Context()
	rows, count, err := h.store.ListRequests(ctx, storage.RequestFilter{
		Status: req.Status,
		Page:   req.Page,
		Limit:  req.Limit,
	})
	if err != nil {
		h.logger.Error("Failed to list requests", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list requests",
		})
		return
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}

	stats, err := h.store.ReasonStats(ctx, ids)
	if err != nil {
		h.logger.Error("Failed to load request stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list requests",
		})
		return
	}

	out := make([]dto.RequestDTO, len(rows))
	for i, row := range rows {
		out[i] = dto.NewRequestDTO(row, stats[row.ID])
	}

	c.JSON(http.StatusOK, dto.ListRequestsResponse{
		Count: count,
		Rows:  out,
	})
}

// GetRequest handles GET /api/v1/requests/:request_id
// Returns the progress of a request
func (h *RequestHandler) GetRequest(c *gin.Context) {
	request, ok := h.loadRequest(c)
	if !ok {
		return
	}

	stats, err := h.store.ReasonStats(c.Request.Context(), []string{request.ID})
	if err != nil {
		h.logger.Error("Failed to load request stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get request",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewRequestDTO(*request, stats[request.ID]))
}

// PauseRequest handles POST /api/v1/requests/:request_id/pause
// Further routing of the request's jobs is dropped until it is resumed
func (h *RequestHandler) PauseRequest(c *gin.Context) {
	request, ok := h.loadRequest(c)
	if !ok {
		return
	}

	if err := h.store.SetRequestPaused(c.Request.Context(), request.ID, true); err != nil {
		h.logger.Error("Failed to pause request", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to pause request",
		})
		return
	}

	h.logger.Info("Request paused", slog.String("request_id", request.ID))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResumeRequest handles POST /api/v1/requests/:request_id/resume
// Re-submits every job that is not COMPLETED, then clears the paused flag
func (h *RequestHandler) ResumeRequest(c *gin.Context) {
	request, ok := h.loadRequest(c)
	if !ok {
		return
	}

	if !request.Paused {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": domain.ErrRequestNotPaused.Error(),
		})
		return
	}

	jobs, err := h.store.ListPendingJobs(c.Request.Context(), request.ID)
	if err != nil {
		h.logger.Error("Failed to list pending jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resume request",
		})
		return
	}

	h.submitAll(c.Request.Context(), request.ID, jobs, func(ctx context.Context) error {
		return h.store.SetRequestPaused(ctx, request.ID, false)
	})

	h.logger.Info("Request resumed",
		slog.String("request_id", request.ID),
		slog.Int("pending_jobs", len(jobs)),
	)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListRequestJobs handles GET /api/v1/requests/:request_id/jobs
// Lists the jobs of a request newest first with cursor pagination
func (h *RequestHandler) ListRequestJobs(c *gin.Context) {
	request, ok := h.loadRequest(c)
	if !ok {
		return
	}

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageLimit
	}
	if req.PageSize > maxPageLimit {
		req.PageSize = maxPageLimit
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), storage.JobFilter{
		RequestID: request.ID,
		Status:    req.Status,
		PageSize:  req.PageSize,
		Cursor:    cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	out := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = dto.NewJobDTO(job)
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       out,
		NextCursor: nextCursor,
	})
}

// loadRequest resolves the :request_id parameter, writing the error
// response itself when it cannot
func (h *RequestHandler) loadRequest(c *gin.Context) (*domain.Request, bool) {
	requestID := c.Param("request_id")
	if _, err := uuid.Parse(requestID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "request_id must be a valid UUID",
		})
		return nil, false
	}

	request, err := h.store.GetRequest(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Request not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get request", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get request",
		})
		return nil, false
	}

	return request, true
}
