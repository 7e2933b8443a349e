package dto

import (
	"time"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

type ListJobsRequest struct {
	Status   string `form:"status" binding:"omitempty,oneof=REQUESTED FAILED COMPLETED"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID                 string          `json:"id"`
	RequestID          string          `json:"request_id"`
	Email              string          `json:"email"`
	Domain             string          `json:"domain"`
	Status             string          `json:"status"`
	VerificationResult *bool           `json:"verification_result"`
	Reason             string          `json:"reason,omitempty"`
	AttemptCount       int             `json:"attempt_count"`
	Attempts           domain.Attempts `json:"attempts"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

// NewJobDTO converts a stored job for the API
func NewJobDTO(job domain.Job) JobDTO {
	var result *bool
	if job.VerificationResult.Valid {
		result = &job.VerificationResult.Bool
	}

	attempts := job.Attempts
	if attempts == nil {
		attempts = domain.Attempts{}
	}

	return JobDTO{
		ID:                 job.ID,
		RequestID:          job.RequestID,
		Email:              job.Email,
		Domain:             job.Domain,
		Status:             job.Status,
		VerificationResult: result,
		Reason:             job.Reason,
		AttemptCount:       job.AttemptCount,
		Attempts:           attempts,
		CreatedAt:          job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          job.UpdatedAt.Format(time.RFC3339),
	}
}
