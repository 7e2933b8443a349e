package dto

import (
	"time"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

type CreateRequestRequest struct {
	Emails         []string `json:"emails" binding:"required,min=1,max=100000,dive,required"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type CreateRequestResponse struct {
	Request  RequestDTO `json:"request"`
	Rejected []string   `json:"rejected,omitempty"`
}

type ListRequestsRequest struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Status string `form:"status" binding:"omitempty,oneof=running completed"`
}

type ListRequestsResponse struct {
	Count int          `json:"count"`
	Rows  []RequestDTO `json:"rows"`
}

type RequestDTO struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Paused         bool           `json:"paused"`
	TotalCount     int            `json:"total_count"`
	CompletedCount int            `json:"completed_count"`
	Done           bool           `json:"done"`
	Stat           map[string]int `json:"stat,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// NewRequestDTO converts a stored request and its per-reason job counts
func NewRequestDTO(req domain.Request, stat map[string]int) RequestDTO {
	var key string
	if req.IdempotencyKey != nil {
		key = *req.IdempotencyKey
	}

	return RequestDTO{
		ID:             req.ID,
		IdempotencyKey: key,
		Paused:         req.Paused,
		TotalCount:     req.TotalCount,
		CompletedCount: req.CompletedCount,
		Done:           req.Done(),
		Stat:           stat,
		CreatedAt:      req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      req.UpdatedAt.Format(time.RFC3339),
	}
}
