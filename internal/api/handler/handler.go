package handler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/email-verifier/internal/blacklist"
	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/internal/storage"
)

// Store is the persistence used by the management API
type Store interface {
	CreateRequest(ctx context.Context, req *domain.Request, jobs []domain.Job) error
	GetRequest(ctx context.Context, requestID string) (*domain.Request, error)
	GetRequestByIdempotencyKey(ctx context.Context, key string) (*domain.Request, error)
	SetRequestPaused(ctx context.Context, requestID string, paused bool) error
	ListRequests(ctx context.Context, filter storage.RequestFilter) ([]domain.Request, int, error)
	ReasonStats(ctx context.Context, requestIDs []string) (map[string]map[string]int, error)
	ListPendingJobs(ctx context.Context, requestID string) ([]domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
}

// Submitter queues a job for verification
type Submitter interface {
	Submit(ctx context.Context, id, email string, checkPaused bool, delay time.Duration) error
}

// Blacklist is the operator view of refused (ip, provider) pairs
type Blacklist interface {
	List(ctx context.Context, provider string) ([]blacklist.Item, error)
	Remove(ctx context.Context, item blacklist.Item) error
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

var (
	_ Store     = (*storage.Storage)(nil)
	_ Blacklist = (*blacklist.Store)(nil)
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     Store
	Submitter Submitter
	Blacklist Blacklist
	Checks    map[string]HealthCheck
}

// RequestHandler handles request-related HTTP requests. Job submission runs
// in the background after the response is written.
type RequestHandler struct {
	logger    *slog.Logger
	store     Store
	submitter Submitter
	wg        sync.WaitGroup
}

// NewRequestHandler creates a new RequestHandler instance
func NewRequestHandler(deps *Dependencies) *RequestHandler {
	return &RequestHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		submitter: deps.Submitter,
	}
}

// Wait blocks until background submissions have finished
func (h *RequestHandler) Wait() {
	h.wg.Wait()
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}

// BlacklistHandler handles blacklist HTTP requests
type BlacklistHandler struct {
	logger    *slog.Logger
	blacklist Blacklist
}

// NewBlacklistHandler creates a new BlacklistHandler instance
func NewBlacklistHandler(deps *Dependencies) *BlacklistHandler {
	return &BlacklistHandler{
		logger:    deps.Logger,
		blacklist: deps.Blacklist,
	}
}
