package domain

// VerificationRequest is the job submission message carried on request topics
type VerificationRequest struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Domain string `json:"domain"`
}

// ValidationResponse is produced by a worker for every handled job
type ValidationResponse struct {
	ID                     string                  `json:"id"`
	Email                  string                  `json:"email"`
	Domain                 string                  `json:"domain"`
	Valid                  bool                    `json:"valid"`
	IP                     string                  `json:"ip"`
	Reason                 ResultType              `json:"reason"`
	IsSMTP                 bool                    `json:"isSMTP"`
	CustomValidationResult *CustomValidationResult `json:"customValidationResult,omitempty"`
	AttemptData
}

// NewResponse starts a response for the request handled from ip
func NewResponse(req VerificationRequest, ip string) ValidationResponse {
	return ValidationResponse{
		ID:     req.ID,
		Email:  req.Email,
		Domain: req.Domain,
		IP:     ip,
	}
}

// FailedEvent reports a job that ended without a structured response
type FailedEvent struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

// Failure reasons reported without a structured response
const (
	FailureStalled        = "stalled"
	FailureInvalidPayload = "invalid payload"
	UnknownIP             = "unknown ip"
)
