package domain

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Job status constants
const (
	JobStatusRequested = "REQUESTED"
	JobStatusFailed    = "FAILED"
	JobStatusCompleted = "COMPLETED"
)

// Job is one verification lifecycle for one address
type Job struct {
	ID                 string       `db:"id" json:"id"`
	RequestID          string       `db:"request_id" json:"request_id"`
	Email              string       `db:"email" json:"email"`
	Domain             string       `db:"domain" json:"domain"`
	Status             string       `db:"status" json:"status"`
	VerificationResult sql.NullBool `db:"verification_result" json:"-"`
	Reason             string       `db:"reason" json:"reason,omitempty"`
	AttemptCount       int          `db:"attempt_count" json:"attempt_count"`
	Attempts           Attempts     `db:"attempts" json:"attempts"`
	Extra              Extra        `db:"extra" json:"extra,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Request is a batch of jobs submitted together
type Request struct {
	ID             string    `db:"id" json:"id"`
	IdempotencyKey *string   `db:"idempotency_key" json:"idempotency_key,omitempty"`
	Paused         bool      `db:"paused" json:"paused"`
	TotalCount     int       `db:"total_count" json:"total_count"`
	CompletedCount int       `db:"completed_count" json:"completed_count"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Done reports whether every job of the request reached COMPLETED
func (r *Request) Done() bool {
	return r.CompletedCount >= r.TotalCount
}

// CheckResult is the outcome of one check of the validation suite
type CheckResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// SMTPCheckResult is the outcome of the SMTP check
type SMTPCheckResult struct {
	Valid    bool     `json:"valid"`
	Reason   string   `json:"reason,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

// CustomValidationResult is the per-check detail recorded with an attempt
type CustomValidationResult struct {
	Valid      bool             `json:"valid"`
	Regex      *CheckResult     `json:"regex,omitempty"`
	Typo       *CheckResult     `json:"typo,omitempty"`
	Disposable *CheckResult     `json:"disposable,omitempty"`
	MX         *CheckResult     `json:"mx,omitempty"`
	SMTP       *SMTPCheckResult `json:"smtp,omitempty"`
}

// AttemptData carries the worker-side metadata of an attempt
type AttemptData struct {
	ValidatedRelay   string `json:"validatedRelay,omitempty"`
	ValidatedWorker  string `json:"validatedWorker,omitempty"`
	ValidationTime   int64  `json:"validationTime,omitempty"`
	ValidationMethod string `json:"validationMethod,omitempty"`
}

// Attempt is one processed verification attempt
type Attempt struct {
	IP                     string                  `json:"ip"`
	Date                   time.Time               `json:"date"`
	Reason                 string                  `json:"reason"`
	CustomValidationResult *CustomValidationResult `json:"customValidationResult,omitempty"`
	AttemptData
}

// Attempts is the append-only attempt history stored as JSONB
type Attempts []Attempt

// Scan implements sql.Scanner
func (a *Attempts) Scan(src any) error {
	return scanJSON(src, a)
}

// Value implements driver.Valuer
func (a Attempts) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Extra is an open string map stored as JSONB
type Extra map[string]string

// Scan implements sql.Scanner
func (e *Extra) Scan(src any) error {
	return scanJSON(src, e)
}

// Value implements driver.Valuer
func (e Extra) Value() (driver.Value, error) {
	if e == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e)
}

func scanJSON(src any, dest any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return json.Unmarshal(data, dest)
}
