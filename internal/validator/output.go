package validator

import "github.com/cuongbtq/email-verifier/internal/domain"

const (
	smtpTimeoutReason  = "SMTP connection timed out."
	smtpTimeoutMessage = "failed: SMTP connection timed out."
)

// Validators holds the result of each check of the suite. A nil entry means
// the check did not run because an earlier one failed.
type Validators struct {
	Regex      *domain.CheckResult
	Typo       *domain.CheckResult
	Disposable *domain.CheckResult
	MX         *domain.CheckResult
	SMTP       *domain.SMTPCheckResult
}

// Output is the detailed result of running the suite against one address.
// The flags carry the classification of an SMTP rejection, except CatchAll
// which the engine sets once random recipients were all accepted.
type Output struct {
	Valid      bool
	Reason     string
	Validators Validators
	Messages   []string

	Invalid   bool
	InboxFull bool
	Blacklist bool
	Greylist  bool
	CatchAll  bool
	Timeout   bool
}

// Outcome is what a validator hands back to the worker
type Outcome struct {
	Result domain.ResultType
	Output Output
	IsSMTP bool
}

func passed(c *domain.CheckResult) bool {
	return c != nil && c.Valid
}

func smtpPassed(c *domain.SMTPCheckResult) bool {
	return c != nil && c.Valid
}

// ValidationResult projects the output onto the record stored with an attempt
func (o Output) ValidationResult() *domain.CustomValidationResult {
	r := &domain.CustomValidationResult{
		Valid:      o.Valid,
		Regex:      o.Validators.Regex,
		Typo:       o.Validators.Typo,
		Disposable: o.Validators.Disposable,
		MX:         o.Validators.MX,
		SMTP: &domain.SMTPCheckResult{
			Messages: o.Messages,
		},
	}
	if s := o.Validators.SMTP; s != nil {
		r.SMTP.Valid = s.Valid
		r.SMTP.Reason = s.Reason
	}
	return r
}
