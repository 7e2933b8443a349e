package domain

// ResultType classifies the outcome of one verification attempt
type ResultType string

const (
	ResultValid         ResultType = "VALID"
	ResultInvalid       ResultType = "INVALID"
	ResultCatchAll      ResultType = "CATCH_ALL"
	ResultInboxFull     ResultType = "INBOX_FULL"
	ResultNoMXRecord    ResultType = "NO_MX_RECORD"
	ResultBounced       ResultType = "BOUNCED"
	ResultCrash         ResultType = "CRASH"
	ResultTimeout       ResultType = "TIMEOUT"
	ResultUnknown       ResultType = "UNKNOWN"
	ResultInvalidVendor ResultType = "INVALID_VENDOR"
	ResultAntiSpam      ResultType = "ANTI_SPAM"
	ResultBlacklisted   ResultType = "BLACKLISTED"
	ResultGreylisted    ResultType = "GREYLISTED"
)

// Validation methods stamped on attempts
const (
	ValidationMethodCustom = "CUSTOM"
)

// IsTerminal reports whether the result finalizes a job on first sight
func (r ResultType) IsTerminal() bool {
	switch r {
	case ResultValid, ResultInvalid, ResultCatchAll, ResultInboxFull, ResultNoMXRecord:
		return true
	}
	return false
}

// IsHTTPRetriable reports whether a non-SMTP result may be retried
func (r ResultType) IsHTTPRetriable() bool {
	switch r {
	case ResultCrash, ResultTimeout, ResultUnknown, ResultInvalidVendor, ResultAntiSpam:
		return true
	}
	return false
}

func (r ResultType) String() string {
	return string(r)
}
