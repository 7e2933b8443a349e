// Package validator implements the custom SMTP verification path: syntax,
// typo and disposable checks, MX resolution, RCPT probing and catch-all
// detection.
package validator

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

// Checker runs the check suite against one address
type Checker interface {
	// BestMX returns the preferred exchange host, or "" when none exists
	BestMX(ctx context.Context, host string) (string, error)
	// Check runs regex, typo, disposable, MX and SMTP checks in order
	Check(ctx context.Context, email string) Output
}

// Engine classifies an address on the custom SMTP path
type Engine struct {
	checker        Checker
	catchAllProbes int
	logger         *slog.Logger
}

// NewEngine creates an engine that issues catchAllProbes random probes when
// the real address is accepted
func NewEngine(checker Checker, catchAllProbes int, logger *slog.Logger) *Engine {
	return &Engine{
		checker:        checker,
		catchAllProbes: catchAllProbes,
		logger:         logger,
	}
}

// Method names the validation method stamped on attempts
func (e *Engine) Method() string {
	return domain.ValidationMethodCustom
}

// Validate implements the worker's validator contract
func (e *Engine) Validate(ctx context.Context, email string) Outcome {
	return e.ValidateCustom(ctx, email)
}

// ValidateCustom runs the custom algorithm. Every outcome is SMTP-path.
func (e *Engine) ValidateCustom(ctx context.Context, email string) Outcome {
	_, host, _ := strings.Cut(email, "@")
	host = strings.ToLower(host)

	e.logger.Debug("Validating email", slog.String("email", email), slog.String("validator", "custom"))

	bestMX, err := e.checker.BestMX(ctx, host)
	if err != nil {
		reason := "MX lookup failed: " + err.Error()
		return Outcome{
			Result: domain.ResultUnknown,
			Output: Output{
				Reason:     reason,
				Validators: Validators{MX: &domain.CheckResult{Valid: false, Reason: reason}},
			},
			IsSMTP: true,
		}
	}
	if bestMX == "" {
		return Outcome{
			Result: domain.ResultNoMXRecord,
			Output: Output{
				Reason:     "MX record not found",
				Validators: Validators{MX: &domain.CheckResult{Valid: false, Reason: "MX record not found"}},
			},
			IsSMTP: true,
		}
	}

	out := e.checker.Check(ctx, email)

	if !passed(out.Validators.MX) || !passed(out.Validators.Disposable) {
		return Outcome{Result: domain.ResultInvalid, Output: out, IsSMTP: true}
	}

	if !smtpPassed(out.Validators.SMTP) {
		return classifyRejection(out)
	}

	if e.acceptsAnyRecipient(ctx, host) {
		out.CatchAll = true
		return Outcome{Result: domain.ResultCatchAll, Output: out, IsSMTP: true}
	}
	return Outcome{Result: domain.ResultValid, Output: out, IsSMTP: true}
}

// classifyRejection maps a failed SMTP check onto a result code, in priority order
func classifyRejection(out Output) Outcome {
	result := domain.ResultUnknown

	switch {
	case out.Invalid:
		result = domain.ResultInvalid
	case out.InboxFull:
		result = domain.ResultInboxFull
	case out.Blacklist:
		result = domain.ResultBlacklisted
	case out.Greylist:
		result = domain.ResultGreylisted
	case out.CatchAll:
		result = domain.ResultCatchAll
	case out.Timeout:
		out.Validators.SMTP = &domain.SMTPCheckResult{Valid: false, Reason: string(domain.ResultTimeout)}
		out.Reason = string(domain.ResultTimeout)
		result = domain.ResultTimeout
	case mentionsTimeout(out):
		result = domain.ResultTimeout
	}

	return Outcome{Result: result, Output: out, IsSMTP: true}
}

func mentionsTimeout(out Output) bool {
	if out.Reason == smtpTimeoutReason || slices.Contains(out.Messages, smtpTimeoutMessage) {
		return true
	}
	s := out.Validators.SMTP
	return s != nil && (s.Reason == smtpTimeoutReason || slices.Contains(s.Messages, smtpTimeoutMessage))
}

// acceptsAnyRecipient probes random local parts at host in parallel and
// reports whether every one of them was accepted
func (e *Engine) acceptsAnyRecipient(ctx context.Context, host string) bool {
	if e.catchAllProbes <= 0 {
		return false
	}

	accepted := make([]bool, e.catchAllProbes)

	var g errgroup.Group
	for i := range accepted {
		g.Go(func() error {
			probe := e.checker.Check(ctx, randomEmail(host))
			accepted[i] = smtpPassed(probe.Validators.SMTP)
			return nil
		})
	}
	_ = g.Wait()

	e.logger.Debug("Catch-all probes finished",
		slog.String("domain", host),
		slog.Any("accepted", accepted),
	)

	return !slices.Contains(accepted, false)
}
