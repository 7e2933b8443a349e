package validator

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

const (
	reasonRegex      = "Invalid regex"
	reasonDisposable = "Email was created using a disposable email service"
	reasonNoMX       = "MX record not found"

	defaultMXCacheTTL = 5 * time.Minute
)

// MXResolver resolves mail exchanges for a domain
type MXResolver interface {
	LookupMX(ctx context.Context, host string) ([]*net.MX, error)
}

// RecipientProber asks a mail exchange whether it accepts a recipient
type RecipientProber interface {
	Probe(ctx context.Context, mxHost, email string) ProbeResult
}

type mxEntry struct {
	host      string
	expiresAt time.Time
}

// Suite runs the check ladder: regex, typo, disposable, MX, SMTP. It stops
// at the first failing check.
type Suite struct {
	resolver   MXResolver
	prober     RecipientProber
	disposable *DisposableList

	cacheTTL time.Duration
	mu       sync.RWMutex
	mxCache  map[string]mxEntry
}

// NewSuite creates a suite
func NewSuite(resolver MXResolver, prober RecipientProber, disposable *DisposableList) *Suite {
	return &Suite{
		resolver:   resolver,
		prober:     prober,
		disposable: disposable,
		cacheTTL:   defaultMXCacheTTL,
		mxCache:    make(map[string]mxEntry),
	}
}

// BestMX returns the preferred exchange for host, caching answers briefly
// since every probe of a catch-all check resolves the same domain
func (s *Suite) BestMX(ctx context.Context, host string) (string, error) {
	host = strings.ToLower(host)

	s.mu.RLock()
	entry, ok := s.mxCache[host]
	s.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.host, nil
	}

	records, err := s.resolver.LookupMX(ctx, host)
	if err != nil {
		return "", err
	}
	best := bestExchange(records)
	if best == "" {
		return "", nil
	}

	s.mu.Lock()
	s.mxCache[host] = mxEntry{host: best, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()

	return best, nil
}

// Check runs every check against email
func (s *Suite) Check(ctx context.Context, email string) Output {
	var out Output

	local, host, _ := strings.Cut(email, "@")
	if !ValidSyntax(email) {
		out.Reason = reasonRegex
		out.Validators.Regex = &domain.CheckResult{Valid: false, Reason: reasonRegex}
		return out
	}
	out.Validators.Regex = &domain.CheckResult{Valid: true}

	if suggestion := SuggestDomain(host); suggestion != "" {
		out.Reason = fmt.Sprintf("Likely typo, suggested email: %s@%s", local, suggestion)
		out.Validators.Typo = &domain.CheckResult{Valid: false, Reason: out.Reason}
		return out
	}
	out.Validators.Typo = &domain.CheckResult{Valid: true}

	if s.disposable != nil && s.disposable.Contains(host) {
		out.Reason = reasonDisposable
		out.Validators.Disposable = &domain.CheckResult{Valid: false, Reason: reasonDisposable}
		return out
	}
	out.Validators.Disposable = &domain.CheckResult{Valid: true}

	mx, err := s.BestMX(ctx, host)
	if err != nil || mx == "" {
		out.Reason = reasonNoMX
		out.Validators.MX = &domain.CheckResult{Valid: false, Reason: reasonNoMX}
		return out
	}
	out.Validators.MX = &domain.CheckResult{Valid: true}

	probe := s.prober.Probe(ctx, mx, email)
	out.Messages = probe.Messages
	out.Validators.SMTP = &domain.SMTPCheckResult{
		Valid:    probe.Accepted,
		Reason:   probe.Reason,
		Messages: probe.Messages,
	}
	out.Invalid = probe.Invalid
	out.InboxFull = probe.InboxFull
	out.Blacklist = probe.Blacklist
	out.Greylist = probe.Greylist
	out.Timeout = probe.Timeout

	if !probe.Accepted {
		out.Reason = probe.Reason
		return out
	}

	out.Valid = true
	return out
}
