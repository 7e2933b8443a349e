package validator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

const (
	stageConnect  = "connect"
	stageGreeting = "greeting"
	stageHelo     = "HELO"
	stageMailFrom = "MAIL FROM"
	stageRcptTo   = "RCPT TO"
)

var (
	blacklistHints = []string{
		"blacklist", "black list", "blocklist", "block list", "blocked",
		"spamhaus", "spamcop", "barracuda", "dnsbl", "reputation",
	}
	inboxFullHints = []string{
		"mailbox full", "mailbox is full", "quota", "insufficient storage", "exceeded storage",
	}
	greylistHints = []string{
		"greylist", "graylist", "grey list", "gray list", "try again later", "temporarily deferred",
	}
	unknownUserHints = []string{
		"user unknown", "unknown user", "no such user", "does not exist", "doesn't exist",
		"invalid recipient", "recipient rejected", "address rejected", "mailbox unavailable",
		"not found", "5.1.1",
	}
)

// ProberConfig controls how RCPT probes are sent
type ProberConfig struct {
	Sender   string
	HeloName string
	Port     int
	Timeout  time.Duration
	// LocalIP binds outbound connections to one of the host's addresses
	LocalIP string
	// Relay routes connections through a SOCKS5 proxy when set
	Relay         string
	RelayUser     string
	RelayPassword string
}

// ProbeResult is the classified answer of one mail exchange
type ProbeResult struct {
	Accepted bool
	Code     int
	Reason   string
	Messages []string

	Invalid   bool
	InboxFull bool
	Blacklist bool
	Greylist  bool
	Timeout   bool
}

// Prober opens an SMTP session to an exchange and asks whether it accepts a
// recipient, without sending any message
type Prober struct {
	cfg    ProberConfig
	dialer proxy.ContextDialer
}

// NewProber creates a prober
func NewProber(cfg ProberConfig) (*Prober, error) {
	if cfg.Port == 0 {
		cfg.Port = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
		if _, host, ok := strings.Cut(cfg.Sender, "@"); ok {
			cfg.HeloName = host
		}
	}

	base := &net.Dialer{Timeout: cfg.Timeout}
	if cfg.LocalIP != "" {
		ip := net.ParseIP(cfg.LocalIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid local IP %q", cfg.LocalIP)
		}
		base.LocalAddr = &net.TCPAddr{IP: ip}
	}

	p := &Prober{cfg: cfg, dialer: base}
	if cfg.Relay == "" {
		return p, nil
	}

	var auth *proxy.Auth
	if cfg.RelayUser != "" || cfg.RelayPassword != "" {
		auth = &proxy.Auth{User: cfg.RelayUser, Password: cfg.RelayPassword}
	}

	socks, err := proxy.SOCKS5("tcp", cfg.Relay, auth, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay dialer: %w", err)
	}
	contextDialer, ok := socks.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("relay dialer does not support contexts")
	}
	p.dialer = contextDialer

	return p, nil
}

// Relay returns the proxy address probes go through, or ""
func (p *Prober) Relay() string {
	return p.cfg.Relay
}

// Probe runs HELO, MAIL FROM and RCPT TO against mxHost for email
func (p *Prober) Probe(ctx context.Context, mxHost, email string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	addr := net.JoinHostPort(mxHost, strconv.Itoa(p.cfg.Port))
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return failure(stageConnect, sessionErr(ctx, err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return failure(stageConnect, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, mxHost)
	if err != nil {
		return failure(stageGreeting, sessionErr(ctx, err))
	}
	defer client.Close()

	if err := client.Hello(p.cfg.HeloName); err != nil {
		return failure(stageHelo, sessionErr(ctx, err))
	}
	if err := client.Mail(p.cfg.Sender); err != nil {
		return failure(stageMailFrom, sessionErr(ctx, err))
	}

	rcptErr := client.Rcpt(email)
	_ = client.Quit()

	if rcptErr != nil {
		return failure(stageRcptTo, sessionErr(ctx, rcptErr))
	}

	return ProbeResult{
		Accepted: true,
		Code:     250,
		Messages: []string{stageRcptTo + ": accepted"},
	}
}

// sessionErr prefers the context error when the session was cut short by it,
// since closing the connection surfaces as a generic read error
func sessionErr(ctx context.Context, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// failure turns a session error into a classified result
func failure(stage string, err error) ProbeResult {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return classifyReply(stage, protoErr.Code, protoErr.Msg)
	}

	if isTimeout(err) {
		return ProbeResult{
			Reason:   smtpTimeoutReason,
			Messages: []string{smtpTimeoutMessage},
			Timeout:  true,
		}
	}

	return ProbeResult{
		Reason:   err.Error(),
		Messages: []string{fmt.Sprintf("%s failed: %s", stage, err.Error())},
	}
}

// classifyReply inspects a rejection. Mailbox-level verdicts only apply to
// RCPT TO since earlier stages are about the sender.
func classifyReply(stage string, code int, msg string) ProbeResult {
	reply := fmt.Sprintf("%d %s", code, msg)
	r := ProbeResult{
		Code:     code,
		Reason:   reply,
		Messages: []string{fmt.Sprintf("%s: %s", stage, reply)},
	}

	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, blacklistHints):
		r.Blacklist = true
	case code == 552 || containsAny(lower, inboxFullHints):
		r.InboxFull = true
	case (code >= 400 && code < 500) || containsAny(lower, greylistHints):
		r.Greylist = true
	case stage == stageRcptTo && (code == 550 || code == 551 || code == 553 || containsAny(lower, unknownUserHints)):
		r.Invalid = true
	case code == 554:
		// Without a mailbox verdict in the text, 554 is a policy refusal
		r.Blacklist = true
	}

	return r
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
