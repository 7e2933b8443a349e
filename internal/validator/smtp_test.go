package validator

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMX is a scripted SMTP server. rcpt answers RCPT TO; an empty mail
// reply means 250.
type fakeMX struct {
	greeting string
	mail     string
	rcpt     func(addr string) string
	stall    bool
}

func startFakeMX(t *testing.T, mx fakeMX) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go mx.serve(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func (mx fakeMX) serve(conn net.Conn) {
	defer conn.Close()

	greeting := mx.greeting
	if greeting == "" {
		greeting = "220 mx.test ESMTP ready"
	}
	fmt.Fprintf(conn, "%s\r\n", greeting)
	if !strings.HasPrefix(greeting, "220") {
		return
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if mx.stall {
			continue
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))

		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			fmt.Fprint(conn, "250-mx.test\r\n250 8BITMIME\r\n")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			reply := mx.mail
			if reply == "" {
				reply = "250 2.1.0 OK"
			}
			fmt.Fprintf(conn, "%s\r\n", reply)
		case strings.HasPrefix(cmd, "RCPT TO"):
			addr := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line)[8:], "<"), ">")
			fmt.Fprintf(conn, "%s\r\n", mx.rcpt(addr))
		case strings.HasPrefix(cmd, "QUIT"):
			fmt.Fprint(conn, "221 bye\r\n")
			return
		default:
			fmt.Fprint(conn, "250 OK\r\n")
		}
	}
}

func newTestProber(t *testing.T, port int, timeout time.Duration) *Prober {
	t.Helper()
	p, err := NewProber(ProberConfig{
		Sender:   "probe@verifier.test",
		HeloName: "verifier.test",
		Port:     port,
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return p
}

func TestProber_Probe(t *testing.T) {
	tests := []struct {
		name   string
		mx     fakeMX
		assert func(t *testing.T, r ProbeResult)
	}{
		{
			name: "accepted",
			mx:   fakeMX{rcpt: func(string) string { return "250 2.1.5 OK" }},
			assert: func(t *testing.T, r ProbeResult) {
				assert.True(t, r.Accepted)
				assert.Equal(t, 250, r.Code)
			},
		},
		{
			name: "unknown user",
			mx:   fakeMX{rcpt: func(string) string { return "550 5.1.1 The email account that you tried to reach does not exist" }},
			assert: func(t *testing.T, r ProbeResult) {
				assert.False(t, r.Accepted)
				assert.True(t, r.Invalid)
				assert.Equal(t, 550, r.Code)
				assert.Contains(t, r.Messages[0], "RCPT TO: 550")
			},
		},
		{
			name: "mailbox full",
			mx:   fakeMX{rcpt: func(string) string { return "552 5.2.2 Mailbox full" }},
			assert: func(t *testing.T, r ProbeResult) {
				assert.True(t, r.InboxFull)
				assert.False(t, r.Invalid)
			},
		},
		{
			name: "greylisted",
			mx:   fakeMX{rcpt: func(string) string { return "451 4.7.1 Greylisting in action, please come back later" }},
			assert: func(t *testing.T, r ProbeResult) {
				assert.True(t, r.Greylist)
			},
		},
		{
			name: "blocked at MAIL FROM",
			mx: fakeMX{
				mail: "554 5.7.1 Service unavailable; client host blocked using zen.spamhaus.org",
				rcpt: func(string) string { return "250 OK" },
			},
			assert: func(t *testing.T, r ProbeResult) {
				assert.True(t, r.Blacklist)
				assert.Contains(t, r.Messages[0], "MAIL FROM")
			},
		},
		{
			name: "sender rejected is not a mailbox verdict",
			mx: fakeMX{
				mail: "550 5.7.0 sender domain has no SPF",
				rcpt: func(string) string { return "250 OK" },
			},
			assert: func(t *testing.T, r ProbeResult) {
				assert.False(t, r.Accepted)
				assert.False(t, r.Invalid)
			},
		},
		{
			name: "greeting refused",
			mx: fakeMX{
				greeting: "554 mx.test no service for you",
				rcpt:     func(string) string { return "250 OK" },
			},
			assert: func(t *testing.T, r ProbeResult) {
				assert.False(t, r.Accepted)
				assert.Equal(t, 554, r.Code)
				assert.True(t, r.Blacklist)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := startFakeMX(t, tt.mx)
			p := newTestProber(t, port, 5*time.Second)

			r := p.Probe(context.Background(), "127.0.0.1", "someone@example.com")

			tt.assert(t, r)
		})
	}
}

func TestProber_ReceivesRecipient(t *testing.T) {
	got := make(chan string, 1)
	port := startFakeMX(t, fakeMX{rcpt: func(addr string) string {
		got <- addr
		return "250 OK"
	}})

	r := newTestProber(t, port, 5*time.Second).Probe(context.Background(), "127.0.0.1", "someone@example.com")

	require.True(t, r.Accepted)
	assert.Equal(t, "someone@example.com", <-got)
}

func TestProber_Timeout(t *testing.T) {
	port := startFakeMX(t, fakeMX{stall: true, rcpt: func(string) string { return "250 OK" }})

	r := newTestProber(t, port, 200*time.Millisecond).Probe(context.Background(), "127.0.0.1", "someone@example.com")

	assert.True(t, r.Timeout)
	assert.Equal(t, smtpTimeoutReason, r.Reason)
	assert.Equal(t, []string{smtpTimeoutMessage}, r.Messages)
}

func TestProber_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	r := newTestProber(t, port, time.Second).Probe(context.Background(), "127.0.0.1", "someone@example.com")

	assert.False(t, r.Accepted)
	assert.False(t, r.Timeout)
	assert.Contains(t, r.Messages[0], "connect failed")
}

func TestNewProber(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p, err := NewProber(ProberConfig{Sender: "probe@verifier.test"})
		require.NoError(t, err)
		assert.Equal(t, 25, p.cfg.Port)
		assert.Equal(t, 30*time.Second, p.cfg.Timeout)
		assert.Equal(t, "verifier.test", p.cfg.HeloName)
		assert.Empty(t, p.Relay())
	})

	t.Run("invalid local IP", func(t *testing.T) {
		_, err := NewProber(ProberConfig{LocalIP: "not-an-ip"})
		require.Error(t, err)
	})

	t.Run("bound to local IP", func(t *testing.T) {
		p, err := NewProber(ProberConfig{LocalIP: "127.0.0.1"})
		require.NoError(t, err)
		d, ok := p.dialer.(*net.Dialer)
		require.True(t, ok)
		assert.Equal(t, "127.0.0.1:0", d.LocalAddr.String())
	})

	t.Run("through relay", func(t *testing.T) {
		p, err := NewProber(ProberConfig{Relay: "127.0.0.1:1080", RelayUser: "u", RelayPassword: "p"})
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:1080", p.Relay())
		_, isDirect := p.dialer.(*net.Dialer)
		assert.False(t, isDirect)
	})
}

func TestClassifyReply(t *testing.T) {
	tests := []struct {
		stage    string
		code     int
		msg      string
		expected ProbeResult
	}{
		{stageRcptTo, 550, "5.1.1 user unknown", ProbeResult{Invalid: true}},
		{stageRcptTo, 553, "mailbox name not allowed", ProbeResult{Invalid: true}},
		{stageRcptTo, 550, "5.7.1 blocked by policy, your IP has poor reputation", ProbeResult{Blacklist: true}},
		{stageRcptTo, 452, "4.2.2 mailbox is full", ProbeResult{InboxFull: true}},
		{stageRcptTo, 421, "service not available", ProbeResult{Greylist: true}},
		{stageRcptTo, 554, "transaction failed", ProbeResult{Blacklist: true}},
		{stageGreeting, 554, "no SMTP service here", ProbeResult{Blacklist: true}},
		{stageRcptTo, 554, "5.1.1 user unknown", ProbeResult{Invalid: true}},
		{stageMailFrom, 550, "user unknown", ProbeResult{}},
	}

	for _, tt := range tests {
		t.Run(tt.stage+" "+strconv.Itoa(tt.code)+" "+tt.msg, func(t *testing.T) {
			r := classifyReply(tt.stage, tt.code, tt.msg)

			assert.Equal(t, tt.expected.Invalid, r.Invalid)
			assert.Equal(t, tt.expected.InboxFull, r.InboxFull)
			assert.Equal(t, tt.expected.Blacklist, r.Blacklist)
			assert.Equal(t, tt.expected.Greylist, r.Greylist)
			assert.Equal(t, fmt.Sprintf("%d %s", tt.code, tt.msg), r.Reason)
		})
	}
}
