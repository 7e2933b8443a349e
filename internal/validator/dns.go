package validator

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const fallbackNameserver = "8.8.8.8:53"

// Resolver looks up MX records directly against the configured nameservers
type Resolver struct {
	client  *dns.Client
	servers []string
}

// NewResolver creates a resolver. With no servers configured it reads
// /etc/resolv.conf and falls back to a public resolver.
func NewResolver(servers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	if len(servers) == 0 {
		if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
			for _, s := range conf.Servers {
				servers = append(servers, net.JoinHostPort(s, conf.Port))
			}
		}
	}
	if len(servers) == 0 {
		servers = []string{fallbackNameserver}
	}

	normalized := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		normalized = append(normalized, s)
	}

	return &Resolver{
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		servers: normalized,
	}
}

// LookupMX returns the MX records of host sorted by preference. A domain
// that does not exist yields no records and no error.
func (r *Resolver) LookupMX(ctx context.Context, host string) ([]*net.MX, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeMX)
	msg.RecursionDesired = true
	msg.SetEdns0(4096, false)

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}

		switch in.Rcode {
		case dns.RcodeSuccess:
			return parseMX(in.Answer), nil
		case dns.RcodeNameError:
			return nil, nil
		default:
			lastErr = fmt.Errorf("server %s answered %s", server, dns.RcodeToString[in.Rcode])
		}
	}

	return nil, fmt.Errorf("failed to resolve MX for %s: %w", host, lastErr)
}

func parseMX(answer []dns.RR) []*net.MX {
	records := make([]*net.MX, 0, len(answer))
	for _, rr := range answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		records = append(records, &net.MX{
			Host: strings.TrimSuffix(mx.Mx, "."),
			Pref: mx.Preference,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Pref < records[j].Pref
	})
	return records
}

// bestExchange picks the lowest-preference host. A null MX ("." per RFC 7505)
// does not count.
func bestExchange(records []*net.MX) string {
	for _, mx := range records {
		if mx.Host != "" {
			return mx.Host
		}
	}
	return ""
}
