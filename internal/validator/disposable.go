package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultDisposableURL is the community-maintained list of throwaway domains
const DefaultDisposableURL = "https://raw.githubusercontent.com/disposable/disposable-email-domains/master/domains.json"

var seedDisposable = []string{
	"10minutemail.com",
	"discard.email",
	"dispostable.com",
	"getnada.com",
	"guerrillamail.com",
	"mailinator.com",
	"maildrop.cc",
	"sharklasers.com",
	"temp-mail.org",
	"throwawaymail.com",
	"trashmail.com",
	"yopmail.com",
}

// DisposableList is a refreshable set of disposable email domains
type DisposableList struct {
	mu      sync.RWMutex
	domains map[string]struct{}

	url    string
	client *http.Client
	logger *slog.Logger
}

// NewDisposableList creates a list seeded with well-known providers. An empty
// url disables remote refresh.
func NewDisposableList(url string, logger *slog.Logger) *DisposableList {
	d := &DisposableList{
		domains: make(map[string]struct{}, len(seedDisposable)),
		url:     url,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
		logger: logger,
	}
	for _, domain := range seedDisposable {
		d.domains[domain] = struct{}{}
	}
	return d
}

// Contains reports whether host is a known disposable domain
func (d *DisposableList) Contains(host string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.domains[strings.ToLower(host)]
	return ok
}

// Len returns the number of known domains
func (d *DisposableList) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.domains)
}

// Refresh downloads the remote list and replaces the current set. The seed
// domains are always kept.
func (d *DisposableList) Refresh(ctx context.Context) error {
	if d.url == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build disposable list request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download disposable list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download disposable list: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read disposable list: %w", err)
	}

	var remote []string
	if err := json.Unmarshal(body, &remote); err != nil {
		return fmt.Errorf("failed to parse disposable list: %w", err)
	}

	domains := make(map[string]struct{}, len(remote)+len(seedDisposable))
	for _, domain := range seedDisposable {
		domains[domain] = struct{}{}
	}
	for _, domain := range remote {
		if domain = strings.ToLower(strings.TrimSpace(domain)); domain != "" {
			domains[domain] = struct{}{}
		}
	}

	d.mu.Lock()
	d.domains = domains
	d.mu.Unlock()

	return nil
}

// Run refreshes the list immediately and then every interval until ctx is done
func (d *DisposableList) Run(ctx context.Context, interval time.Duration) {
	if d.url == "" || interval <= 0 {
		return
	}

	d.refreshAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.refreshAndLog(ctx)
		}
	}
}

func (d *DisposableList) refreshAndLog(ctx context.Context) {
	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("Failed to refresh disposable domains", slog.Any("error", err))
		return
	}
	d.logger.Info("Disposable domains refreshed", slog.Int("count", d.Len()))
}
