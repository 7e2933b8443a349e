// Package concurrency bounds the number of in-flight probes per receiving
// domain across every worker process.
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

const defaultPrefix = "concurrency"

// acquireScript admits a job into the domain's slot set when there is room.
// Members are scored by slot expiry so that slots held by dead workers are
// reclaimed once the job lifetime elapses. Re-acquiring an owned slot
// refreshes its expiry.
//
// KEYS[1] slot set
// ARGV[1] now (ms), ARGV[2] slot expiry (ms), ARGV[3] limit, ARGV[4] job id,
// ARGV[5] key ttl (ms)
const acquireScript = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])

if not redis.call("ZSCORE", KEYS[1], ARGV[4]) then
    if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[3]) then
        return 0
    end
end

redis.call("ZADD", KEYS[1], ARGV[2], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`

// Config holds manager settings
type Config struct {
	// Limit is the maximum number of concurrent probes per domain
	Limit int
	// SlotTTL bounds how long a slot may be held, normally the max job lifetime
	SlotTTL time.Duration
	// Prefix namespaces the Redis keys
	Prefix string
}

// Manager is a Redis-backed per-domain slot table
type Manager struct {
	client  redis.UniversalClient
	script  *redis.Script
	limit   int
	slotTTL time.Duration
	prefix  string
	now     func() time.Time
}

// NewManager creates a manager over a shared Redis
func NewManager(client redis.UniversalClient, cfg Config) *Manager {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &Manager{
		client:  client,
		script:  redis.NewScript(acquireScript),
		limit:   cfg.Limit,
		slotTTL: cfg.SlotTTL,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (m *Manager) key(host string) string {
	return fmt.Sprintf("%s:%s", m.prefix, host)
}

// Enqueue claims a slot for jobID on host. It never waits: when the domain is
// at capacity it returns domain.ErrSlotUnavailable.
func (m *Manager) Enqueue(ctx context.Context, host, jobID string) error {
	now := m.now()
	expiry := now.Add(m.slotTTL)

	admitted, err := m.script.Run(ctx, m.client,
		[]string{m.key(host)},
		now.UnixMilli(),
		expiry.UnixMilli(),
		m.limit,
		jobID,
		m.slotTTL.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to acquire slot for %s: %w", host, err)
	}

	if admitted == 0 {
		return fmt.Errorf("%w for %s", domain.ErrSlotUnavailable, host)
	}
	return nil
}

// Dequeue releases jobID's slot on host. Releasing a slot that is not held is
// a no-op.
func (m *Manager) Dequeue(ctx context.Context, host, jobID string) error {
	if err := m.client.ZRem(ctx, m.key(host), jobID).Err(); err != nil {
		return fmt.Errorf("failed to release slot for %s: %w", host, err)
	}
	return nil
}

// InFlight returns the number of live slots held on host
func (m *Manager) InFlight(ctx context.Context, host string) (int64, error) {
	n, err := m.client.ZCount(ctx, m.key(host), fmt.Sprintf("(%d", m.now().UnixMilli()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count slots for %s: %w", host, err)
	}
	return n, nil
}

// Limit returns the configured per-domain limit
func (m *Manager) Limit() int {
	return m.limit
}
