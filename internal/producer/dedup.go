package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupPrefix = "queued"

// Dedup keeps one Redis key per queued job id so a job sits in the broker at
// most once. The worker releases the key when it picks the job up.
type Dedup struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

// NewDedup creates a Dedup. Keys live for the publish delay plus window, so
// a message lost by the broker cannot block its job forever.
func NewDedup(client redis.UniversalClient, prefix string, window time.Duration) *Dedup {
	if prefix == "" {
		prefix = defaultDedupPrefix
	}
	return &Dedup{client: client, prefix: prefix, window: window}
}

func (d *Dedup) key(jobID string) string {
	return fmt.Sprintf("%s:%s", d.prefix, jobID)
}

// Reserve claims the job id. It reports false when the job is already queued.
func (d *Dedup) Reserve(ctx context.Context, jobID, topic string, delay time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.key(jobID), topic, delay+d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve job %s: %w", jobID, err)
	}
	return ok, nil
}

// Release frees the job id so it can be queued again
func (d *Dedup) Release(ctx context.Context, jobID string) error {
	if err := d.client.Del(ctx, d.key(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to release job %s: %w", jobID, err)
	}
	return nil
}
