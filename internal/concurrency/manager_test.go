package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return client, mr
}

func TestManager_EnqueueDequeue(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	m := NewManager(client, Config{Limit: 2, SlotTTL: time.Minute})

	require.NoError(t, m.Enqueue(ctx, "example.com", "job-1"))
	require.NoError(t, m.Enqueue(ctx, "example.com", "job-2"))

	err := m.Enqueue(ctx, "example.com", "job-3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrSlotUnavailable))

	// Other domains are unaffected
	require.NoError(t, m.Enqueue(ctx, "other.org", "job-3"))

	require.NoError(t, m.Dequeue(ctx, "example.com", "job-1"))
	require.NoError(t, m.Enqueue(ctx, "example.com", "job-3"))

	inFlight, err := m.InFlight(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), inFlight)
}

func TestManager_DequeueIsIdempotent(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	m := NewManager(client, Config{Limit: 1, SlotTTL: time.Minute})

	assert.NoError(t, m.Dequeue(ctx, "example.com", "never-acquired"))

	require.NoError(t, m.Enqueue(ctx, "example.com", "job-1"))
	assert.NoError(t, m.Dequeue(ctx, "example.com", "job-1"))
	assert.NoError(t, m.Dequeue(ctx, "example.com", "job-1"))

	require.NoError(t, m.Enqueue(ctx, "example.com", "job-2"))
}

func TestManager_ReacquireOwnSlot(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	m := NewManager(client, Config{Limit: 1, SlotTTL: time.Minute})

	require.NoError(t, m.Enqueue(ctx, "example.com", "job-1"))
	require.NoError(t, m.Enqueue(ctx, "example.com", "job-1"))

	inFlight, err := m.InFlight(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inFlight)
}

func TestManager_ExpiredSlotsAreReclaimed(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(client, Config{Limit: 1, SlotTTL: 30 * time.Second})
	m.now = func() time.Time { return now }

	require.NoError(t, m.Enqueue(ctx, "example.com", "crashed-job"))
	require.ErrorIs(t, m.Enqueue(ctx, "example.com", "job-2"), domain.ErrSlotUnavailable)

	now = now.Add(31 * time.Second)
	require.NoError(t, m.Enqueue(ctx, "example.com", "job-2"))
}

func TestManager_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()

	const limit = 5
	m := NewManager(client, Config{Limit: limit, SlotTTL: time.Minute})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Enqueue(ctx, "busy.example", fmt.Sprintf("job-%d", i)); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(limit), admitted.Load())

	inFlight, err := m.InFlight(ctx, "busy.example")
	require.NoError(t, err)
	assert.Equal(t, int64(limit), inFlight)
}

func TestManager_KeyPrefix(t *testing.T) {
	client, mr := setupTestRedis(t)

	m := NewManager(client, Config{Limit: 1, SlotTTL: time.Minute, Prefix: "slots"})
	require.NoError(t, m.Enqueue(context.Background(), "example.com", "job-1"))

	assert.True(t, mr.Exists("slots:example.com"))
	assert.Equal(t, 1, m.Limit())
}
