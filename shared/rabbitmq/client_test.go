package rabbitmq

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClosedClient() *Client {
	return &Client{
		config: &Config{ExchangeName: "verification", PublishRetries: 5, PublishRetryDelay: time.Hour},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := newClosedClient()

	t.Run("publish fails fast", func(t *testing.T) {
		start := time.Now()
		err := c.Publish(context.Background(), "verification-finished", Message{ID: "job-1", Body: []byte(`{}`)})

		require.ErrorIs(t, err, ErrNotConnected)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("delayed publish fails fast", func(t *testing.T) {
		err := c.Publish(context.Background(), "verification-finished", Message{ID: "job-1", Delay: time.Minute})
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("declare topics", func(t *testing.T) {
		assert.ErrorIs(t, c.DeclareTopics("gmail-verification-requested"), ErrNotConnected)
	})

	t.Run("consume", func(t *testing.T) {
		deliveries, err := c.Consume("gmail-verification-requested", "worker-1", 4)
		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Nil(t, deliveries)
	})

	t.Run("health", func(t *testing.T) {
		assert.False(t, c.IsConnected())
	})

	t.Run("close is safe", func(t *testing.T) {
		assert.NoError(t, c.Close())
	})
}
