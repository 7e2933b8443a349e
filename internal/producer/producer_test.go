package producer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/email-verifier/internal/domain"
	"github.com/cuongbtq/email-verifier/shared/rabbitmq"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, msg rabbitmq.Message) error {
	args := m.Called(ctx, topic, msg)
	return args.Error(0)
}

type mockPauseChecker struct {
	mock.Mock
}

func (m *mockPauseChecker) IsRequestPausedByJob(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

func setupProducer(t *testing.T) (*Producer, *mockPublisher, *mockPauseChecker, *miniredis.Miniredis) {
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

	pub := &mockPublisher{}
	pauses := &mockPauseChecker{}
	p := NewProducer(pub, pauses, NewDedup(client, "", 30*time.Minute), slog.New(slog.DiscardHandler))

	return p, pub, pauses, mr
}

func messageFor(t *testing.T, msg rabbitmq.Message) domain.VerificationRequest {
	t.Helper()
	var req domain.VerificationRequest
	require.NoError(t, json.Unmarshal(msg.Body, &req))
	return req
}

func TestProducer_Submit(t *testing.T) {
	t.Run("routes and publishes", func(t *testing.T) {
		p, pub, pauses, mr := setupProducer(t)

		pub.On("Publish", mock.Anything, domain.TopicGmailVerificationRequested, mock.MatchedBy(func(msg rabbitmq.Message) bool {
			return msg.ID == "job-1" && msg.Delay == 0
		})).Return(nil).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "  Jane@Gmail.com ", false, 0))

		pub.AssertExpectations(t)
		pauses.AssertNotCalled(t, "IsRequestPausedByJob", mock.Anything, mock.Anything)

		msg := pub.Calls[0].Arguments.Get(2).(rabbitmq.Message)
		req := messageFor(t, msg)
		assert.Equal(t, "Jane@Gmail.com", req.Email)
		assert.Equal(t, "gmail.com", req.Domain)
		assert.True(t, mr.Exists("queued:job-1"))
	})

	t.Run("custom topic with delay", func(t *testing.T) {
		p, pub, _, mr := setupProducer(t)

		pub.On("Publish", mock.Anything, domain.TopicCustomVerificationRequested, mock.MatchedBy(func(msg rabbitmq.Message) bool {
			return msg.Delay == time.Minute
		})).Return(nil).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "someone@corp.example", false, time.Minute))

		pub.AssertExpectations(t)
		assert.Equal(t, 31*time.Minute, mr.TTL("queued:job-1"))
	})

	t.Run("already queued is skipped", func(t *testing.T) {
		p, pub, _, _ := setupProducer(t)

		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "a@example.com", false, 0))
		require.NoError(t, p.Submit(context.Background(), "job-1", "a@example.com", false, 0))

		pub.AssertNumberOfCalls(t, "Publish", 1)
	})

	t.Run("paused request is skipped", func(t *testing.T) {
		p, pub, pauses, mr := setupProducer(t)

		pauses.On("IsRequestPausedByJob", mock.Anything, "job-1").Return(true, nil).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "a@example.com", true, time.Minute))

		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
		assert.False(t, mr.Exists("queued:job-1"))
	})

	t.Run("missing job is skipped", func(t *testing.T) {
		p, pub, pauses, _ := setupProducer(t)

		pauses.On("IsRequestPausedByJob", mock.Anything, "job-1").Return(false, domain.ErrJobNotFound).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "a@example.com", true, 0))
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("running request is published", func(t *testing.T) {
		p, pub, pauses, _ := setupProducer(t)

		pauses.On("IsRequestPausedByJob", mock.Anything, "job-1").Return(false, nil).Once()
		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

		require.NoError(t, p.Submit(context.Background(), "job-1", "a@example.com", true, 0))
		pub.AssertExpectations(t)
	})

	t.Run("pause lookup failure", func(t *testing.T) {
		p, _, pauses, _ := setupProducer(t)

		pauses.On("IsRequestPausedByJob", mock.Anything, "job-1").Return(false, errors.New("db down")).Once()

		err := p.Submit(context.Background(), "job-1", "a@example.com", true, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to check pause state")
	})

	t.Run("address without domain", func(t *testing.T) {
		p, pub, _, _ := setupProducer(t)

		err := p.Submit(context.Background(), "job-1", "no-at-sign", false, 0)
		assert.ErrorIs(t, err, domain.ErrNoDomain)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("publish failure releases the reservation", func(t *testing.T) {
		p, pub, _, mr := setupProducer(t)

		pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(rabbitmq.ErrNotConnected).Once()

		err := p.Submit(context.Background(), "job-1", "a@example.com", false, 0)
		require.Error(t, err)
		assert.ErrorIs(t, err, rabbitmq.ErrNotConnected)
		assert.False(t, mr.Exists("queued:job-1"))
	})
}

func TestDedup_ReserveRelease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewDedup(client, "jobs", time.Minute)
	ctx := context.Background()

	ok, err := d.Reserve(ctx, "job-1", "topic", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Reserve(ctx, "job-1", "topic", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Release(ctx, "job-1"))
	require.NoError(t, d.Release(ctx, "job-1"))

	ok, err = d.Reserve(ctx, "job-1", "topic", 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "topic", mustGet(t, mr, "jobs:job-1"))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
