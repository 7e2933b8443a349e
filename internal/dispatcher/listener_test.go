package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/email-verifier/internal/domain"
)

type fakeConsumer struct {
	queues map[string]chan amqp.Delivery
	err    error
}

func newFakeConsumer() *fakeConsumer {
	queues := make(map[string]chan amqp.Delivery)
	for _, topic := range domain.ResultTopics {
		queues[topic] = make(chan amqp.Delivery, 4)
	}
	return &fakeConsumer{queues: queues}
}

func (f *fakeConsumer) Consume(queue, _ string, _ int) (<-chan amqp.Delivery, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.queues[queue], nil
}

type settlement struct {
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
	done    chan struct{}
}

func newFakeAcknowledger() *fakeAcknowledger {
	return &fakeAcknowledger{done: make(chan struct{}, 16)}
}

func (f *fakeAcknowledger) record(s settlement) error {
	f.mu.Lock()
	f.settled = append(f.settled, s)
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	return f.record(settlement{ack: true})
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	return f.record(settlement{requeue: requeue})
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return f.record(settlement{requeue: requeue})
}

func (f *fakeAcknowledger) wait(t *testing.T, n int) []settlement {
	t.Helper()
	for range n {
		select {
		case <-f.done:
		case <-time.After(5 * time.Second):
			t.Fatal("delivery was not settled")
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settlement(nil), f.settled...)
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func newTestListener(consumer Consumer) (*Listener, *mockJobStore, *mockSubmitter) {
	d, jobs, submitter := newTestDispatcher()
	l := NewListener(consumer, d, ListenerConfig{
		ID:          "dispatcher-test",
		Concurrency: 1,
		Logger:      slog.New(slog.DiscardHandler),
	})
	return l, jobs, submitter
}

func TestListener_Handle(t *testing.T) {
	ctx := context.Background()

	t.Run("finished result reaches the dispatcher", func(t *testing.T) {
		l, jobs, _ := newTestListener(newFakeConsumer())
		jobs.On("CompleteJob", mock.Anything, "job-1", mock.Anything).Return(true, nil).Once()

		err := l.handle(ctx, domain.TopicVerificationFinished, amqp.Delivery{Body: encode(t, response(domain.ResultValid, true))})
		require.NoError(t, err)
		jobs.AssertExpectations(t)
	})

	t.Run("failed event reaches the dispatcher", func(t *testing.T) {
		l, jobs, _ := newTestListener(newFakeConsumer())
		jobs.On("FailJob", mock.Anything, "job-1", mock.Anything).Return(false, nil).Once()

		body := encode(t, domain.FailedEvent{JobID: "job-1", Reason: domain.FailureStalled})
		require.NoError(t, l.handle(ctx, domain.TopicVerificationFailed, amqp.Delivery{Body: body}))
		jobs.AssertExpectations(t)
	})

	t.Run("bounce notice is only observed", func(t *testing.T) {
		l, jobs, submitter := newTestListener(newFakeConsumer())

		body := encode(t, response(domain.ResultBounced, true))
		require.NoError(t, l.handle(ctx, domain.TopicVerificationBounced, amqp.Delivery{Body: body}))

		jobs.AssertNotCalled(t, "FailJob", mock.Anything, mock.Anything, mock.Anything)
		submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("malformed payloads are rejected", func(t *testing.T) {
		l, _, _ := newTestListener(newFakeConsumer())

		for _, topic := range []string{domain.TopicVerificationFinished, domain.TopicVerificationFailed} {
			err := l.handle(ctx, topic, amqp.Delivery{Body: []byte("{")})
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)

			err = l.handle(ctx, topic, amqp.Delivery{Body: []byte("{}")})
			assert.ErrorIs(t, err, domain.ErrInvalidPayload)
		}
	})

	t.Run("dispatcher errors are retryable", func(t *testing.T) {
		l, jobs, _ := newTestListener(newFakeConsumer())
		jobs.On("CompleteJob", mock.Anything, "job-1", mock.Anything).Return(false, errors.New("db down")).Once()

		err := l.handle(ctx, domain.TopicVerificationFinished, amqp.Delivery{Body: encode(t, response(domain.ResultValid, true))})
		assert.True(t, shouldRequeue(err))
	})
}

func TestListener_StoredAttemptIsNotRequeued(t *testing.T) {
	l, jobs, submitter := newTestListener(newFakeConsumer())

	jobs.On("FailJob", mock.Anything, "job-1", mock.Anything).Return(true, nil).Once()
	jobs.On("GetAttemptCount", mock.Anything, "job-1").Return(1, nil)
	submitter.On("Submit", mock.Anything, "job-1", "jane@example.com", true, retryDelay).
		Return(errors.New("redis down")).Once()
	submitter.On("Submit", mock.Anything, "job-1", "jane@example.com", true, retryDelay).Return(nil).Once()

	ack := newFakeAcknowledger()
	d := amqp.Delivery{Acknowledger: ack, Body: encode(t, response(domain.ResultUnknown, true))}

	err := l.handle(context.Background(), domain.TopicVerificationFinished, d)
	l.settle(domain.TopicVerificationFinished, d, err)

	assert.Equal(t, []settlement{{ack: true}}, ack.wait(t, 1))
	jobs.AssertNumberOfCalls(t, "FailJob", 1)
	submitter.AssertExpectations(t)
}

func TestListener_Start(t *testing.T) {
	consumer := newFakeConsumer()
	l, jobs, _ := newTestListener(consumer)

	jobs.On("CompleteJob", mock.Anything, "job-1", mock.Anything).Return(true, nil).Once()

	ack := newFakeAcknowledger()
	consumer.queues[domain.TopicVerificationFinished] <- amqp.Delivery{
		Acknowledger: ack,
		Body:         encode(t, response(domain.ResultValid, true)),
	}
	consumer.queues[domain.TopicVerificationFailed] <- amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("not json"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Start(ctx) }()

	settled := ack.wait(t, 2)
	assert.ElementsMatch(t, []settlement{{ack: true}, {ack: false, requeue: false}}, settled)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
	jobs.AssertExpectations(t)
}

func TestListener_StartConsumeError(t *testing.T) {
	consumer := newFakeConsumer()
	consumer.err = errors.New("channel closed")
	l, _, _ := newTestListener(consumer)

	err := l.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}
