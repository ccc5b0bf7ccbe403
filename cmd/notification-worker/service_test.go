package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type blockingConsumer struct {
	started atomic.Int32
}

func (b *blockingConsumer) Run(ctx context.Context) error {
	b.started.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

type failingConsumer struct{ err error }

func (f failingConsumer) Run(context.Context) error { return f.err }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "notification-worker-test", Output: io.Discard})
}

func TestNewServiceValidatesParams(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: testLogger(), DB: stubPinger{}, Redis: stubPinger{}, PubSub: stubPinger{}})
	require.Error(t, err)

	_, err = NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{},
		PubSub:    stubPinger{},
		Consumers: map[string]consumer{"orders": nil},
	})
	require.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	first, second := &blockingConsumer{}, &blockingConsumer{}
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{},
		PubSub:    stubPinger{},
		Consumers: map[string]consumer{"orders": first, "alerts": second},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = svc.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 1, first.started.Load())
	require.EqualValues(t, 1, second.started.Load())
}

func TestRunReturnsConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{},
		PubSub:    stubPinger{},
		Consumers: map[string]consumer{"orders": failingConsumer{err: boom}, "alerts": &blockingConsumer{}},
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunFailsReadiness(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		DB:        stubPinger{},
		Redis:     stubPinger{err: errors.New("refused")},
		PubSub:    stubPinger{},
		Consumers: map[string]consumer{"orders": &blockingConsumer{}},
	})
	require.NoError(t, err)
	require.ErrorContains(t, svc.Run(context.Background()), "redis ping failed")
}
