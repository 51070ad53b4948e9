package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunStateTryAcquire(t *testing.T) {
	var s RunState
	release, ok := s.TryAcquire()
	require.True(t, ok)
	running, since := s.Running()
	require.True(t, running)
	require.False(t, since.IsZero())

	noop, ok := s.TryAcquire()
	require.False(t, ok)
	noop()
	running, _ = s.Running()
	require.True(t, running)

	release()
	release()
	running, _ = s.Running()
	require.False(t, running)

	again, ok := s.TryAcquire()
	require.True(t, ok)
	again()
}

func TestSchedulerRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	s := New(time.Hour, true, func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerSkipsTickWhileRunning(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var calls atomic.Int32
	unblock := make(chan struct{})
	s := New(5*time.Millisecond, true, func(ctx context.Context) error {
		calls.Add(1)
		<-unblock
		return nil
	}, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("run skipped, previous run still active").Len() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), calls.Load())

	close(unblock)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSchedulerLogsJobError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := New(time.Hour, false, func(ctx context.Context) error {
		return errors.New("feed error 502")
	}, zap.New(core))

	require.True(t, s.Trigger(context.Background()))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("scheduled run failed").Len() == 1
	}, time.Second, 5*time.Millisecond)
}
