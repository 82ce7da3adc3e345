package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var handled atomic.Int32
	done := make(chan struct{}, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		handled.Add(1)
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{Type: "noop"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	assert.Equal(t, int32(3), handled.Load())
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{}))
	require.Error(t, q.TryEnqueue(Job{}))
}

func TestQueueTryEnqueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	var full bool
	for i := 0; i < 5; i++ {
		if err := q.TryEnqueue(Job{}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	assert.True(t, full)
	assert.GreaterOrEqual(t, q.Stats().Dropped, uint64(1))
}

func TestPoolSubmitResolvesFuture(t *testing.T) {
	pool := NewPool("async", 2, 4, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	future := Submit(pool, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	value, err := future.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}

func TestPoolSubmitRecoversPanic(t *testing.T) {
	pool := NewPool("async", 1, 1, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	future := Submit(pool, func(ctx context.Context) (string, error) {
		panic("boom")
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := future.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestFutureWaitHonoursContext(t *testing.T) {
	pool := NewPool("slow", 1, 1, nil)
	pool.Start(context.Background())
	release := make(chan struct{})
	defer func() {
		close(release)
		pool.Stop()
	}()

	future := Submit(pool, func(ctx context.Context) (bool, error) {
		<-release
		return true, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := future.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolStopResolvesQueuedFutures(t *testing.T) {
	pool := NewPool("stopping", 1, 1, nil)
	pool.Start(context.Background())

	started := make(chan struct{})
	first := Submit(pool, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started
	second := Submit(pool, func(ctx context.Context) (int, error) {
		return 2, nil
	})
	pool.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := first.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	_, err = second.Wait(ctx)
	require.ErrorIs(t, err, ErrPoolStopped)
	assert.Equal(t, uint64(1), pool.Stats().Dropped)

	late := Submit(pool, func(ctx context.Context) (int, error) {
		return 3, nil
	})
	_, err = late.Wait(ctx)
	require.ErrorIs(t, err, ErrQueueStopped)
}

func TestQueueStopDiscardsBufferedJobs(t *testing.T) {
	var discarded []string
	release := make(chan struct{})
	q := NewQueue("discard", func(ctx context.Context, job Job) error {
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4, OnDiscard: func(job Job) {
		discarded = append(discarded, job.ID)
	}})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "running"}))
	require.Eventually(t, func() bool { return q.Stats().Pending == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.TryEnqueue(Job{ID: "b"}))

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool {
		_, err := q.running()
		return err != nil
	}, time.Second, 5*time.Millisecond)
	close(release)
	<-stopped
	assert.ElementsMatch(t, []string{"a", "b"}, discarded)
	assert.ErrorIs(t, q.TryEnqueue(Job{ID: "late"}), ErrQueueStopped)
}
