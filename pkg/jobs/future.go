package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Future is the eventual result of a task submitted to a Pool.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Resolved returns a future that has already completed.
func Resolved[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(value, err)
	return f
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx is cancelled. Cancelling ctx only
// stops the wait; the task keeps running.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// ErrPoolStopped resolves futures whose task never ran because the pool stopped.
var ErrPoolStopped = errors.New("pool stopped before the task ran")

type task struct {
	run   func(context.Context)
	abort func(error)
}

// Pool runs submitted closures on a bounded set of workers.
type Pool struct {
	queue *Queue
}

// NewPool builds a pool backed by a Queue with retries disabled.
func NewPool(name string, workers, buffer int, logger *zap.Logger) *Pool {
	handler := func(ctx context.Context, job Job) error {
		t, ok := job.Payload.(task)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		t.run(ctx)
		return nil
	}
	discard := func(job Job) {
		if t, ok := job.Payload.(task); ok {
			t.abort(ErrPoolStopped)
		}
	}
	return &Pool{queue: NewQueue(name, handler, QueueConfig{
		Workers:      workers,
		BufferSize:   buffer,
		DisableRetry: true,
		Logger:       logger,
		OnDiscard:    discard,
	})}
}

// Start launches the pool workers.
func (p *Pool) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop waits for workers to exit. Futures of tasks that never started resolve
// with ErrPoolStopped.
func (p *Pool) Stop() {
	p.queue.Stop()
}

// Stats reports the underlying queue counters.
func (p *Pool) Stats() Stats {
	return p.queue.Stats()
}

// Queue exposes the backing queue for instrumentation.
func (p *Pool) Queue() *Queue {
	return p.queue
}

// Submit schedules fn on the pool. The task runs under the pool's context,
// not the caller's, so abandoning the future never interrupts it.
func Submit[T any](p *Pool, fn func(context.Context) (T, error)) *Future[T] {
	future := newFuture[T]()
	job := Job{
		ID:   uuid.NewString(),
		Type: "task",
		Payload: task{
			run: func(ctx context.Context) {
				defer func() {
					if r := recover(); r != nil {
						var zero T
						future.resolve(zero, fmt.Errorf("task panicked: %v", r))
					}
				}()
				value, err := fn(ctx)
				future.resolve(value, err)
			},
			abort: func(err error) {
				var zero T
				future.resolve(zero, err)
			},
		},
	}
	if err := p.queue.Enqueue(job); err != nil {
		var zero T
		future.resolve(zero, err)
	}
	return future
}
