// Package memory provides an in-process task queue with an explicit
// production-complete signal.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const defaultPollInterval = 50 * time.Millisecond

// Queue is an unbounded FIFO shared by one or more producers and a pool of
// consumers. Close marks production complete; consumers drain what is left
// and then receive crawler.ErrQueueDrained.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	ready     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	enqueued atomic.Int64
	dequeued atomic.Int64

	pollInterval time.Duration
}

// Option customizes a Queue.
type Option func(*queueOptions)

type queueOptions struct {
	pollInterval time.Duration
}

// WithPollInterval bounds how long an idle consumer sleeps before re-checking
// the queue.
func WithPollInterval(d time.Duration) Option {
	return func(o *queueOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// NewQueue constructs an empty queue.
func NewQueue[T any](opts ...Option) *Queue[T] {
	o := queueOptions{pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		ready:        make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: o.pollInterval,
	}
}

// Enqueue appends a task. It fails once Close has been called.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed.Load() {
		q.mu.Unlock()
		return crawler.ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.enqueued.Add(1)
	q.signal()
	return nil
}

// Dequeue pops the next task. An empty queue only ends consumption once
// production is complete; until then the caller waits and re-polls.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		// Read the flag before popping: every Enqueue happens-before Close,
		// so an empty pop after observing closed means nothing is left.
		closed := q.closed.Load()
		if item, ok := q.tryPop(); ok {
			return item, nil
		}
		if closed {
			return zero, crawler.ErrQueueDrained
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.ready:
		case <-q.done:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Close marks production complete. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed.Store(true)
		q.mu.Unlock()
		close(q.done)
	})
}

// Closed reports whether production has completed.
func (q *Queue[T]) Closed() bool {
	return q.closed.Load()
}

// Done is closed when production completes.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns the number of tasks waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueued returns the total number of accepted tasks.
func (q *Queue[T]) Enqueued() int64 {
	return q.enqueued.Load()
}

// Dequeued returns the total number of tasks handed to consumers.
func (q *Queue[T]) Dequeued() int64 {
	return q.dequeued.Load()
}

func (q *Queue[T]) tryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	remaining := len(q.items)
	q.mu.Unlock()

	q.dequeued.Add(1)
	if remaining > 0 {
		q.signal()
	}
	return item, true
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
