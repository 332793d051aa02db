// Package queue runs provider calls with bounded concurrency, FIFO start
// order and a fixed pause after each completion.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/makeasinger/musicgen/internal/logger"
)

var (
	ErrQueueClosed  = errors.New("request queue closed")
	ErrTaskPanicked = errors.New("queued task panicked")
)

// Task is a unit of work executed by the queue.
type Task func(ctx context.Context) (any, error)

// Options configures a RequestQueue.
type Options struct {
	// Concurrency is the max number of tasks running at once. Defaults to 1.
	Concurrency int
	// Spacing is how long a slot stays occupied after its task completed.
	Spacing time.Duration
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
}

// RequestQueue serializes calls to a rate-limited upstream. It never
// retries; a failed task resolves its future with the error.
type RequestQueue struct {
	sem     *semaphore.Weighted
	spacing time.Duration

	mu      sync.Mutex
	pending []*entry
	running int
	closed  bool
	wg      sync.WaitGroup
}

type entry struct {
	ctx    context.Context
	task   Task
	future *Future
}

// New creates a RequestQueue.
func New(opts Options) *RequestQueue {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Spacing < 0 {
		opts.Spacing = 0
	}
	return &RequestQueue{
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		spacing: opts.Spacing,
	}
}

// Add appends a task and returns its future. Tasks start in the order
// they were added.
func (q *RequestQueue) Add(ctx context.Context, task Task) *Future {
	f := newFuture()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.resolve(nil, ErrQueueClosed)
		return f
	}
	q.pending = append(q.pending, &entry{ctx: ctx, task: task, future: f})
	q.dispatchLocked()
	q.mu.Unlock()

	return f
}

// Stats returns the number of waiting and running tasks.
func (q *RequestQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{Pending: len(q.pending), Running: q.running}
}

// Close rejects new tasks, fails the ones still waiting and blocks until
// running tasks finished or ctx is done.
func (q *RequestQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, e := range pending {
		e.future.resolve(nil, ErrQueueClosed)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatchLocked starts waiting tasks while slots are free. Callers hold q.mu.
func (q *RequestQueue) dispatchLocked() {
	for len(q.pending) > 0 {
		head := q.pending[0]
		if err := head.ctx.Err(); err != nil {
			q.pending = q.pending[1:]
			head.future.resolve(nil, err)
			continue
		}
		if !q.sem.TryAcquire(1) {
			return
		}
		q.pending = q.pending[1:]
		q.running++
		q.wg.Add(1)
		go q.run(head)
	}
}

func (q *RequestQueue) run(e *entry) {
	defer q.wg.Done()

	val, err := q.execute(e)
	e.future.resolve(val, err)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()

	if q.spacing > 0 {
		time.Sleep(q.spacing)
	}
	q.sem.Release(1)

	q.mu.Lock()
	q.dispatchLocked()
	q.mu.Unlock()
}

func (q *RequestQueue) execute(e *entry) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[RequestQueue] task panicked: %v", r)
			val, err = nil, fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return e.task(e.ctx)
}

// Do runs fn through the queue and waits for its typed result.
func Do[T any](ctx context.Context, q *RequestQueue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	val, err := q.Add(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}).Wait(ctx)
	if err != nil {
		return zero, err
	}
	out, ok := val.(T)
	if !ok {
		return zero, nil
	}
	return out, nil
}
