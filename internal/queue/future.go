package queue

import (
	"context"
	"sync"
)

// Future holds the eventual result of a queued task.
type Future struct {
	once sync.Once
	done chan struct{}
	val  any
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(val any, err error) {
	f.once.Do(func() {
		f.val = val
		f.err = err
		close(f.done)
	})
}

// Done is closed once the task finished or was rejected.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finished or ctx is done. Giving up on the
// wait does not cancel a task that already started.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
