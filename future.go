package holodex

import (
	"context"
	"sync"
)

// Future is the pending outcome of an asynchronous operation.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	val T
	err error
}

// run starts fn on its own goroutine.
func run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer cancel()
		f.val, f.err = fn(ctx)
		close(f.done)
	}()
	return f
}

// Await blocks until the operation finishes or ctx ends. A ctx that ends
// first returns ctx.Err() and leaves the operation running.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the operation has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel cancels the operation. Both hybrid sub-queries stop; the
// connection stays usable. Await then reports context.Canceled.
func (f *Future[T]) Cancel() {
	f.once.Do(f.cancel)
}
