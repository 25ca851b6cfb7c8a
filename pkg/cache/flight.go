package cache

import (
	"context"
	"sync"
)

// Flight is one in-progress computation for a key. The leader resolves it
// exactly once; any number of callers may wait on it.
type Flight[V any] struct {
	done chan struct{}
	once sync.Once
	val  V
	err  error
}

func newFlight[V any]() *Flight[V] {
	return &Flight[V]{done: make(chan struct{})}
}

func (f *Flight[V]) resolve(v V, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Flight[V]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the flight resolves or ctx ends. Abandoning the wait
// does not affect the computation or other waiters.
func (f *Flight[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
