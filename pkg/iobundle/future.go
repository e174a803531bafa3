package iobundle

import (
	"context"
	"sync"
)

// Future is a one-shot result slot shared by any number of waiters.
// The first call to Complete or Cancel wins; later calls are ignored.
type Future[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns an already completed future.
func Resolved[T any](v T, err error) *Future[T] {
	f := NewFuture[T]()
	f.Complete(v, err)
	return f
}

// Complete publishes the result and reports whether this call set it.
func (f *Future[T]) Complete(v T, err error) bool {
	set := false
	f.once.Do(func() {
		f.val, f.err = v, err
		close(f.done)
		set = true
	})
	return set
}

// Cancel completes the future with context.Canceled.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.Complete(zero, context.Canceled)
}

func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future completes or ctx is done. Giving up on ctx
// does not cancel the underlying work; other waiters still see its result.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then runs fn on the result of f once it completes successfully. Errors
// from f skip fn and propagate unchanged.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	out := NewFuture[U]()
	go func() {
		<-f.done
		if f.err != nil {
			var zero U
			out.Complete(zero, f.err)
			return
		}
		out.Complete(fn(f.val))
	}()
	return out
}
