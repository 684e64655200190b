package async

import (
	"context"
	"fmt"
	"sync"
)

// Future is the eventual result of an asynchronous operation.
type Future[T any] struct {
	done chan struct{}
	once sync.Once

	val T
	err error

	mu        sync.Mutex
	callbacks []callback[T]
}

type callback[T any] struct {
	pool *Pool
	fn   func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, nil)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// Go runs fn on pool and returns its future. A panic in fn fails the
// future. If ctx is done before fn starts, fn is skipped. A nil pool fails
// the future with ErrNoPool.
func Go[T any](ctx context.Context, pool *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	err := pool.Submit(func() {
		var (
			v   T
			err error
		)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s task: %v", pool.Name(), r)
			}
			f.complete(v, err)
		}()
		if err = ctx.Err(); err != nil {
			return
		}
		v, err = fn(ctx)
	})
	if err != nil {
		var zero T
		f.complete(zero, err)
	}
	return f
}

func (f *Future[T]) complete(v T, err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.val, f.err = v, err
		cbs := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()

		for _, cb := range cbs {
			f.dispatch(cb)
		}
	})
}

func (f *Future[T]) dispatch(cb callback[T]) {
	if cb.pool == nil {
		cb.fn(f.val, f.err)
		return
	}
	if err := cb.pool.Submit(func() { cb.fn(f.val, f.err) }); err != nil {
		cb.fn(f.val, f.err)
	}
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the future completes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// OnComplete registers fn to run with the outcome on pool. A nil pool runs
// fn on the goroutine that completes the future, or immediately when it is
// already complete. If pool is closed, fn runs inline.
func (f *Future[T]) OnComplete(pool *Pool, fn func(T, error)) {
	cb := callback[T]{pool: pool, fn: fn}
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		f.dispatch(cb)
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}

// Then maps the outcome of f through fn, running fn on pool.
func Then[T, U any](f *Future[T], pool *Pool, fn func(T) (U, error)) *Future[U] {
	out := newFuture[U]()
	f.OnComplete(pool, func(v T, err error) {
		if err != nil {
			var zero U
			out.complete(zero, err)
			return
		}
		u, err := fn(v)
		out.complete(u, err)
	})
	return out
}

// All resolves to the values of fs, in order, once every future completed.
// It fails with the first error in fs order. Completions are observed on
// pool.
func All[T any](pool *Pool, fs ...*Future[T]) *Future[[]T] {
	out := newFuture[[]T]()
	if len(fs) == 0 {
		out.complete(nil, nil)
		return out
	}

	var (
		mu      sync.Mutex
		pending = len(fs)
	)
	for _, f := range fs {
		f.OnComplete(pool, func(T, error) {
			mu.Lock()
			pending--
			last := pending == 0
			mu.Unlock()
			if !last {
				return
			}
			vals := make([]T, len(fs))
			for i, f := range fs {
				v, err := f.Result()
				if err != nil {
					out.complete(nil, err)
					return
				}
				vals[i] = v
			}
			out.complete(vals, nil)
		})
	}
	return out
}

// Deliver returns a future completed on pool with the outcome of f, so
// continuations of the result do not run on the pool that produced it. A
// nil pool returns f.
func Deliver[T any](f *Future[T], pool *Pool) *Future[T] {
	if pool == nil {
		return f
	}
	out := newFuture[T]()
	f.OnComplete(pool, out.complete)
	return out
}
