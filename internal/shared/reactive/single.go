package reactive

import (
	"context"
	"sync"
)

// Completion is the single-completion callback of a backend call. A nil
// value means "no value". When both a value and an error are supplied the
// value wins. When neither is supplied the call is treated as not having
// completed at all.
type Completion[T any] func(value *T, err error)

// ErrCompletion is the completion of a backend call that produces no value.
// A nil error means success.
type ErrCompletion func(err error)

// Single is a one-shot asynchronous result.
type Single[T any] struct {
	register func(ctx context.Context, complete Completion[T])
}

// FromCallback bridges a backend call reporting through a Completion. The
// register function runs once per subscription.
//
// A backend that never invokes the completion, or invokes it with neither a
// value nor an error, leaves the Single pending forever. Use Timeout when
// that must be bounded.
func FromCallback[T any](register func(ctx context.Context, complete Completion[T])) *Single[T] {
	return &Single[T]{register: register}
}

// FromErrCallback bridges a value-less backend call.
func FromErrCallback(register func(ctx context.Context, complete ErrCompletion)) *Single[struct{}] {
	return FromCallback(func(ctx context.Context, complete Completion[struct{}]) {
		register(ctx, func(err error) {
			if err != nil {
				complete(nil, err)
				return
			}
			complete(&struct{}{}, nil)
		})
	})
}

// Just returns a Single that succeeds with v without touching any backend.
func Just[T any](v T) *Single[T] {
	return FromCallback(func(_ context.Context, complete Completion[T]) {
		complete(&v, nil)
	})
}

// Fail returns a Single that fails with err without touching any backend.
func Fail[T any](err error) *Single[T] {
	return FromCallback(func(_ context.Context, complete Completion[T]) {
		complete(nil, err)
	})
}

// Subscribe starts the underlying backend call and reports its outcome to
// exactly one of onSuccess or onError, exactly once.
//
// The backend call receives a context detached from ctx's cancellation:
// there is no way to abort a call in flight. Disposing the returned
// Disposable only stops the outcome from being delivered.
func (s *Single[T]) Subscribe(ctx context.Context, onSuccess func(T), onError func(error)) Disposable {
	obs := &singleObserver[T]{onSuccess: onSuccess, onError: onError}
	s.register(context.WithoutCancel(ctx), obs.complete)
	return DisposableFunc(obs.detach)
}

// Await subscribes and blocks until the Single settles or ctx is done. When
// ctx ends first its error is returned and the backend call keeps running.
func (s *Single[T]) Await(ctx context.Context) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	d := s.Subscribe(ctx,
		func(v T) { done <- outcome{value: v} },
		func(err error) { done <- outcome{err: err} },
	)

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		d.Dispose()
		var zero T
		return zero, ctx.Err()
	}
}

// singleObserver enforces first-write-wins resolution.
type singleObserver[T any] struct {
	mu        sync.Mutex
	settled   bool
	detached  bool
	onSuccess func(T)
	onError   func(error)
}

func (o *singleObserver[T]) complete(value *T, err error) {
	if value == nil && err == nil {
		return
	}

	o.mu.Lock()
	if o.settled {
		o.mu.Unlock()
		return
	}
	o.settled = true
	detached := o.detached
	o.mu.Unlock()

	if detached {
		return
	}
	if value != nil {
		if o.onSuccess != nil {
			o.onSuccess(*value)
		}
		return
	}
	if o.onError != nil {
		o.onError(err)
	}
}

func (o *singleObserver[T]) detach() {
	o.mu.Lock()
	o.detached = true
	o.mu.Unlock()
}
