package reactive

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "rxfirestore/internal/shared/errors"

	"github.com/cenkalti/backoff/v4"
)

// MapSingle transforms the success value of s. An error returned by fn
// fails the resulting Single.
func MapSingle[T, R any](s *Single[T], fn func(T) (R, error)) *Single[R] {
	return FromCallback(func(ctx context.Context, complete Completion[R]) {
		s.register(ctx, func(value *T, err error) {
			if value != nil {
				r, ferr := fn(*value)
				if ferr != nil {
					complete(nil, ferr)
					return
				}
				complete(&r, nil)
				return
			}
			complete(nil, err)
		})
	})
}

// FlatMapSingle chains a second one-shot operation on the success of s.
// Failures of either step settle the result; the second step is never
// started when the first fails.
func FlatMapSingle[T, R any](s *Single[T], fn func(T) *Single[R]) *Single[R] {
	return FromCallback(func(ctx context.Context, complete Completion[R]) {
		s.register(ctx, func(value *T, err error) {
			if value != nil {
				fn(*value).register(ctx, complete)
				return
			}
			complete(nil, err)
		})
	})
}

// RetryPolicy configures Single.Retry.
type RetryPolicy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Retryable filters which errors trigger another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries three times starting at 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, p.MaxRetries)
	b.Reset()
	return b
}

// Retry resubscribes to s after a failure, waiting between attempts as the
// policy's exponential backoff dictates. The last error is reported once
// the policy gives up.
func (s *Single[T]) Retry(policy RetryPolicy) *Single[T] {
	return FromCallback(func(ctx context.Context, complete Completion[T]) {
		b := policy.backOff()

		var attempt func()
		attempt = func() {
			var once sync.Once
			s.register(ctx, func(value *T, err error) {
				if value == nil && err == nil {
					return
				}
				once.Do(func() {
					if value != nil {
						complete(value, nil)
						return
					}
					if policy.Retryable != nil && !policy.Retryable(err) {
						complete(nil, err)
						return
					}
					wait := b.NextBackOff()
					if wait == backoff.Stop {
						complete(nil, err)
						return
					}
					time.AfterFunc(wait, attempt)
				})
			})
		}
		attempt()
	})
}

// Timeout fails the Single with a timeout error when s has not settled
// within d. The backend call itself is not interrupted.
func (s *Single[T]) Timeout(d time.Duration) *Single[T] {
	return FromCallback(func(ctx context.Context, complete Completion[T]) {
		var once sync.Once
		timer := time.AfterFunc(d, func() {
			once.Do(func() {
				complete(nil, apperrors.NewTimeoutError(fmt.Sprintf("operation did not complete within %s", d)))
			})
		})
		s.register(ctx, func(value *T, err error) {
			if value == nil && err == nil {
				return
			}
			once.Do(func() {
				timer.Stop()
				complete(value, err)
			})
		})
	})
}

// MapStream transforms every value of s.
func MapStream[T, R any](s *Stream[T], fn func(T) R) *Stream[R] {
	return FromListener(func(ctx context.Context, notify Notify[R]) Registration {
		return s.register(ctx, func(value *T, err error) {
			if value != nil {
				r := fn(*value)
				notify(&r, nil)
				return
			}
			notify(nil, err)
		})
	})
}

// Filter drops the values of s for which keep returns false.
func (s *Stream[T]) Filter(keep func(T) bool) *Stream[T] {
	return FromListener(func(ctx context.Context, notify Notify[T]) Registration {
		return s.register(ctx, func(value *T, err error) {
			if value != nil {
				if keep(*value) {
					notify(value, nil)
				}
				return
			}
			notify(nil, err)
		})
	})
}

// Debounce emits a value only once d has passed without a newer one.
// Errors are forwarded immediately and drop any pending value.
func (s *Stream[T]) Debounce(d time.Duration) *Stream[T] {
	return FromListener(func(ctx context.Context, notify Notify[T]) Registration {
		var (
			mu         sync.Mutex
			timer      *time.Timer
			generation uint64
			stopped    bool
		)

		reg := s.register(ctx, func(value *T, err error) {
			if value == nil && err == nil {
				return
			}

			mu.Lock()
			if stopped {
				mu.Unlock()
				return
			}
			generation++
			if timer != nil {
				timer.Stop()
			}
			if value == nil {
				mu.Unlock()
				notify(nil, err)
				return
			}

			latest := *value
			gen := generation
			timer = time.AfterFunc(d, func() {
				mu.Lock()
				current := !stopped && gen == generation
				mu.Unlock()
				if current {
					notify(&latest, nil)
				}
			})
			mu.Unlock()
		})

		return RegistrationFunc(func() {
			mu.Lock()
			stopped = true
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			if reg != nil {
				reg.Remove()
			}
		})
	})
}

// First resolves with the first value of s and then disposes the
// subscription. An error before the first value fails the Single.
func (s *Stream[T]) First() *Single[T] {
	return FromCallback(func(ctx context.Context, complete Completion[T]) {
		var once sync.Once
		holder := &CompositeDisposable{}
		d := s.Subscribe(ctx,
			func(v T) {
				once.Do(func() {
					holder.Dispose()
					complete(&v, nil)
				})
			},
			func(err error) {
				once.Do(func() { complete(nil, err) })
			},
		)
		holder.Add(d)
	})
}

// Take forwards the first n values of s and then releases the upstream
// registration. The resulting stream stays open without further values
// until the consumer disposes it.
func (s *Stream[T]) Take(n int) *Stream[T] {
	return FromListener(func(ctx context.Context, notify Notify[T]) Registration {
		var (
			mu    sync.Mutex
			seen  int
			done  bool
			reg   Registration
			early bool
		)
		release := func() {
			mu.Lock()
			r := reg
			reg = nil
			if r == nil {
				early = true
			}
			mu.Unlock()
			if r != nil {
				r.Remove()
			}
		}

		if n <= 0 {
			return RegistrationFunc(func() {})
		}

		upstream := s.register(ctx, func(value *T, err error) {
			mu.Lock()
			if done {
				mu.Unlock()
				return
			}
			if value != nil {
				seen++
				done = seen >= n
			}
			last := done
			mu.Unlock()

			notify(value, err)
			if last {
				release()
			}
		})

		mu.Lock()
		if early {
			mu.Unlock()
			if upstream != nil {
				upstream.Remove()
			}
			return RegistrationFunc(func() {})
		}
		reg = upstream
		mu.Unlock()
		return RegistrationFunc(release)
	})
}

// Merge interleaves the values of several streams. The first error from any
// source ends the merged stream, and ending it releases every source.
func Merge[T any](streams ...*Stream[T]) *Stream[T] {
	return FromListener(func(ctx context.Context, notify Notify[T]) Registration {
		regs := make([]Registration, 0, len(streams))
		for _, s := range streams {
			regs = append(regs, s.register(ctx, notify))
		}
		return RegistrationFunc(func() {
			for _, reg := range regs {
				if reg != nil {
					reg.Remove()
				}
			}
		})
	})
}
