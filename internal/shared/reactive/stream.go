package reactive

import (
	"context"
	"sync"
	"sync/atomic"
)

// Notify is a backend listener callback. A value is a new emission, an
// error ends the subscription. As with Completion the value wins when both
// are present, and a call carrying neither is ignored.
type Notify[T any] func(value *T, err error)

// Registration is the handle a backend returns for a registered listener.
// Remove must be safe to call after the backend has already reported an
// error, and must not wait for a notification that is currently being
// delivered.
type Registration interface {
	Remove()
}

// RegistrationFunc adapts a function to the Registration interface.
type RegistrationFunc func()

// Remove calls f.
func (f RegistrationFunc) Remove() { f() }

// Stream is a cancellable push stream of values terminated by an optional
// error or by the consumer disposing its subscription.
type Stream[T any] struct {
	register func(ctx context.Context, notify Notify[T]) Registration
}

// Event is one element of the channel view returned by Events.
type Event[T any] struct {
	Value T
	Err   error
}

// FromListener bridges a backend listener registration. The register
// function runs once per subscription and may invoke notify before it
// returns.
func FromListener[T any](register func(ctx context.Context, notify Notify[T]) Registration) *Stream[T] {
	return &Stream[T]{register: register}
}

// Subscribe registers a backend listener and forwards its notifications in
// arrival order. The first error is delivered to onError and ends the
// subscription.
//
// The returned Disposable releases the backend registration exactly once.
// Cancelling ctx has the same effect as disposing. No notification starts
// being delivered after disposal, and Dispose may be called from inside
// onNext.
func (s *Stream[T]) Subscribe(ctx context.Context, onNext func(T), onError func(error)) Disposable {
	sub := &streamSubscription[T]{onNext: onNext, onError: onError}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Dispose)
		sub.setStop(stop)
	}
	reg := s.register(context.WithoutCancel(ctx), sub.notify)
	sub.attach(reg)
	return sub
}

// Events exposes the stream as a channel. The channel is closed after a
// terminal error or once ctx is done; cancelling ctx is how the consumer
// disposes the subscription. Sends block until the consumer receives.
// The subscription is made on its own goroutine, so a backend that notifies
// from inside its register call never blocks Events itself.
func (s *Stream[T]) Events(ctx context.Context) <-chan Event[T] {
	out := make(chan Event[T])

	var mu sync.Mutex
	closed := false
	closeOut := func() {
		if !closed {
			closed = true
			close(out)
		}
	}
	send := func(ev Event[T], last bool) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- ev:
		case <-ctx.Done():
		}
		if last {
			closeOut()
		}
	}

	context.AfterFunc(ctx, func() {
		mu.Lock()
		closeOut()
		mu.Unlock()
	})

	go s.Subscribe(ctx,
		func(v T) { send(Event[T]{Value: v}, false) },
		func(err error) { send(Event[T]{Err: err}, true) },
	)
	return out
}

// streamSubscription holds the single-fire latch shared by the listener
// callback and the disposal path.
type streamSubscription[T any] struct {
	onNext  func(T)
	onError func(error)

	// deliver serializes downstream callbacks. Dispose never takes it.
	deliver    sync.Mutex
	terminated atomic.Bool

	mu       sync.Mutex
	reg      Registration
	released bool
	stop     func() bool
}

func (s *streamSubscription[T]) notify(value *T, err error) {
	if value == nil && err == nil {
		return
	}
	if s.terminated.Load() {
		return
	}

	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.terminated.Load() {
		return
	}

	if value != nil {
		if s.onNext != nil {
			s.onNext(*value)
		}
		return
	}

	if !s.terminated.CompareAndSwap(false, true) {
		return
	}
	if s.onError != nil {
		s.onError(err)
	}
	s.stopContextWatch()
	s.release()
}

// Dispose ends the subscription and releases the backend registration.
func (s *streamSubscription[T]) Dispose() {
	s.terminated.Store(true)
	s.stopContextWatch()
	s.release()
}

func (s *streamSubscription[T]) setStop(stop func() bool) {
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

func (s *streamSubscription[T]) stopContextWatch() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// attach records the registration returned by the backend. A subscription
// that terminated while the backend was still registering is released here.
func (s *streamSubscription[T]) attach(reg Registration) {
	if reg == nil {
		return
	}
	s.mu.Lock()
	s.reg = reg
	s.mu.Unlock()

	if s.terminated.Load() {
		s.release()
	}
}

func (s *streamSubscription[T]) release() {
	s.mu.Lock()
	if s.reg == nil || s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	reg := s.reg
	s.mu.Unlock()

	reg.Remove()
}
