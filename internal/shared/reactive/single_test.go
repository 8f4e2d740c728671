package reactive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder counts the terminal events a consumer receives.
type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	delivered chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{delivered: make(chan struct{}, 16)}
}

func (r *recorder[T]) onSuccess(v T) {
	r.mu.Lock()
	r.values = append(r.values, v)
	r.mu.Unlock()
	r.delivered <- struct{}{}
}

func (r *recorder[T]) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.delivered <- struct{}{}
}

func (r *recorder[T]) snapshot() ([]T, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...)
}

func ptr[T any](v T) *T { return &v }

func TestFromCallback_ValueResolvesOnce(t *testing.T) {
	single := FromCallback(func(_ context.Context, complete Completion[string]) {
		complete(ptr("doc"), nil)
		complete(ptr("again"), nil)
		complete(nil, errors.New("late"))
	})

	rec := newRecorder[string]()
	single.Subscribe(context.Background(), rec.onSuccess, rec.onError)

	values, errs := rec.snapshot()
	assert.Equal(t, []string{"doc"}, values)
	assert.Empty(t, errs)
}

func TestFromCallback_ErrorResolvesOnce(t *testing.T) {
	boom := errors.New("permission denied")
	single := FromCallback(func(_ context.Context, complete Completion[string]) {
		complete(nil, boom)
		complete(ptr("late"), nil)
	})

	rec := newRecorder[string]()
	single.Subscribe(context.Background(), rec.onSuccess, rec.onError)

	values, errs := rec.snapshot()
	assert.Empty(t, values)
	require.Len(t, errs, 1)
	assert.Same(t, boom, errs[0])
}

func TestFromCallback_ValueWinsOverError(t *testing.T) {
	single := FromCallback(func(_ context.Context, complete Completion[int]) {
		complete(ptr(42), errors.New("ignored"))
	})

	v, err := single.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFromCallback_NeitherValueNorErrorNeverResolves(t *testing.T) {
	single := FromCallback(func(_ context.Context, complete Completion[int]) {
		complete(nil, nil)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := single.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFromCallback_IsColdAndRunsPerSubscription(t *testing.T) {
	var calls atomic.Int32
	single := FromCallback(func(_ context.Context, complete Completion[int32]) {
		n := calls.Add(1)
		complete(&n, nil)
	})
	assert.Equal(t, int32(0), calls.Load())

	first, err := single.Await(context.Background())
	require.NoError(t, err)
	second, err := single.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), first)
	assert.Equal(t, int32(2), second)
}

func TestFromCallback_BackendContextIsNotCancelled(t *testing.T) {
	observed := make(chan error, 1)
	release := make(chan struct{})
	single := FromCallback(func(ctx context.Context, complete Completion[int]) {
		go func() {
			<-release
			observed <- ctx.Err()
			complete(ptr(1), nil)
		}()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := single.Await(ctx)
		done <- err
	}()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-observed, "in-flight backend call must not see consumer cancellation")
}

func TestSingle_DisposeDetachesObserver(t *testing.T) {
	var complete Completion[string]
	single := FromCallback(func(_ context.Context, c Completion[string]) {
		complete = c
	})

	rec := newRecorder[string]()
	d := single.Subscribe(context.Background(), rec.onSuccess, rec.onError)
	d.Dispose()
	complete(ptr("written"), nil)

	values, errs := rec.snapshot()
	assert.Empty(t, values)
	assert.Empty(t, errs)
}

func TestFromErrCallback(t *testing.T) {
	ok := FromErrCallback(func(_ context.Context, complete ErrCompletion) {
		complete(nil)
	})
	_, err := ok.Await(context.Background())
	assert.NoError(t, err)

	boom := errors.New("unavailable")
	failing := FromErrCallback(func(_ context.Context, complete ErrCompletion) {
		complete(boom)
		complete(nil)
	})
	_, err = failing.Await(context.Background())
	assert.Same(t, boom, err)
}

func TestJustAndFail(t *testing.T) {
	v, err := Just("x").Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	boom := errors.New("boom")
	_, err = Fail[string](boom).Await(context.Background())
	assert.Same(t, boom, err)
}

func TestSingle_ConcurrentCompletionsDeliverOnce(t *testing.T) {
	single := FromCallback(func(_ context.Context, complete Completion[int]) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					complete(ptr(i), nil)
				} else {
					complete(nil, errors.New("racing"))
				}
			}(i)
		}
		wg.Wait()
	})

	rec := newRecorder[int]()
	single.Subscribe(context.Background(), rec.onSuccess, rec.onError)

	values, errs := rec.snapshot()
	assert.Equal(t, 1, len(values)+len(errs))
}
