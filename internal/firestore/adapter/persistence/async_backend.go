package persistence

import (
	"context"
	"fmt"
	"sync"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxInFlight bounds concurrent store calls when no bound is given.
const DefaultMaxInFlight = 64

// AsyncBackend lifts a blocking DocumentStore into the callback Backend.
// Each one-shot call runs on its own goroutine once a slot of the in-flight
// semaphore is free, and its completion is invoked exactly once, also when
// the store panics. Listens are push-based already and delegate directly.
type AsyncBackend struct {
	store  repository.DocumentStore
	sem    *semaphore.Weighted
	logger logger.Logger
}

var _ repository.Backend = (*AsyncBackend)(nil)

// NewAsyncBackend wraps store. maxInFlight <= 0 selects DefaultMaxInFlight.
func NewAsyncBackend(store repository.DocumentStore, maxInFlight int64, log logger.Logger) *AsyncBackend {
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &AsyncBackend{
		store:  store,
		sem:    semaphore.NewWeighted(maxInFlight),
		logger: log.WithComponent("async_backend"),
	}
}

// Store returns the wrapped store.
func (b *AsyncBackend) Store() repository.DocumentStore {
	return b.store
}

// Close closes the wrapped store.
func (b *AsyncBackend) Close(ctx context.Context) error {
	return b.store.Close(ctx)
}

// dispatch runs fn on a new goroutine under the semaphore and reports its
// outcome to complete.
func dispatch[T any](ctx context.Context, b *AsyncBackend, op string, complete reactive.Completion[T], fn func(context.Context) (*T, error)) {
	go func() {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			complete(nil, err)
			return
		}
		v, err := guard(b.logger, op, func() (*T, error) { return fn(ctx) })
		b.sem.Release(1)
		complete(v, err)
	}()
}

func dispatchErr(ctx context.Context, b *AsyncBackend, op string, complete reactive.ErrCompletion, fn func(context.Context) error) {
	dispatch(ctx, b, op, func(_ *struct{}, err error) { complete(err) }, func(ctx context.Context) (*struct{}, error) {
		return &struct{}{}, fn(ctx)
	})
}

func guard[T any](log logger.Logger, op string, fn func() (*T, error)) (v *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Store panicked in %s: %v", op, r)
			v = nil
			err = apperrors.NewInternalError(fmt.Sprintf("%s panicked: %v", op, r)).WithComponent("async_backend")
		}
	}()
	return fn()
}

func (b *AsyncBackend) GetDocument(ctx context.Context, ref model.DocumentRef, complete reactive.Completion[model.DocumentSnapshot]) {
	dispatch(ctx, b, "get "+ref.Path, complete, func(ctx context.Context) (*model.DocumentSnapshot, error) {
		return b.store.Get(ctx, ref)
	})
}

func (b *AsyncBackend) SetDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions, complete reactive.ErrCompletion) {
	dispatchErr(ctx, b, "set "+ref.Path, complete, func(ctx context.Context) error {
		return b.store.Set(ctx, ref, fields, opts)
	})
}

func (b *AsyncBackend) UpdateDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, complete reactive.ErrCompletion) {
	dispatchErr(ctx, b, "update "+ref.Path, complete, func(ctx context.Context) error {
		return b.store.Update(ctx, ref, fields)
	})
}

func (b *AsyncBackend) DeleteDocument(ctx context.Context, ref model.DocumentRef, complete reactive.ErrCompletion) {
	dispatchErr(ctx, b, "delete "+ref.Path, complete, func(ctx context.Context) error {
		return b.store.Delete(ctx, ref)
	})
}

func (b *AsyncBackend) AddDocument(ctx context.Context, col model.CollectionRef, fields map[string]any, complete reactive.Completion[model.DocumentRef]) {
	dispatch(ctx, b, "add "+col.Path, complete, func(ctx context.Context) (*model.DocumentRef, error) {
		ref, err := b.store.Add(ctx, col, fields)
		if err != nil {
			return nil, err
		}
		return &ref, nil
	})
}

func (b *AsyncBackend) GetDocuments(ctx context.Context, q model.Query, complete reactive.Completion[model.QuerySnapshot]) {
	dispatch(ctx, b, "query "+q.Collection.Path, complete, func(ctx context.Context) (*model.QuerySnapshot, error) {
		return b.store.Query(ctx, q)
	})
}

func (b *AsyncBackend) ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	return b.store.ListenDocument(ctx, ref, opts, notify)
}

func (b *AsyncBackend) ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	return b.store.ListenQuery(ctx, q, opts, notify)
}

func (b *AsyncBackend) RunTransaction(ctx context.Context, fn repository.TransactionFunc, complete reactive.Completion[any]) {
	dispatch(ctx, b, "transaction", complete, func(ctx context.Context) (*any, error) {
		result, err := b.store.RunTransaction(ctx, fn)
		if err != nil {
			return nil, err
		}
		return &result, nil
	})
}

// Batch returns a single-use batch committed through the store's Commit.
func (b *AsyncBackend) Batch() repository.WriteBatch {
	return &asyncBatch{backend: b}
}

type asyncBatch struct {
	backend *AsyncBackend

	mu        sync.Mutex
	ops       []model.WriteOperation
	committed bool
}

func (w *asyncBatch) add(op model.WriteOperation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.committed {
		w.backend.logger.Warnf("Dropping %s of %s queued after commit", op.Type, op.Ref.Path)
		return
	}
	w.ops = append(w.ops, op)
}

func (w *asyncBatch) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) {
	w.add(model.SetOperation(ref, model.CopyFields(fields), opts))
}

func (w *asyncBatch) Update(ref model.DocumentRef, fields map[string]any) {
	w.add(model.UpdateOperation(ref, model.CopyFields(fields)))
}

func (w *asyncBatch) Delete(ref model.DocumentRef) {
	w.add(model.DeleteOperation(ref))
}

func (w *asyncBatch) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ops)
}

// Commit applies the queued writes once. Later commits fail with a
// batch-committed conflict without reaching the store.
func (w *asyncBatch) Commit(ctx context.Context, complete reactive.ErrCompletion) {
	w.mu.Lock()
	already := w.committed
	w.committed = true
	ops := w.ops
	w.mu.Unlock()

	if already {
		go complete(apperrors.NewBatchCommittedError())
		return
	}
	if len(ops) == 0 {
		go complete(nil)
		return
	}
	dispatchErr(ctx, w.backend, fmt.Sprintf("commit of %d writes", len(ops)), complete, func(ctx context.Context) error {
		return w.backend.store.Commit(ctx, ops)
	})
}
