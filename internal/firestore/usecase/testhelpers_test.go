// Shared mocks and fakes for the usecase tests.
package usecase_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/reactive"

	"github.com/stretchr/testify/mock"
)

// MockBackend is a testify mock of repository.Backend. Tests drive the
// callbacks from Run functions.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetDocument(ctx context.Context, ref model.DocumentRef, complete reactive.Completion[model.DocumentSnapshot]) {
	m.Called(ctx, ref, complete)
}

func (m *MockBackend) SetDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions, complete reactive.ErrCompletion) {
	m.Called(ctx, ref, fields, opts, complete)
}

func (m *MockBackend) UpdateDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, complete reactive.ErrCompletion) {
	m.Called(ctx, ref, fields, complete)
}

func (m *MockBackend) DeleteDocument(ctx context.Context, ref model.DocumentRef, complete reactive.ErrCompletion) {
	m.Called(ctx, ref, complete)
}

func (m *MockBackend) AddDocument(ctx context.Context, col model.CollectionRef, fields map[string]any, complete reactive.Completion[model.DocumentRef]) {
	m.Called(ctx, col, fields, complete)
}

func (m *MockBackend) ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	args := m.Called(ctx, ref, opts, notify)
	reg, _ := args.Get(0).(reactive.Registration)
	return reg
}

func (m *MockBackend) GetDocuments(ctx context.Context, q model.Query, complete reactive.Completion[model.QuerySnapshot]) {
	m.Called(ctx, q, complete)
}

func (m *MockBackend) ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	args := m.Called(ctx, q, opts, notify)
	reg, _ := args.Get(0).(reactive.Registration)
	return reg
}

func (m *MockBackend) Batch() repository.WriteBatch {
	args := m.Called()
	return args.Get(0).(repository.WriteBatch)
}

func (m *MockBackend) RunTransaction(ctx context.Context, fn repository.TransactionFunc, complete reactive.Completion[any]) {
	m.Called(ctx, fn, complete)
}

// MockWriteBatch is a testify mock of repository.WriteBatch.
type MockWriteBatch struct {
	mock.Mock
}

func (m *MockWriteBatch) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) {
	m.Called(ref, fields, opts)
}

func (m *MockWriteBatch) Update(ref model.DocumentRef, fields map[string]any) {
	m.Called(ref, fields)
}

func (m *MockWriteBatch) Delete(ref model.DocumentRef) {
	m.Called(ref)
}

func (m *MockWriteBatch) Len() int {
	return m.Called().Int(0)
}

func (m *MockWriteBatch) Commit(ctx context.Context, complete reactive.ErrCompletion) {
	m.Called(ctx, complete)
}

// countingRegistration records how often a listener was released.
type countingRegistration struct {
	removals atomic.Int32
}

func (r *countingRegistration) Remove() {
	r.removals.Add(1)
}

// collectionBackend is a hand written backend holding one collection in
// memory. It counts reads and commits so that paging can be asserted.
type collectionBackend struct {
	repository.Backend

	mu       sync.Mutex
	docs     map[string]map[string]any
	reads    int
	commits  int
	failRead error
}

func newCollectionBackend(collection string, n int) *collectionBackend {
	b := &collectionBackend{docs: make(map[string]map[string]any)}
	for i := 0; i < n; i++ {
		b.docs[fmt.Sprintf("%s/doc%03d", collection, i)] = map[string]any{"n": i}
	}
	return b
}

func (b *collectionBackend) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

func (b *collectionBackend) GetDocuments(_ context.Context, q model.Query, complete reactive.Completion[model.QuerySnapshot]) {
	b.mu.Lock()
	b.reads++
	if b.failRead != nil {
		err := b.failRead
		b.mu.Unlock()
		complete(nil, err)
		return
	}

	paths := make([]string, 0, len(b.docs))
	for path := range b.docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	if q.Limit > 0 && len(paths) > q.Limit {
		paths = paths[:q.Limit]
	}

	snap := model.QuerySnapshot{Query: q, ReadTime: time.Now()}
	for _, path := range paths {
		snap.Documents = append(snap.Documents, model.NewDocumentSnapshot(model.Doc(path), b.docs[path], time.Time{}, time.Time{}))
	}
	b.mu.Unlock()

	complete(&snap, nil)
}

func (b *collectionBackend) Batch() repository.WriteBatch {
	return &collectionBatch{backend: b}
}

type collectionBatch struct {
	backend *collectionBackend
	deletes []model.DocumentRef
}

func (c *collectionBatch) Set(model.DocumentRef, map[string]any, *model.SetOptions) {}
func (c *collectionBatch) Update(model.DocumentRef, map[string]any)                 {}

func (c *collectionBatch) Delete(ref model.DocumentRef) {
	c.deletes = append(c.deletes, ref)
}

func (c *collectionBatch) Len() int {
	return len(c.deletes)
}

func (c *collectionBatch) Commit(_ context.Context, complete reactive.ErrCompletion) {
	c.backend.mu.Lock()
	c.backend.commits++
	for _, ref := range c.deletes {
		delete(c.backend.docs, ref.Path)
	}
	c.backend.mu.Unlock()
	complete(nil)
}

func ptr[T any](v T) *T { return &v }
