// Package memory implements the blocking document store contract in
// process. Records are immutable once stored; every write replaces them.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rxfirestore/internal/firestore/adapter/realtime"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"

	"github.com/google/uuid"
)

type record struct {
	ref        model.DocumentRef
	data       map[string]any
	createTime time.Time
	updateTime time.Time
}

func (r *record) snapshot() *model.DocumentSnapshot {
	return model.NewDocumentSnapshot(r.ref, r.data, r.createTime, r.updateTime)
}

// Store keeps documents in a map keyed by path and publishes every
// committed change on its feed.
type Store struct {
	mu        sync.RWMutex
	docs      map[string]*record
	lastWrite time.Time

	feed    repository.ChangeFeed
	filters *filterCompiler
	logger  logger.Logger
	closed  atomic.Bool
	watches *realtime.WatchGroup
}

var _ repository.DocumentStore = (*Store)(nil)

// NewStore creates an empty store publishing on feed. A nil feed gets an
// in-process feed of its own.
func NewStore(feed repository.ChangeFeed, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if feed == nil {
		feed = realtime.NewLocalFeed(nil, log)
	}
	filters, err := newFilterCompiler()
	if err != nil {
		return nil, err
	}
	return &Store{
		docs:    make(map[string]*record),
		feed:    feed,
		filters: filters,
		logger:  log.WithComponent("memory_store"),
		watches: realtime.NewWatchGroup(),
	}, nil
}

func errClosed() error {
	return apperrors.NewBackendError("memory store is closed").WithComponent("memory_store")
}

// tick returns a write time strictly after the previous one. Callers hold
// the write lock.
func (s *Store) tick() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastWrite) {
		now = s.lastWrite.Add(time.Nanosecond)
	}
	s.lastWrite = now
	return now
}

// Get returns the current snapshot of ref.
func (s *Store) Get(ctx context.Context, ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.snapshotOf(ref), nil
}

func (s *Store) snapshotOf(ref model.DocumentRef) *model.DocumentSnapshot {
	s.mu.RLock()
	rec := s.docs[ref.Path]
	s.mu.RUnlock()
	if rec == nil {
		return model.MissingDocumentSnapshot(ref)
	}
	return rec.snapshot()
}

func (s *Store) Set(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error {
	return s.Commit(ctx, []model.WriteOperation{model.SetOperation(ref, fields, opts)})
}

func (s *Store) Update(ctx context.Context, ref model.DocumentRef, fields map[string]any) error {
	return s.Commit(ctx, []model.WriteOperation{model.UpdateOperation(ref, fields)})
}

func (s *Store) Delete(ctx context.Context, ref model.DocumentRef) error {
	return s.Commit(ctx, []model.WriteOperation{model.DeleteOperation(ref)})
}

// Add stores fields under a generated id.
func (s *Store) Add(ctx context.Context, col model.CollectionRef, fields map[string]any) (model.DocumentRef, error) {
	if err := col.Validate(); err != nil {
		return model.DocumentRef{}, err
	}
	ref := col.Doc(uuid.NewString())
	if err := s.Set(ctx, ref, fields, nil); err != nil {
		return model.DocumentRef{}, err
	}
	return ref, nil
}

// Commit applies ops atomically: either every write lands or none does.
func (s *Store) Commit(ctx context.Context, ops []model.WriteOperation) error {
	if s.closed.Load() {
		return errClosed()
	}
	if len(ops) > apperrors.MaxBatchSize {
		return apperrors.NewBatchSizeExceededError(len(ops))
	}

	events, err := s.atomically(func(st *stage) error {
		for _, op := range ops {
			if err := st.apply(op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events)
	return nil
}

// atomically runs fn against a stage under the write lock and commits the
// stage when fn succeeds.
func (s *Store) atomically(fn func(st *stage) error) ([]model.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := newStage(s, s.tick())
	if err := fn(st); err != nil {
		return nil, err
	}
	return st.commit(), nil
}

func (s *Store) publish(ctx context.Context, events []model.ChangeEvent) {
	for _, event := range events {
		if err := s.feed.Publish(ctx, event); err != nil {
			s.logger.Warnf("Failed to publish %s event for %s: %v", event.Type, event.Path, err)
		}
	}
}

// Query returns the documents directly inside q.Collection that match every
// filter, ordered by q.Orders then by path, truncated to q.Limit.
func (s *Store) Query(ctx context.Context, q model.Query) (*model.QuerySnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m, err := s.filters.compile(q.Filters)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error()).WithCause(apperrors.ErrInvalidQuery)
	}
	keys, err := orderKeys(q.Orders)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error()).WithCause(apperrors.ErrInvalidQuery)
	}

	s.mu.RLock()
	var matched []*record
	for _, rec := range s.docs {
		if rec.ref.Parent().Path != q.Collection.Path {
			continue
		}
		if hasOrderFields(keys, rec.data) && m.matches(rec.data) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, keys)
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	snap := &model.QuerySnapshot{
		Query:     q,
		Documents: make([]*model.DocumentSnapshot, 0, len(matched)),
		ReadTime:  time.Now().UTC(),
	}
	for _, rec := range matched {
		snap.Documents = append(snap.Documents, rec.snapshot())
	}
	return snap, nil
}

// Close stops every listener. The feed belongs to the caller.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.watches.RemoveAll()
	return nil
}
