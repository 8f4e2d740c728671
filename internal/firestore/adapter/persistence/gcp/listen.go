package gcp

import (
	"context"
	"sync"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/shared/reactive"
)

// snapshotListen owns one SDK snapshot iterator. Remove cancels the
// iterator's context; the goroutine then stops the iterator itself, since
// Stop must not run concurrently with Next.
type snapshotListen struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (l *snapshotListen) Remove() {
	l.once.Do(l.cancel)
}

func (l *snapshotListen) stopped() bool {
	return l.ctx.Err() != nil
}

func (s *Store) startListen(register func(l *snapshotListen)) reactive.Registration {
	ctx, cancel := context.WithCancel(s.root)
	l := &snapshotListen{ctx: ctx, cancel: cancel}
	s.listens.Add(1)
	go func() {
		defer s.listens.Done()
		defer l.Remove()
		register(l)
	}()
	return l
}

// ListenDocument streams document snapshots from the SDK. A missing
// document arrives as a snapshot with Exists() == false.
func (s *Store) ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	if err := s.checkListen(ref.Validate()); err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return s.startListen(func(l *snapshotListen) {
		it := s.doc(ref).Snapshots(l.ctx)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if l.stopped() {
				return
			}
			if err != nil {
				if !isDone(l.ctx, err) {
					notify(nil, translateError("listen "+ref.Path, err))
				}
				return
			}
			notify(fromSnapshot(ref, snap), nil)
		}
	})
}

// ListenQuery streams query snapshots from the SDK.
func (s *Store) ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	if err := s.checkListen(q.Validate()); err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return s.startListen(func(l *snapshotListen) {
		it := s.toQuery(q).Snapshots(l.ctx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if l.stopped() {
				return
			}
			if err != nil {
				if !isDone(l.ctx, err) {
					notify(nil, translateError("listen "+q.Collection.Path, err))
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				notify(nil, translateError("listen "+q.Collection.Path, err))
				return
			}
			notify(fromDocuments(q, docs, qs.ReadTime.UTC()), nil)
		}
	})
}

func (s *Store) checkListen(invalid error) error {
	if s.closed.Load() {
		return errClosed()
	}
	return invalid
}
