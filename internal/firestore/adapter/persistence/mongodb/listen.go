package mongodb

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/shared/reactive"
)

// ListenDocument emits the document's snapshot now and after every change
// published on the feed for it.
func (s *Store) ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
	if err := s.checkListen(ref.Validate()); err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return s.watches.ListenDocument(ctx, s.feed, ref, func(ctx context.Context) (*model.DocumentSnapshot, error) {
		return s.Get(ctx, ref)
	}, notify)
}

// ListenQuery re-runs q after every change in its collection and emits the
// result when it differs from the previous one.
func (s *Store) ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
	if err := s.checkListen(q.Validate()); err != nil {
		notify(nil, err)
		return reactive.RegistrationFunc(func() {})
	}
	return s.watches.ListenQuery(ctx, s.feed, q, func(ctx context.Context) (*model.QuerySnapshot, error) {
		return s.Query(ctx, q)
	}, notify)
}

func (s *Store) checkListen(invalid error) error {
	if s.closed.Load() {
		return errClosed()
	}
	return invalid
}
