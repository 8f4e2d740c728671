package mongodb

import (
	"context"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// RunTransaction runs fn inside a MongoDB session transaction. The driver
// retries the attempt on transient errors, so fn may run more than once.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TransactionFunc) (any, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}

	now := s.tick()
	var (
		tx       *transaction
		abortErr error
	)
	result, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		tx = &transaction{store: s, ctx: sc, now: now}
		result, err := fn(sc, tx)
		abortErr = err
		return result, err
	})
	if err != nil {
		return nil, transactionError(abortErr, err)
	}
	s.publish(ctx, tx.events...)
	return result, nil
}

// transactionError reports the error returned by the caller's function
// unchanged; only driver and commit failures keep the store's wrapping.
func transactionError(abortErr, err error) error {
	if abortErr != nil {
		return abortErr
	}
	return err
}

type transaction struct {
	store  *Store
	ctx    context.Context
	now    time.Time
	wrote  bool
	events []*model.ChangeEvent
}

func (tx *transaction) Get(ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if tx.wrote {
		return nil, apperrors.NewValidationError("transaction reads must happen before writes")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return tx.store.get(tx.ctx, ref)
}

func (tx *transaction) write(op model.WriteOperation) error {
	tx.wrote = true
	if err := op.Validate(); err != nil {
		return err
	}
	event, err := tx.store.apply(tx.ctx, op, tx.now)
	if err != nil {
		return err
	}
	tx.events = append(tx.events, event)
	return nil
}

func (tx *transaction) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error {
	return tx.write(model.SetOperation(ref, fields, opts))
}

func (tx *transaction) Update(ref model.DocumentRef, fields map[string]any) error {
	return tx.write(model.UpdateOperation(ref, fields))
}

func (tx *transaction) Delete(ref model.DocumentRef) error {
	return tx.write(model.DeleteOperation(ref))
}
