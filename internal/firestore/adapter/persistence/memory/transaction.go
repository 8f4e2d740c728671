package memory

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
)

// RunTransaction runs fn once while holding the store's write lock, so no
// other write can interleave and the attempt never conflicts. fn must not
// call back into the store outside tx.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TransactionFunc) (any, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}

	var result any
	events, err := s.atomically(func(st *stage) error {
		var err error
		result, err = fn(ctx, &transaction{stage: st})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events)
	return result, nil
}

type transaction struct {
	stage *stage
	wrote bool
}

func (tx *transaction) Get(ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if tx.wrote {
		return nil, apperrors.NewValidationError("transaction reads must happen before writes")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if rec := tx.stage.read(ref.Path); rec != nil {
		return rec.snapshot(), nil
	}
	return model.MissingDocumentSnapshot(ref), nil
}

func (tx *transaction) write(op model.WriteOperation) error {
	tx.wrote = true
	return tx.stage.apply(op)
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
