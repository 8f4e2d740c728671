package gcp

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RunTransaction runs fn in a Firestore transaction. The SDK retries
// contended attempts, so fn may run more than once.
func (s *Store) RunTransaction(ctx context.Context, fn repository.TransactionFunc) (any, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	var (
		result   any
		abortErr error
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		var err error
		result, err = fn(ctx, &transaction{store: s, tx: tx})
		abortErr = err
		return err
	})
	if err != nil {
		return nil, transactionError(abortErr, err)
	}
	return result, nil
}

// transactionError reports the error returned by the caller's function
// unchanged; SDK and commit failures are translated.
func transactionError(abortErr, err error) error {
	if abortErr != nil {
		return abortErr
	}
	return translateError("transaction", err)
}

type transaction struct {
	store *Store
	tx    *fs.Transaction
	wrote bool
}

func (t *transaction) Get(ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if t.wrote {
		return nil, apperrors.NewValidationError("transaction reads must happen before writes")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(t.store.doc(ref))
	if status.Code(err) == codes.NotFound {
		return model.MissingDocumentSnapshot(ref), nil
	}
	if err != nil {
		return nil, translateError("get "+ref.Path, err)
	}
	return fromSnapshot(ref, snap), nil
}

func (t *transaction) write(op model.WriteOperation) error {
	t.wrote = true
	w, err := t.store.prepare(op)
	if err != nil {
		return err
	}
	return w(t.tx)
}

func (t *transaction) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error {
	return t.write(model.SetOperation(ref, fields, opts))
}

func (t *transaction) Update(ref model.DocumentRef, fields map[string]any) error {
	return t.write(model.UpdateOperation(ref, fields))
}

func (t *transaction) Delete(ref model.DocumentRef) error {
	return t.write(model.DeleteOperation(ref))
}
