package usecase

import (
	"context"
	"fmt"

	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/reactive"
)

// RunTransaction runs fn as a backend transaction. The backend retries
// conflicting attempts; the Single reports the final result or the error
// that aborted the transaction.
func (uc *FirestoreUsecase) RunTransaction(fn repository.TransactionFunc) *reactive.Single[any] {
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[any]) {
		uc.logger.Debug("Running transaction")
		uc.backend.RunTransaction(ctx, fn, traced(uc.logger, "transaction", complete))
	})
}

// RunTransactionAs is RunTransaction with a typed result.
func RunTransactionAs[T any](uc *FirestoreUsecase, fn func(ctx context.Context, tx repository.Transaction) (T, error)) *reactive.Single[T] {
	untyped := uc.RunTransaction(func(ctx context.Context, tx repository.Transaction) (any, error) {
		return fn(ctx, tx)
	})
	return reactive.MapSingle(untyped, func(v any) (T, error) {
		var zero T
		if v == nil {
			return zero, nil
		}
		typed, ok := v.(T)
		if !ok {
			return zero, errors.NewInternalError(fmt.Sprintf("transaction returned %T, expected %T", v, zero))
		}
		return typed, nil
	})
}
