package usecase

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"
)

// BatchUsecase accumulates writes on a backend batch. The batch is single
// use: committing twice is answered by the backend.
type BatchUsecase struct {
	batch  repository.WriteBatch
	logger logger.Logger
}

// Set queues an overwrite, or a merge when opts says so. opts may be nil.
func (b *BatchUsecase) Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) *BatchUsecase {
	b.batch.Set(ref, model.CopyFields(fields), opts)
	return b
}

// Update queues an update of an existing document.
func (b *BatchUsecase) Update(ref model.DocumentRef, fields map[string]any) *BatchUsecase {
	b.batch.Update(ref, model.CopyFields(fields))
	return b
}

// Delete queues a delete.
func (b *BatchUsecase) Delete(ref model.DocumentRef) *BatchUsecase {
	b.batch.Delete(ref)
	return b
}

// Apply queues a prepared write operation.
func (b *BatchUsecase) Apply(op model.WriteOperation) *BatchUsecase {
	switch op.Type {
	case model.WriteTypeSet:
		return b.Set(op.Ref, op.Data, op.Options)
	case model.WriteTypeUpdate:
		return b.Update(op.Ref, op.Data)
	default:
		return b.Delete(op.Ref)
	}
}

// Len returns the number of queued writes.
func (b *BatchUsecase) Len() int {
	return b.batch.Len()
}

// Commit applies the queued writes atomically.
func (b *BatchUsecase) Commit() *reactive.Single[struct{}] {
	return reactive.FromErrCallback(func(ctx context.Context, complete reactive.ErrCompletion) {
		b.logger.Debugf("Committing batch of %d writes", b.batch.Len())
		b.batch.Commit(ctx, tracedErr(b.logger, "batch commit", complete))
	})
}
