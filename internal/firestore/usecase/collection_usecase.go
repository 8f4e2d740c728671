package usecase

import (
	"context"
	"fmt"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"
)

// DefaultDeleteBatchLimit is the page size DeleteAll uses when callers have
// no preference.
const DefaultDeleteBatchLimit = 100

// CollectionUsecase exposes an unfiltered collection as reactive operations.
type CollectionUsecase struct {
	ref     model.CollectionRef
	backend repository.Backend
	root    *FirestoreUsecase
	logger  logger.Logger
}

// Ref returns the collection reference.
func (c *CollectionUsecase) Ref() model.CollectionRef {
	return c.ref
}

// Doc returns the adapter for a document inside the collection.
func (c *CollectionUsecase) Doc(id string) *DocumentUsecase {
	return c.root.Doc(c.ref.Doc(id))
}

// Where starts a filtered query over the collection.
func (c *CollectionUsecase) Where(field, op string, value any) *QueryUsecase {
	return c.root.Query(c.ref.Query().Where(field, op, value))
}

// OrderBy starts an ordered query over the collection.
func (c *CollectionUsecase) OrderBy(field, direction string) *QueryUsecase {
	return c.root.Query(c.ref.Query().OrderBy(field, direction))
}

// Limit starts a query reading at most n documents.
func (c *CollectionUsecase) Limit(n int) *QueryUsecase {
	return c.root.Query(c.ref.Query().LimitTo(n))
}

// GetAll reads every document of the collection.
func (c *CollectionUsecase) GetAll() *reactive.Single[model.QuerySnapshot] {
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[model.QuerySnapshot]) {
		c.logger.Debug("Reading collection")
		c.backend.GetDocuments(ctx, c.ref.Query(), traced(c.logger, "get all", complete))
	})
}

// Listen streams snapshots of the whole collection.
func (c *CollectionUsecase) Listen(opts *model.ListenOptions) *reactive.Stream[model.QuerySnapshot] {
	return c.root.Query(c.ref.Query()).Listen(opts)
}

// Add creates a document with a backend-assigned id and resolves with its
// reference.
func (c *CollectionUsecase) Add(fields map[string]any) *reactive.Single[model.DocumentRef] {
	fields = model.CopyFields(fields)
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[model.DocumentRef]) {
		c.logger.Debug("Adding document")
		c.backend.AddDocument(ctx, c.ref, fields, traced(c.logger, "add", complete))
	})
}

// DeleteAll deletes one page of at most batchLimit documents in a single
// atomic batch. It succeeds without committing anything once the collection
// is empty, so callers exhaust a large collection by repeating the call
// until it has nothing left to delete.
func (c *CollectionUsecase) DeleteAll(batchLimit int) *reactive.Single[struct{}] {
	return reactive.MapSingle(c.DeleteAllCount(batchLimit), func(int) (struct{}, error) {
		return struct{}{}, nil
	})
}

// DeleteAllCount behaves like DeleteAll and resolves with the number of
// documents deleted by the page. Zero means the collection was empty.
func (c *CollectionUsecase) DeleteAllCount(batchLimit int) *reactive.Single[int] {
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[int]) {
		log := c.logger.WithFields(map[string]interface{}{"batch_limit": batchLimit})

		if batchLimit > errors.MaxBatchSize {
			log.Warn("Rejecting delete page larger than the batch cap")
			complete(nil, errors.NewBatchSizeExceededError(batchLimit))
			return
		}
		if batchLimit <= 0 {
			complete(nil, errors.NewValidationError(fmt.Sprintf("batch limit must be positive, got %d", batchLimit)).
				WithDetail("batch_limit", batchLimit))
			return
		}

		page := c.ref.Query().LimitTo(batchLimit)
		c.backend.GetDocuments(ctx, page, traced(log, "delete page read", func(snap *model.QuerySnapshot, err error) {
			if snap == nil {
				complete(nil, err)
				return
			}

			if snap.Empty() {
				log.Debug("Collection already empty")
				deleted := 0
				complete(&deleted, nil)
				return
			}

			batch := c.backend.Batch()
			for _, doc := range snap.Documents {
				batch.Delete(doc.Ref())
			}
			deleted := batch.Len()

			batch.Commit(ctx, tracedErr(log, "delete page commit", func(err error) {
				if err != nil {
					complete(nil, err)
					return
				}
				log.Debugf("Deleted %d documents", deleted)
				complete(&deleted, nil)
			}))
		}))
	})
}
