package usecase

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"
)

// QueryUsecase exposes a filtered, ordered view of a collection.
type QueryUsecase struct {
	query   model.Query
	backend repository.Backend
	logger  logger.Logger
}

// Query returns the underlying query.
func (q *QueryUsecase) Query() model.Query {
	return q.query
}

// Where narrows the query further.
func (q *QueryUsecase) Where(field, op string, value any) *QueryUsecase {
	return q.with(q.query.Where(field, op, value))
}

// OrderBy adds an ordering.
func (q *QueryUsecase) OrderBy(field, direction string) *QueryUsecase {
	return q.with(q.query.OrderBy(field, direction))
}

// Limit caps the number of documents.
func (q *QueryUsecase) Limit(n int) *QueryUsecase {
	return q.with(q.query.LimitTo(n))
}

func (q *QueryUsecase) with(query model.Query) *QueryUsecase {
	return &QueryUsecase{query: query, backend: q.backend, logger: q.logger}
}

// GetAll runs the query once.
func (q *QueryUsecase) GetAll() *reactive.Single[model.QuerySnapshot] {
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[model.QuerySnapshot]) {
		q.logger.Debug("Running query")
		q.backend.GetDocuments(ctx, q.query, traced(q.logger, "query", complete))
	})
}

// Listen streams query snapshots in the backend's order until disposed or
// failed.
func (q *QueryUsecase) Listen(opts *model.ListenOptions) *reactive.Stream[model.QuerySnapshot] {
	return reactive.FromListener(func(ctx context.Context, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration {
		q.logger.Debug("Listening to query")
		return loggedRegistration(q.logger, q.backend.ListenQuery(ctx, q.query, opts, notify))
	})
}
