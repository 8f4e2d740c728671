package repository

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/shared/reactive"
)

// Backend is the callback-based document store the reactive adapters wrap.
//
// One-shot primitives report their outcome through a completion callback
// that may run on any goroutine. A completion carrying neither a value nor
// an error leaves the corresponding Single unresolved. Listen primitives
// push notifications until the returned Registration is removed or an error
// is reported.
type Backend interface {
	GetDocument(ctx context.Context, ref model.DocumentRef, complete reactive.Completion[model.DocumentSnapshot])
	SetDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions, complete reactive.ErrCompletion)
	UpdateDocument(ctx context.Context, ref model.DocumentRef, fields map[string]any, complete reactive.ErrCompletion)
	DeleteDocument(ctx context.Context, ref model.DocumentRef, complete reactive.ErrCompletion)
	AddDocument(ctx context.Context, col model.CollectionRef, fields map[string]any, complete reactive.Completion[model.DocumentRef])
	ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration

	// GetDocuments reads a query. A collection read is an unfiltered query
	// whose Limit bounds the number of documents returned.
	GetDocuments(ctx context.Context, q model.Query, complete reactive.Completion[model.QuerySnapshot])
	ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration

	// Batch returns a fresh single-use write batch.
	Batch() WriteBatch

	// RunTransaction runs fn, possibly several times, and completes with the
	// value returned by the successful attempt. An error returned by fn
	// aborts the transaction and is reported as is.
	RunTransaction(ctx context.Context, fn TransactionFunc, complete reactive.Completion[any])
}

// WriteBatch accumulates writes applied atomically by Commit. A batch may be
// committed once.
type WriteBatch interface {
	Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions)
	Update(ref model.DocumentRef, fields map[string]any)
	Delete(ref model.DocumentRef)
	Len() int
	Commit(ctx context.Context, complete reactive.ErrCompletion)
}
