package repository

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/shared/reactive"
)

// DocumentStore is the blocking contract implemented by the concrete stores.
// The persistence package lifts it into a Backend.
type DocumentStore interface {
	// Get returns a snapshot with Exists() == false for a missing document.
	Get(ctx context.Context, ref model.DocumentRef) (*model.DocumentSnapshot, error)
	// Set writes fields, honouring merge options.
	Set(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error
	// Update changes the given dotted field paths of an existing document and
	// fails with a not-found error when it is missing.
	Update(ctx context.Context, ref model.DocumentRef, fields map[string]any) error
	// Delete succeeds whether or not the document exists.
	Delete(ctx context.Context, ref model.DocumentRef) error
	// Add creates a document with a generated id.
	Add(ctx context.Context, col model.CollectionRef, fields map[string]any) (model.DocumentRef, error)
	Query(ctx context.Context, q model.Query) (*model.QuerySnapshot, error)

	// Commit applies ops atomically.
	Commit(ctx context.Context, ops []model.WriteOperation) error
	RunTransaction(ctx context.Context, fn TransactionFunc) (any, error)

	ListenDocument(ctx context.Context, ref model.DocumentRef, opts *model.ListenOptions, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration
	ListenQuery(ctx context.Context, q model.Query, opts *model.ListenOptions, notify reactive.Notify[model.QuerySnapshot]) reactive.Registration

	Close(ctx context.Context) error
}

// Transaction defines the operations available inside a transaction
// attempt. Reads must precede writes.
type Transaction interface {
	Get(ref model.DocumentRef) (*model.DocumentSnapshot, error)
	Set(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error
	Update(ref model.DocumentRef, fields map[string]any) error
	Delete(ref model.DocumentRef) error
}

// TransactionFunc is the body of a transaction. Returning an error aborts
// the transaction.
type TransactionFunc func(ctx context.Context, tx Transaction) (any, error)
