package usecase

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	"rxfirestore/internal/shared/logger"
	"rxfirestore/internal/shared/reactive"
)

// DocumentUsecase exposes one document as reactive operations. Every
// operation is cold: the backend is called once per subscription.
type DocumentUsecase struct {
	ref     model.DocumentRef
	backend repository.Backend
	logger  logger.Logger
}

// Ref returns the document reference.
func (d *DocumentUsecase) Ref() model.DocumentRef {
	return d.ref
}

// Get reads the document. A missing document is a snapshot with
// Exists() == false, not an error.
func (d *DocumentUsecase) Get() *reactive.Single[model.DocumentSnapshot] {
	return reactive.FromCallback(func(ctx context.Context, complete reactive.Completion[model.DocumentSnapshot]) {
		d.logger.Debug("Getting document")
		d.backend.GetDocument(ctx, d.ref, traced(d.logger, "get", complete))
	})
}

// Set overwrites the document with fields.
func (d *DocumentUsecase) Set(fields map[string]any) *reactive.Single[struct{}] {
	return d.set(fields, nil)
}

// SetWithOptions writes fields, merging with existing data as opts
// describes.
func (d *DocumentUsecase) SetWithOptions(fields map[string]any, opts model.SetOptions) *reactive.Single[struct{}] {
	return d.set(fields, &opts)
}

func (d *DocumentUsecase) set(fields map[string]any, opts *model.SetOptions) *reactive.Single[struct{}] {
	fields = model.CopyFields(fields)
	return reactive.FromErrCallback(func(ctx context.Context, complete reactive.ErrCompletion) {
		d.logger.WithFields(map[string]interface{}{"merge": opts.IsMerge()}).Debug("Setting document")
		d.backend.SetDocument(ctx, d.ref, fields, opts, tracedErr(d.logger, "set", complete))
	})
}

// Update changes the given fields of an existing document. Keys may be
// dotted field paths. Updating a missing document fails with the backend's
// not-found error.
func (d *DocumentUsecase) Update(fields map[string]any) *reactive.Single[struct{}] {
	fields = model.CopyFields(fields)
	return reactive.FromErrCallback(func(ctx context.Context, complete reactive.ErrCompletion) {
		d.logger.Debug("Updating document")
		d.backend.UpdateDocument(ctx, d.ref, fields, tracedErr(d.logger, "update", complete))
	})
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *DocumentUsecase) Delete() *reactive.Single[struct{}] {
	return reactive.FromErrCallback(func(ctx context.Context, complete reactive.ErrCompletion) {
		d.logger.Debug("Deleting document")
		d.backend.DeleteDocument(ctx, d.ref, tracedErr(d.logger, "delete", complete))
	})
}

// Listen streams snapshots of the document until the subscription is
// disposed or the backend reports an error. opts may be nil.
func (d *DocumentUsecase) Listen(opts *model.ListenOptions) *reactive.Stream[model.DocumentSnapshot] {
	return reactive.FromListener(func(ctx context.Context, notify reactive.Notify[model.DocumentSnapshot]) reactive.Registration {
		d.logger.Debug("Listening to document")
		return loggedRegistration(d.logger, d.backend.ListenDocument(ctx, d.ref, opts, notify))
	})
}
