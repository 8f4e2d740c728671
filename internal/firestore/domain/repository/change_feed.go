package repository

import (
	"context"

	"rxfirestore/internal/firestore/domain/model"
)

// ChangeFeed fans committed writes out to listeners, in process or across
// instances.
type ChangeFeed interface {
	Publish(ctx context.Context, event model.ChangeEvent) error
	// Subscribe delivers events for documents directly inside collectionPath
	// until the returned function is called.
	Subscribe(ctx context.Context, collectionPath string, handler func(model.ChangeEvent)) (unsubscribe func(), err error)
	Close() error
}
