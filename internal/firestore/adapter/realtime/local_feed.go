package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"rxfirestore/internal/firestore/domain/model"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/eventbus"
	"rxfirestore/internal/shared/logger"
)

const localSource = "local-feed"

// ErrFeedClosed is returned by Publish and Subscribe after Close.
var ErrFeedClosed = apperrors.NewInternalError("change feed is closed").WithComponent("realtime")

// LocalFeed delivers change events inside one process. Topics are
// collection paths. Delivery is synchronous: Publish returns after every
// handler ran.
type LocalFeed struct {
	bus    eventbus.EventBusInterface
	logger logger.Logger
	closed atomic.Bool
}

// NewLocalFeed wraps bus. A nil bus gets a synchronous bus of its own.
func NewLocalFeed(bus eventbus.EventBusInterface, log logger.Logger) *LocalFeed {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if bus == nil {
		bus = eventbus.NewEventBus(log)
	}
	return &LocalFeed{bus: bus, logger: log.WithComponent("local_feed")}
}

// Publish hands event to the handlers subscribed to its collection.
func (f *LocalFeed) Publish(ctx context.Context, event model.ChangeEvent) error {
	if f.closed.Load() {
		return ErrFeedClosed
	}
	f.logger.Debugf("Publishing %s for %s", event.Type, event.Path)
	return f.bus.Publish(ctx, eventbus.NewBasicEventWithSource(event.CollectionPath, event, localSource))
}

// Subscribe registers handler for writes directly inside collectionPath.
func (f *LocalFeed) Subscribe(_ context.Context, collectionPath string, handler func(model.ChangeEvent)) (func(), error) {
	if f.closed.Load() {
		return nil, ErrFeedClosed
	}
	id := f.bus.Subscribe(collectionPath, func(_ context.Context, e eventbus.Event) error {
		if event, ok := e.Data().(model.ChangeEvent); ok {
			handler(event)
		}
		return nil
	})
	return sync.OnceFunc(func() { f.bus.Unsubscribe(collectionPath, id) }), nil
}

// Close drops every subscription. Later calls fail with ErrFeedClosed.
func (f *LocalFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	for _, topic := range f.bus.GetTopics() {
		f.bus.UnsubscribeAll(topic)
	}
	return nil
}
