package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rxfirestore/internal/shared/logger"
)

// Event represents a generic event
type Event interface {
	Topic() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// SubscriptionID identifies one handler registration.
type SubscriptionID uint64

// EventBusInterface defines the contract for event bus implementations
type EventBusInterface interface {
	Subscribe(topic string, handler Handler) SubscriptionID
	Unsubscribe(topic string, id SubscriptionID)
	UnsubscribeAll(topic string)
	Publish(ctx context.Context, event Event) error
	PublishAndForget(ctx context.Context, event Event)
	GetSubscriberCount(topic string) int
	GetTopics() []string
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// EventBus is an in-memory topic based event bus.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID SubscriptionID
	logger logger.Logger
	config BusConfig
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	AsyncProcessing bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// DefaultBusConfig delivers synchronously without retries.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		AsyncProcessing: false,
		MaxRetries:      0,
		RetryDelay:      100 * time.Millisecond,
	}
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates a new event bus with custom configuration
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &EventBus{
		subs:   make(map[string][]subscription),
		logger: log.WithComponent("eventbus"),
		config: config,
	}
}

// Subscribe adds a handler for a topic and returns its id.
func (eb *EventBus) Subscribe(topic string, handler Handler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.subs[topic] = append(eb.subs[topic], subscription{id: id, handler: handler})
	eb.logger.Debugf("Subscribed handler %d for topic: %s", id, topic)
	return id
}

// Unsubscribe removes one handler. Unknown ids are ignored.
func (eb *EventBus) Unsubscribe(topic string, id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subs[topic]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		remaining := make([]subscription, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		if len(remaining) == 0 {
			delete(eb.subs, topic)
		} else {
			eb.subs[topic] = remaining
		}
		eb.logger.Debugf("Unsubscribed handler %d from topic: %s", id, topic)
		return
	}
}

// UnsubscribeAll removes all handlers for a topic
func (eb *EventBus) UnsubscribeAll(topic string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	delete(eb.subs, topic)
	eb.logger.Debugf("Unsubscribed all handlers for topic: %s", topic)
}

// Publish sends an event to all handlers registered for its topic. The
// handler list is captured before delivery, so handlers may subscribe or
// unsubscribe while being called.
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := eb.subs[event.Topic()]
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	eb.logger.Debugf("Publishing %s event to %d handlers", event.Topic(), len(subs))

	if eb.config.AsyncProcessing {
		return eb.publishAsync(ctx, event, subs)
	}
	return eb.publishSync(ctx, event, subs)
}

func (eb *EventBus) publishSync(ctx context.Context, event Event, subs []subscription) error {
	var firstErr error
	for _, sub := range subs {
		if err := eb.executeHandler(ctx, event, sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *EventBus) publishAsync(ctx context.Context, event Event, subs []subscription) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, sub := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			if err := eb.executeHandler(ctx, event, s); err != nil {
				errCh <- err
			}
		}(sub)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

// executeHandler executes a handler with retry logic
func (eb *EventBus) executeHandler(ctx context.Context, event Event, sub subscription) error {
	var lastErr error

	for attempt := 0; attempt <= eb.config.MaxRetries; attempt++ {
		if attempt > 0 {
			eb.logger.Warnf("Retrying handler %d for %s (attempt %d/%d)",
				sub.id, event.Topic(), attempt+1, eb.config.MaxRetries+1)
			time.Sleep(eb.config.RetryDelay)
		}

		if err := sub.handler(ctx, event); err != nil {
			lastErr = err
			eb.logger.Errorf("Handler %d failed for %s: %v", sub.id, event.Topic(), err)
			continue
		}
		return nil
	}

	return fmt.Errorf("handler failed after %d attempts: %w", eb.config.MaxRetries+1, lastErr)
}

// PublishAndForget publishes an event asynchronously without waiting for completion
func (eb *EventBus) PublishAndForget(ctx context.Context, event Event) {
	go func() {
		if err := eb.Publish(context.WithoutCancel(ctx), event); err != nil {
			eb.logger.Errorf("Failed to publish %s event: %v", event.Topic(), err)
		}
	}()
}

// GetSubscriberCount returns the number of handlers for a topic
func (eb *EventBus) GetSubscriberCount(topic string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[topic])
}

// GetTopics returns all topics with at least one handler
func (eb *EventBus) GetTopics() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	topics := make([]string, 0, len(eb.subs))
	for topic := range eb.subs {
		topics = append(topics, topic)
	}
	return topics
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	topic     string
	data      interface{}
	timestamp time.Time
	source    string
}

// NewBasicEvent creates a new basic event
func NewBasicEvent(topic string, data interface{}) Event {
	return NewBasicEventWithSource(topic, data, "unknown")
}

// NewBasicEventWithSource creates a new basic event with source
func NewBasicEventWithSource(topic string, data interface{}, source string) Event {
	return &BasicEvent{
		topic:     topic,
		data:      data,
		timestamp: time.Now(),
		source:    source,
	}
}

func (e *BasicEvent) Topic() string {
	return e.topic
}

func (e *BasicEvent) Data() interface{} {
	return e.data
}

func (e *BasicEvent) Timestamp() time.Time {
	return e.timestamp
}

func (e *BasicEvent) Source() string {
	return e.source
}
