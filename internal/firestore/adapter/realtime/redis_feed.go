package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// StreamPrefix namespaces the per-collection change streams.
	StreamPrefix = "rxstore:changes:"

	readBlock    = time.Second
	readCount    = 100
	retryBackoff = 500 * time.Millisecond
)

// RedisFeed fans change events out across processes through one Redis
// Stream per collection. Subscribers only see entries appended after
// Subscribe returned.
type RedisFeed struct {
	client *redis.Client
	logger logger.Logger
	maxLen int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisFeed creates a feed on client. maxLen caps each stream
// (approximate trim); zero disables trimming.
func NewRedisFeed(client *redis.Client, maxLen int64, log logger.Logger) *RedisFeed {
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisFeed{
		client: client,
		logger: log.WithComponent("redis_feed"),
		maxLen: maxLen,
		ctx:    ctx,
		cancel: cancel,
	}
}

// StreamKey returns the Redis key holding changes for collectionPath.
func StreamKey(collectionPath string) string {
	return StreamPrefix + collectionPath
}

// Publish appends event to its collection stream.
func (f *RedisFeed) Publish(ctx context.Context, event model.ChangeEvent) error {
	if f.ctx.Err() != nil {
		return ErrFeedClosed
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode change data for %s: %w", event.Path, err)
	}

	stream := StreamKey(event.CollectionPath)
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":           string(event.Type),
			"path":           event.Path,
			"collectionPath": event.CollectionPath,
			"data":           data,
			"timestamp":      event.Timestamp.UnixNano(),
		},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}

	if err := f.client.XAdd(ctx, args).Err(); err != nil {
		f.logger.Errorf("Failed to append %s event for %s: %v", event.Type, event.Path, err)
		return err
	}
	f.logger.Debugf("Appended %s event for %s to %s", event.Type, event.Path, stream)
	return nil
}

// Subscribe starts a reader on the collection stream. The starting
// position is resolved before returning, so every event published after
// Subscribe returns is delivered. Handlers run on the reader goroutine.
func (f *RedisFeed) Subscribe(ctx context.Context, collectionPath string, handler func(model.ChangeEvent)) (func(), error) {
	if f.ctx.Err() != nil {
		return nil, ErrFeedClosed
	}
	stream := StreamKey(collectionPath)

	lastID := "0-0"
	latest, err := f.client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to resolve position of %s: %w", stream, err)
	}
	if len(latest) > 0 {
		lastID = latest[0].ID
	}

	readCtx, cancel := context.WithCancel(f.ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.consume(readCtx, stream, lastID, handler)
	}()

	f.logger.Debugf("Subscribed to %s from %s", stream, lastID)
	return sync.OnceFunc(cancel), nil
}

func (f *RedisFeed) consume(ctx context.Context, stream, lastID string, handler func(model.ChangeEvent)) {
	for ctx.Err() == nil {
		res, err := f.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			f.logger.Warnf("Failed to read %s: %v", stream, err)
			select {
			case <-ctx.Done():
			case <-time.After(retryBackoff):
			}
			continue
		}

		for _, s := range res {
			for _, msg := range s.Messages {
				lastID = msg.ID
				event, err := parseChangeEvent(msg)
				if err != nil {
					f.logger.Warnf("Skipping malformed entry %s on %s: %v", msg.ID, stream, err)
					continue
				}
				if ctx.Err() != nil {
					return
				}
				handler(event)
			}
		}
	}
}

// Close stops every reader and waits for them to exit. The client is
// owned by the caller.
func (f *RedisFeed) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}

func parseChangeEvent(msg redis.XMessage) (model.ChangeEvent, error) {
	event := model.ChangeEvent{}

	typ, _ := msg.Values["type"].(string)
	path, _ := msg.Values["path"].(string)
	if typ == "" || path == "" {
		return event, errors.New("missing type or path")
	}
	event.Type = model.EventType(typ)
	event.Path = path
	event.CollectionPath, _ = msg.Values["collectionPath"].(string)

	if ts, ok := msg.Values["timestamp"].(string); ok {
		if nanos, err := strconv.ParseInt(ts, 10, 64); err == nil {
			event.Timestamp = time.Unix(0, nanos).UTC()
		}
	}

	if raw, ok := msg.Values["data"].(string); ok && raw != "" && raw != "null" {
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return event, fmt.Errorf("invalid data: %w", err)
		}
		event.Data = data
	}
	return event, nil
}
