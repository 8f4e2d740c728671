// Package mongodb implements the blocking document store contract on one
// MongoDB collection. Each document is stored under its path with its
// fields nested below "fields".
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rxfirestore/internal/firestore/adapter/realtime"
	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/logger"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const component = "mongodb_store"

// Store is a DocumentStore backed by a MongoDB collection. Committed
// changes are published on the feed, which also drives listeners.
type Store struct {
	coll   *mongo.Collection
	client *mongo.Client // set when the store owns the connection
	feed   repository.ChangeFeed
	logger logger.Logger

	clockMu   sync.Mutex
	lastWrite time.Time

	closed  atomic.Bool
	watches *realtime.WatchGroup
}

var _ repository.DocumentStore = (*Store)(nil)

// Connect dials MongoDB, ensures the collection index and returns a store
// that disconnects on Close.
func Connect(ctx context.Context, cfg config.MongoConfig, feed repository.ChangeFeed, log logger.Logger) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, backendError("connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, backendError("ping", err)
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	if err := EnsureIndexes(connectCtx, coll); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	s := NewStore(coll, feed, log)
	s.client = client
	s.logger.Infof("Connected to MongoDB database %s, collection %s", cfg.Database, cfg.Collection)
	return s, nil
}

// EnsureIndexes creates the index queries rely on.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "collectionPath", Value: 1}},
		Options: options.Index().SetName("collection_path"),
	})
	if err != nil {
		return backendError("create index", err)
	}
	return nil
}

// NewStore uses coll as is. A nil feed gets an in-process feed of its own.
func NewStore(coll *mongo.Collection, feed repository.ChangeFeed, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if feed == nil {
		feed = realtime.NewLocalFeed(nil, log)
	}
	return &Store{
		coll:    coll,
		feed:    feed,
		logger:  log.WithComponent(component),
		watches: realtime.NewWatchGroup(),
	}
}

func errClosed() error {
	return apperrors.NewBackendError("mongodb store is closed").WithComponent(component)
}

// backendError wraps a driver error. Application errors pass through.
func backendError(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewTimeoutError("mongodb " + op + " timed out").WithComponent(component)
	}
	return apperrors.NewBackendError("mongodb " + op + " failed").WithCause(err).WithComponent(component)
}

// tick returns a write time strictly after the previous one, at the
// millisecond precision MongoDB stores.
func (s *Store) tick() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	now := time.Now().UTC().Truncate(time.Millisecond)
	if !now.After(s.lastWrite) {
		now = s.lastWrite.Add(time.Millisecond)
	}
	s.lastWrite = now
	return now
}

// Get returns the current snapshot of ref.
func (s *Store) Get(ctx context.Context, ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.get(ctx, ref)
}

func (s *Store) get(ctx context.Context, ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	var doc storedDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: ref.Path}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.MissingDocumentSnapshot(ref), nil
	}
	if err != nil {
		return nil, backendError("get "+ref.Path, err)
	}
	return doc.snapshot(), nil
}

func (s *Store) Set(ctx context.Context, ref model.DocumentRef, fields map[string]any, opts *model.SetOptions) error {
	return s.Commit(ctx, []model.WriteOperation{model.SetOperation(ref, fields, opts)})
}

func (s *Store) Update(ctx context.Context, ref model.DocumentRef, fields map[string]any) error {
	return s.Commit(ctx, []model.WriteOperation{model.UpdateOperation(ref, fields)})
}

func (s *Store) Delete(ctx context.Context, ref model.DocumentRef) error {
	return s.Commit(ctx, []model.WriteOperation{model.DeleteOperation(ref)})
}

// Add stores fields under a generated id.
func (s *Store) Add(ctx context.Context, col model.CollectionRef, fields map[string]any) (model.DocumentRef, error) {
	if err := col.Validate(); err != nil {
		return model.DocumentRef{}, err
	}
	ref := col.Doc(uuid.NewString())
	if err := s.Set(ctx, ref, fields, nil); err != nil {
		return model.DocumentRef{}, err
	}
	return ref, nil
}

// Commit applies ops. More than one write runs inside a MongoDB
// transaction, which needs a replica set.
func (s *Store) Commit(ctx context.Context, ops []model.WriteOperation) error {
	if s.closed.Load() {
		return errClosed()
	}
	if len(ops) > apperrors.MaxBatchSize {
		return apperrors.NewBatchSizeExceededError(len(ops))
	}
	if len(ops) == 0 {
		return nil
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return err
		}
	}

	now := s.tick()
	if len(ops) == 1 {
		event, err := s.apply(ctx, ops[0], now)
		if err != nil {
			return err
		}
		s.publish(ctx, event)
		return nil
	}

	var events []*model.ChangeEvent
	_, err := s.withTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		events = events[:0]
		for _, op := range ops {
			event, err := s.apply(sc, op, now)
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, events...)
	return nil
}

func (s *Store) withTransaction(ctx context.Context, fn func(sc mongo.SessionContext) (any, error)) (any, error) {
	session, err := s.coll.Database().Client().StartSession()
	if err != nil {
		return nil, backendError("start session", err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, fn)
	if err != nil {
		return nil, backendError("transaction", err)
	}
	return result, nil
}

// apply performs one write and returns the change event it produced, or
// nil when nothing changed.
func (s *Store) apply(ctx context.Context, op model.WriteOperation, now time.Time) (*model.ChangeEvent, error) {
	id := bson.D{{Key: "_id", Value: op.Ref.Path}}

	switch op.Type {
	case model.WriteTypeDelete:
		var prev storedDocument
		err := s.coll.FindOneAndDelete(ctx, id).Decode(&prev)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, backendError("delete "+op.Ref.Path, err)
		}
		event := model.NewChangeEvent(model.EventTypeDeleted, op.Ref, nil)
		return &event, nil

	case model.WriteTypeUpdate:
		update, err := updateDocument(op.Data, now)
		if err != nil {
			return nil, err
		}
		var doc storedDocument
		err = s.coll.FindOneAndUpdate(ctx, id, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NewNotFoundError("document " + op.Ref.Path).WithComponent(component)
		}
		if err != nil {
			return nil, backendError("update "+op.Ref.Path, err)
		}
		event := model.NewChangeEvent(model.EventTypeUpdated, op.Ref, doc.data())
		return &event, nil

	default:
		update, err := setDocument(op.Ref, op.Data, op.Options, now)
		if err != nil {
			return nil, err
		}
		var doc storedDocument
		err = s.coll.FindOneAndUpdate(ctx, id, update,
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&doc)
		if err != nil {
			return nil, backendError("set "+op.Ref.Path, err)
		}
		eventType := model.EventTypeUpdated
		if doc.CreateTime.Equal(now) {
			eventType = model.EventTypeCreated
		}
		event := model.NewChangeEvent(eventType, op.Ref, doc.data())
		return &event, nil
	}
}

// setDocument builds the upsert for a set. Without merge the fields
// subdocument is replaced; a merge sets leaf paths and MergeFields unsets
// listed paths missing from fields.
func setDocument(ref model.DocumentRef, fields map[string]any, opts *model.SetOptions, now time.Time) (bson.M, error) {
	set := bson.M{
		"collectionPath": ref.Parent().Path,
		"updateTime":     now,
	}
	update := bson.M{
		"$setOnInsert": bson.M{"createTime": now},
	}

	switch {
	case !opts.IsMerge():
		data := model.CopyFields(fields)
		if data == nil {
			data = map[string]any{}
		}
		set[fieldsKey] = data

	case len(opts.MergeFields) == 0:
		flatten(fieldsKey, fields, set)

	default:
		listed := make(map[string]any, len(opts.MergeFields))
		for _, raw := range opts.MergeFields {
			listed[raw] = nil
		}
		paths, err := model.UpdatePaths(listed)
		if err != nil {
			return nil, err
		}
		unset := bson.M{}
		for _, fp := range paths {
			if value, ok := fp.Lookup(fields); ok {
				set[fieldKey(fp.Raw())] = value
			} else {
				unset[fieldKey(fp.Raw())] = ""
			}
		}
		if len(unset) > 0 {
			update["$unset"] = unset
		}
	}

	update["$set"] = set
	return update, nil
}

// updateDocument builds the update for dotted field paths.
func updateDocument(fields map[string]any, now time.Time) (bson.M, error) {
	paths, err := model.UpdatePaths(fields)
	if err != nil {
		return nil, err
	}
	set := bson.M{"updateTime": now}
	for _, fp := range paths {
		set[fieldKey(fp.Raw())] = fields[fp.Raw()]
	}
	return bson.M{"$set": set}, nil
}

func (s *Store) publish(ctx context.Context, events ...*model.ChangeEvent) {
	for _, event := range events {
		if event == nil {
			continue
		}
		if err := s.feed.Publish(ctx, *event); err != nil {
			s.logger.Warnf("Failed to publish %s event for %s: %v", event.Type, event.Path, err)
		}
	}
}

// Query runs q as a find over the collection.
func (s *Store) Query(ctx context.Context, q model.Query) (*model.QuerySnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	filter, err := buildMongoFilter(q)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error()).WithCause(apperrors.ErrInvalidQuery)
	}

	cursor, err := s.coll.Find(ctx, filter, buildMongoFindOptions(q))
	if err != nil {
		return nil, backendError("query "+q.Collection.Path, err)
	}
	var docs []storedDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, backendError("query "+q.Collection.Path, err)
	}

	snap := &model.QuerySnapshot{
		Query:     q,
		Documents: make([]*model.DocumentSnapshot, 0, len(docs)),
		ReadTime:  time.Now().UTC(),
	}
	for i := range docs {
		snap.Documents = append(snap.Documents, docs[i].snapshot())
	}
	s.logger.Debugf("Query on %s returned %d documents", q.Collection.Path, len(docs))
	return snap, nil
}

// Ping checks that the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return errClosed()
	}
	if err := s.coll.Database().Client().Ping(ctx, nil); err != nil {
		return backendError("ping", err)
	}
	return nil
}

// Close stops every listener and disconnects an owned client.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.watches.RemoveAll()
	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to disconnect from MongoDB: %w", err)
		}
	}
	return nil
}
