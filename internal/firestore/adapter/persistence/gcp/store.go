// Package gcp implements the blocking document store contract on Google
// Cloud Firestore through the official SDK. Listens use the SDK's snapshot
// iterators rather than a change feed.
package gcp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/firestore"
	"rxfirestore/internal/shared/logger"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const component = "gcp_store"

// Store is a DocumentStore over a Cloud Firestore database.
type Store struct {
	client *fs.Client
	logger logger.Logger

	// root bounds every listen; Close cancels it and waits for the
	// iterator goroutines.
	root      context.Context
	cancelAll context.CancelFunc
	listens   sync.WaitGroup
	closed    atomic.Bool
}

var _ repository.DocumentStore = (*Store)(nil)

// Connect opens a client for cfg. FIRESTORE_EMULATOR_HOST, when set, is
// honoured by the SDK.
func Connect(ctx context.Context, cfg config.GCPConfig, log logger.Logger) (*Store, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	databaseID := cfg.DatabaseID
	if databaseID == "" {
		databaseID = fs.DefaultDatabaseID
	}
	client, err := fs.NewClientWithDatabase(ctx, cfg.ProjectID, databaseID, opts...)
	if err != nil {
		return nil, translateError("connect", err)
	}
	s := NewStore(client, log)
	s.logger.Infof("Connected to Firestore project %s, database %s", cfg.ProjectID, databaseID)
	return s, nil
}

// NewStore wraps an existing client. Close closes it.
func NewStore(client *fs.Client, log logger.Logger) *Store {
	if log == nil {
		log = logger.NewNopLogger()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Store{
		client:    client,
		logger:    log.WithComponent(component),
		root:      root,
		cancelAll: cancel,
	}
}

func errClosed() error {
	return apperrors.NewBackendError("firestore store is closed").WithComponent(component)
}

func (s *Store) doc(ref model.DocumentRef) *fs.DocumentRef {
	return s.client.Doc(ref.Path)
}

// Get returns the current snapshot of ref. A missing document is not an
// error.
func (s *Store) Get(ctx context.Context, ref model.DocumentRef) (*model.DocumentSnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	snap, err := s.doc(ref).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.MissingDocumentSnapshot(ref), nil
	}
	if err != nil {
		return nil, translateError("get "+ref.Path, err)
	}
	return fromSnapshot(ref, snap), nil
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

// Add lets the SDK generate the document id.
func (s *Store) Add(ctx context.Context, col model.CollectionRef, fields map[string]any) (model.DocumentRef, error) {
	if s.closed.Load() {
		return model.DocumentRef{}, errClosed()
	}
	if err := col.Validate(); err != nil {
		return model.DocumentRef{}, err
	}
	data := model.CopyFields(fields)
	if data == nil {
		data = map[string]any{}
	}
	docRef, _, err := s.client.Collection(col.Path).Add(ctx, data)
	if err != nil {
		return model.DocumentRef{}, translateError("add to "+col.Path, err)
	}
	return col.Doc(docRef.ID), nil
}

// Commit applies ops in one Firestore transaction.
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
	writes := make([]write, 0, len(ops))
	for _, op := range ops {
		w, err := s.prepare(op)
		if err != nil {
			return err
		}
		writes = append(writes, w)
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		for _, w := range writes {
			if err := w(tx); err != nil {
				return err
			}
		}
		return nil
	})
	return translateError("commit", err)
}

// write applies one prepared operation to an SDK transaction.
type write func(tx *fs.Transaction) error

// prepare validates op and converts it into SDK calls.
func (s *Store) prepare(op model.WriteOperation) (write, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	docRef := s.doc(op.Ref)

	switch op.Type {
	case model.WriteTypeDelete:
		return func(tx *fs.Transaction) error { return tx.Delete(docRef) }, nil

	case model.WriteTypeUpdate:
		updates, err := toUpdates(op.Data)
		if err != nil {
			return nil, err
		}
		return func(tx *fs.Transaction) error { return tx.Update(docRef, updates) }, nil

	default:
		data, setOpts, err := toSet(op.Data, op.Options)
		if err != nil {
			return nil, err
		}
		return func(tx *fs.Transaction) error { return tx.Set(docRef, data, setOpts...) }, nil
	}
}

// toSet converts set options. Listed merge fields missing from fields are
// written as deletes.
func toSet(fields map[string]any, opts *model.SetOptions) (map[string]any, []fs.SetOption, error) {
	data := model.CopyFields(fields)
	if data == nil {
		data = map[string]any{}
	}
	switch {
	case !opts.IsMerge():
		return data, nil, nil
	case len(opts.MergeFields) == 0:
		return data, []fs.SetOption{fs.MergeAll}, nil
	}

	listed := make(map[string]any, len(opts.MergeFields))
	for _, raw := range opts.MergeFields {
		listed[raw] = nil
	}
	paths, err := model.UpdatePaths(listed)
	if err != nil {
		return nil, nil, err
	}
	merge := make([]fs.FieldPath, 0, len(paths))
	for _, fp := range paths {
		if _, ok := fp.Lookup(data); !ok {
			fp.Assign(data, fs.Delete)
		}
		merge = append(merge, fs.FieldPath(fp.Segments()))
	}
	return data, []fs.SetOption{fs.Merge(merge...)}, nil
}

func toUpdates(fields map[string]any) ([]fs.Update, error) {
	paths, err := model.UpdatePaths(fields)
	if err != nil {
		return nil, err
	}
	updates := make([]fs.Update, 0, len(paths))
	for _, fp := range paths {
		updates = append(updates, fs.Update{FieldPath: fs.FieldPath(fp.Segments()), Value: fields[fp.Raw()]})
	}
	return updates, nil
}

// toQuery builds the SDK query. Operator names are shared with the SDK.
func (s *Store) toQuery(q model.Query) fs.Query {
	query := s.client.Collection(q.Collection.Path).Query
	for _, f := range q.Filters {
		query = query.Where(f.Field, f.Operator, f.Value)
	}
	for _, o := range q.Orders {
		dir := fs.Asc
		if o.Direction == model.Descending {
			dir = fs.Desc
		}
		query = query.OrderBy(o.Field, dir)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}
	return query
}

// Query reads every document matched by q.
func (s *Store) Query(ctx context.Context, q model.Query) (*model.QuerySnapshot, error) {
	if s.closed.Load() {
		return nil, errClosed()
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	docs, err := s.toQuery(q).Documents(ctx).GetAll()
	if err != nil {
		return nil, translateError("query "+q.Collection.Path, err)
	}
	return fromDocuments(q, docs, time.Now().UTC()), nil
}

// Close stops every listen and closes the client.
func (s *Store) Close(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancelAll()
	s.listens.Wait()
	if err := s.client.Close(); err != nil {
		return translateError("close", err)
	}
	return nil
}

func fromSnapshot(ref model.DocumentRef, snap *fs.DocumentSnapshot) *model.DocumentSnapshot {
	if snap == nil || !snap.Exists() {
		return model.MissingDocumentSnapshot(ref)
	}
	data, _ := fromValue(snap.Data()).(map[string]any)
	return model.NewDocumentSnapshot(ref, data, snap.CreateTime.UTC(), snap.UpdateTime.UTC())
}

func fromDocuments(q model.Query, docs []*fs.DocumentSnapshot, readTime time.Time) *model.QuerySnapshot {
	out := &model.QuerySnapshot{
		Query:     q,
		Documents: make([]*model.DocumentSnapshot, 0, len(docs)),
		ReadTime:  readTime,
	}
	for _, doc := range docs {
		out.Documents = append(out.Documents, fromSnapshot(q.Collection.Doc(doc.Ref.ID), doc))
	}
	return out
}

// fromValue turns SDK values into plain document values. References become
// their relative document path.
func fromValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = fromValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = fromValue(item)
		}
		return out
	case *fs.DocumentRef:
		if info, err := firestore.ParseFirestorePath(value.Path); err == nil {
			return info.DocumentPath
		}
		return value.Path
	case time.Time:
		return value.UTC()
	default:
		return v
	}
}

// isDone reports whether an iterator ended because its listen was stopped.
func isDone(ctx context.Context, err error) bool {
	return err == iterator.Done || ctx.Err() != nil || status.Code(err) == codes.Canceled
}
