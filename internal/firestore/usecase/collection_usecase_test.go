package usecase_test

import (
	"context"
	"errors"
	"testing"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"
	apperrors "rxfirestore/internal/shared/errors"
	"rxfirestore/internal/shared/reactive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var users = model.Collection("users")

func TestCollectionUsecase_DeleteAllRejectsOversizedBatch(t *testing.T) {
	backend := &MockBackend{}
	uc := usecase.NewFirestoreUsecase(backend, nil)

	_, err := uc.Collection(users).DeleteAll(501).Await(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsBatchSizeExceeded(err))
	assert.Equal(t, "batch size should be less than 500", err.Error())
	assert.Empty(t, backend.Calls, "no backend call may be issued")
}

func TestCollectionUsecase_DeleteAllAcceptsTheCap(t *testing.T) {
	backend := newCollectionBackend("users", 600)
	uc := usecase.NewFirestoreUsecase(backend, nil)

	deleted, err := uc.Collection(users).DeleteAllCount(apperrors.MaxBatchSize).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500, deleted)
	assert.Equal(t, 100, backend.size())
}

func TestCollectionUsecase_DeleteAllRejectsNonPositiveLimit(t *testing.T) {
	backend := &MockBackend{}
	uc := usecase.NewFirestoreUsecase(backend, nil)

	_, err := uc.Collection(users).DeleteAll(0).Await(context.Background())
	assert.True(t, apperrors.IsValidation(err))
	assert.Empty(t, backend.Calls)
}

func TestCollectionUsecase_DeleteAllEmptyCollectionSkipsCommit(t *testing.T) {
	backend := &MockBackend{}
	backend.On("GetDocuments", mock.Anything, users.Query().LimitTo(usecase.DefaultDeleteBatchLimit), mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(reactive.Completion[model.QuerySnapshot])(&model.QuerySnapshot{}, nil)
	}).Once()

	_, err := usecase.NewFirestoreUsecase(backend, nil).Collection(users).DeleteAll(usecase.DefaultDeleteBatchLimit).Await(context.Background())
	require.NoError(t, err)

	backend.AssertExpectations(t)
	backend.AssertNotCalled(t, "Batch")
}

func TestCollectionUsecase_DeleteAllPagesAcrossCalls(t *testing.T) {
	backend := newCollectionBackend("users", 250)
	collection := usecase.NewFirestoreUsecase(backend, nil).Collection(users)

	for i, want := range []int{100, 100, 50} {
		deleted, err := collection.DeleteAllCount(100).Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, deleted)
		assert.Equal(t, i+1, backend.reads, "one read per call")
		assert.Equal(t, i+1, backend.commits, "one commit per call")
	}
	assert.Equal(t, 0, backend.size())

	_, err := collection.DeleteAll(100).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, backend.reads)
	assert.Equal(t, 3, backend.commits, "an empty read commits nothing")
}

func TestCollectionUsecase_DeleteAllReadFailure(t *testing.T) {
	readErr := errors.New("unavailable")
	backend := newCollectionBackend("users", 10)
	backend.failRead = readErr

	_, err := usecase.NewFirestoreUsecase(backend, nil).Collection(users).DeleteAll(100).Await(context.Background())
	assert.Same(t, readErr, err)
	assert.Equal(t, 0, backend.commits)
	assert.Equal(t, 10, backend.size())
}

func TestCollectionUsecase_DeleteAllCommitFailure(t *testing.T) {
	commitErr := errors.New("aborted")
	snap := &model.QuerySnapshot{Documents: []*model.DocumentSnapshot{
		model.MissingDocumentSnapshot(users.Doc("a")),
		model.MissingDocumentSnapshot(users.Doc("b")),
	}}

	batch := &MockWriteBatch{}
	batch.On("Delete", users.Doc("a")).Once()
	batch.On("Delete", users.Doc("b")).Once()
	batch.On("Len").Return(2)
	batch.On("Commit", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(reactive.ErrCompletion)(commitErr)
	}).Once()

	backend := &MockBackend{}
	backend.On("GetDocuments", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(reactive.Completion[model.QuerySnapshot])(snap, nil)
	}).Once()
	backend.On("Batch").Return(batch).Once()

	_, err := usecase.NewFirestoreUsecase(backend, nil).Collection(users).DeleteAll(2).Await(context.Background())
	assert.Same(t, commitErr, err)

	backend.AssertExpectations(t)
	batch.AssertExpectations(t)
}

func TestCollectionUsecase_Add(t *testing.T) {
	created := users.Doc("generated-id")
	fields := map[string]any{"name": "Bob"}

	backend := &MockBackend{}
	backend.On("AddDocument", mock.Anything, users, fields, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(3).(reactive.Completion[model.DocumentRef])(&created, nil)
	}).Once()

	ref, err := usecase.NewFirestoreUsecase(backend, nil).Collection(users).Add(fields).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, created, ref)
}

func TestCollectionUsecase_AddFailure(t *testing.T) {
	writeErr := errors.New("quota exceeded")
	backend := &MockBackend{}
	backend.On("AddDocument", mock.Anything, users, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(3).(reactive.Completion[model.DocumentRef])(nil, writeErr)
	})

	var refs []model.DocumentRef
	var gotErr error
	usecase.NewFirestoreUsecase(backend, nil).Collection(users).Add(map[string]any{}).Subscribe(context.Background(),
		func(ref model.DocumentRef) { refs = append(refs, ref) },
		func(err error) { gotErr = err },
	)

	assert.Empty(t, refs)
	assert.Same(t, writeErr, gotErr)
}

func TestCollectionUsecase_GetAllReadsUnfilteredCollection(t *testing.T) {
	snap := &model.QuerySnapshot{Documents: []*model.DocumentSnapshot{model.MissingDocumentSnapshot(users.Doc("a"))}}
	backend := &MockBackend{}
	backend.On("GetDocuments", mock.Anything, users.Query(), mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(reactive.Completion[model.QuerySnapshot])(snap, nil)
	})

	got, err := usecase.NewFirestoreUsecase(backend, nil).Collection(users).GetAll().Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Size())
}

func TestCollectionUsecase_QueryShortcuts(t *testing.T) {
	uc := usecase.NewFirestoreUsecase(&MockBackend{}, nil)
	collection := uc.Collection(users)

	q := collection.Where("age", model.OperatorGreaterThan, 18).OrderBy("age", model.Descending).Limit(5).Query()
	assert.Equal(t, users, q.Collection)
	assert.Len(t, q.Filters, 1)
	assert.Equal(t, []model.Order{{Field: "age", Direction: model.Descending}}, q.Orders)
	assert.Equal(t, 5, q.Limit)

	assert.Equal(t, users.Doc("a"), collection.Doc("a").Ref())
	assert.Equal(t, users, collection.Ref())
}
