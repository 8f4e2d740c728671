package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"
	"rxfirestore/internal/shared/reactive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var alice = model.Doc("users/alice")

func completeGet(snap *model.DocumentSnapshot, err error) func(mock.Arguments) {
	return func(args mock.Arguments) {
		complete := args.Get(2).(reactive.Completion[model.DocumentSnapshot])
		complete(snap, err)
	}
}

func TestDocumentUsecase_Get(t *testing.T) {
	existing := model.NewDocumentSnapshot(alice, map[string]any{"name": "Alice"}, time.Now(), time.Now())
	backendErr := errors.New("permission denied")

	testCases := []struct {
		name      string
		snap      *model.DocumentSnapshot
		err       error
		wantValue bool
	}{
		{name: "value only", snap: existing, wantValue: true},
		{name: "error only", err: backendErr},
		{name: "value wins over error", snap: existing, err: backendErr, wantValue: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := &MockBackend{}
			backend.On("GetDocument", mock.Anything, alice, mock.Anything).Run(completeGet(tc.snap, tc.err)).Once()

			uc := usecase.NewFirestoreUsecase(backend, nil)
			var successes, failures int
			var got model.DocumentSnapshot
			var gotErr error
			uc.Doc(alice).Get().Subscribe(context.Background(),
				func(s model.DocumentSnapshot) { successes++; got = s },
				func(err error) { failures++; gotErr = err },
			)

			if tc.wantValue {
				assert.Equal(t, 1, successes)
				assert.Equal(t, 0, failures)
				assert.Equal(t, "Alice", got.Data()["name"])
			} else {
				assert.Equal(t, 0, successes)
				assert.Equal(t, 1, failures)
				assert.Same(t, backendErr, gotErr, "backend errors pass through unwrapped")
			}
			backend.AssertExpectations(t)
		})
	}
}

func TestDocumentUsecase_GetMissingDocumentIsNotAnError(t *testing.T) {
	backend := &MockBackend{}
	backend.On("GetDocument", mock.Anything, alice, mock.Anything).Run(completeGet(model.MissingDocumentSnapshot(alice), nil))

	snap, err := usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Get().Await(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}

func TestDocumentUsecase_RepeatedCompletionsDeliverOnce(t *testing.T) {
	backend := &MockBackend{}
	backend.On("GetDocument", mock.Anything, alice, mock.Anything).Run(func(args mock.Arguments) {
		complete := args.Get(2).(reactive.Completion[model.DocumentSnapshot])
		complete(model.MissingDocumentSnapshot(alice), nil)
		complete(nil, errors.New("late error"))
		complete(model.MissingDocumentSnapshot(alice), nil)
	})

	var events int
	usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Get().Subscribe(context.Background(),
		func(model.DocumentSnapshot) { events++ },
		func(error) { events++ },
	)
	assert.Equal(t, 1, events)
}

func TestDocumentUsecase_IsCold(t *testing.T) {
	backend := &MockBackend{}
	backend.On("DeleteDocument", mock.Anything, alice, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(reactive.ErrCompletion)(nil)
	})

	deletion := usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Delete()
	backend.AssertNotCalled(t, "DeleteDocument", mock.Anything, mock.Anything, mock.Anything)

	_, err := deletion.Await(context.Background())
	require.NoError(t, err)
	backend.AssertNumberOfCalls(t, "DeleteDocument", 1)
}

func TestDocumentUsecase_SetPassesOptionsThrough(t *testing.T) {
	fields := map[string]any{"name": "Alice"}
	backend := &MockBackend{}
	backend.On("SetDocument", mock.Anything, alice, fields, (*model.SetOptions)(nil), mock.Anything).Run(func(args mock.Arguments) {
		args.Get(4).(reactive.ErrCompletion)(nil)
	}).Once()
	backend.On("SetDocument", mock.Anything, alice, fields, &model.SetOptions{Merge: true}, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(4).(reactive.ErrCompletion)(nil)
	}).Once()

	doc := usecase.NewFirestoreUsecase(backend, nil).Doc(alice)
	_, err := doc.Set(fields).Await(context.Background())
	require.NoError(t, err)
	_, err = doc.SetWithOptions(fields, model.SetOptions{Merge: true}).Await(context.Background())
	require.NoError(t, err)

	backend.AssertExpectations(t)
}

func TestDocumentUsecase_SetCopiesFields(t *testing.T) {
	var written map[string]any
	backend := &MockBackend{}
	backend.On("SetDocument", mock.Anything, alice, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		written = args.Get(2).(map[string]any)
		args.Get(4).(reactive.ErrCompletion)(nil)
	})

	fields := map[string]any{"name": "Alice"}
	write := usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Set(fields)
	fields["name"] = "Mallory"

	_, err := write.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice", written["name"])
}

func TestDocumentUsecase_UpdateSurfacesBackendError(t *testing.T) {
	notFound := errors.New("no document to update")
	backend := &MockBackend{}
	backend.On("UpdateDocument", mock.Anything, alice, map[string]any{"age": 31}, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(3).(reactive.ErrCompletion)(notFound)
	})

	_, err := usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Update(map[string]any{"age": 31}).Await(context.Background())
	assert.Same(t, notFound, err)
}

func TestDocumentUsecase_DeleteTwiceSucceeds(t *testing.T) {
	backend := &MockBackend{}
	backend.On("DeleteDocument", mock.Anything, alice, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(2).(reactive.ErrCompletion)(nil)
	}).Twice()

	doc := usecase.NewFirestoreUsecase(backend, nil).Doc(alice)
	_, err := doc.Delete().Await(context.Background())
	require.NoError(t, err)
	_, err = doc.Delete().Await(context.Background())
	require.NoError(t, err)

	backend.AssertExpectations(t)
}

func TestDocumentUsecase_ListenReleasesOnDispose(t *testing.T) {
	reg := &countingRegistration{}
	var notify reactive.Notify[model.DocumentSnapshot]
	opts := &model.ListenOptions{IncludeMetadataChanges: true}

	backend := &MockBackend{}
	backend.On("ListenDocument", mock.Anything, alice, opts, mock.Anything).Run(func(args mock.Arguments) {
		notify = args.Get(3).(reactive.Notify[model.DocumentSnapshot])
	}).Return(reg)

	var versions []any
	d := usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Listen(opts).Subscribe(context.Background(),
		func(s model.DocumentSnapshot) { versions = append(versions, s.Data()["v"]) }, nil)

	for i := 1; i <= 3; i++ {
		notify(model.NewDocumentSnapshot(alice, map[string]any{"v": i}, time.Time{}, time.Time{}), nil)
	}
	d.Dispose()
	d.Dispose()
	notify(model.NewDocumentSnapshot(alice, map[string]any{"v": 4}, time.Time{}, time.Time{}), nil)

	assert.Equal(t, []any{1, 2, 3}, versions)
	assert.Equal(t, int32(1), reg.removals.Load())
}

func TestDocumentUsecase_ListenTerminatesOnError(t *testing.T) {
	reg := &countingRegistration{}
	var notify reactive.Notify[model.DocumentSnapshot]

	backend := &MockBackend{}
	backend.On("ListenDocument", mock.Anything, alice, (*model.ListenOptions)(nil), mock.Anything).Run(func(args mock.Arguments) {
		notify = args.Get(3).(reactive.Notify[model.DocumentSnapshot])
	}).Return(reg)

	var events []string
	usecase.NewFirestoreUsecase(backend, nil).Doc(alice).Listen(nil).Subscribe(context.Background(),
		func(model.DocumentSnapshot) { events = append(events, "value") },
		func(err error) { events = append(events, "error:"+err.Error()) },
	)

	notify(model.MissingDocumentSnapshot(alice), nil)
	notify(nil, errors.New("revoked"))
	notify(model.MissingDocumentSnapshot(alice), nil)
	notify(nil, errors.New("again"))

	assert.Equal(t, []string{"value", "error:revoked"}, events)
	assert.Equal(t, int32(1), reg.removals.Load())
}
