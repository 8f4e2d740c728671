package gcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/domain/repository"
	apperrors "rxfirestore/internal/shared/errors"

	fs "cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		code  codes.Code
		check func(error) bool
	}{
		{codes.NotFound, apperrors.IsNotFound},
		{codes.InvalidArgument, apperrors.IsValidation},
		{codes.FailedPrecondition, apperrors.IsValidation},
		{codes.PermissionDenied, apperrors.IsAuthentication},
		{codes.Unauthenticated, apperrors.IsAuthentication},
		{codes.Aborted, apperrors.IsConflict},
		{codes.DeadlineExceeded, apperrors.IsTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := translateError("get users/alice", status.Error(tt.code, "boom"))
			assert.True(t, tt.check(err), "%v", err)
		})
	}

	err := translateError("get", status.Error(codes.Unavailable, "down"))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrorTypeBackend, appErr.Type)

	original := apperrors.NewBatchSizeExceededError(501)
	assert.Same(t, original, translateError("commit", original))
	assert.NoError(t, translateError("commit", nil))
}

func TestToSet(t *testing.T) {
	fields := map[string]any{"name": "Alice", "address": map[string]any{"city": "Lima"}}

	data, opts, err := toSet(fields, nil)
	require.NoError(t, err)
	assert.Equal(t, fields, data)
	assert.Empty(t, opts)

	_, opts, err = toSet(fields, &model.SetOptions{Merge: true})
	require.NoError(t, err)
	assert.Equal(t, []fs.SetOption{fs.MergeAll}, opts)

	data, opts, err = toSet(fields, &model.SetOptions{MergeFields: []string{"address.city", "age"}})
	require.NoError(t, err)
	assert.Len(t, opts, 1)
	assert.Equal(t, fs.Delete, data["age"])
	assert.Equal(t, "Lima", data["address"].(map[string]any)["city"])
	_, leaked := fields["age"]
	assert.False(t, leaked)

	_, _, err = toSet(fields, &model.SetOptions{MergeFields: []string{"address", "address.city"}})
	assert.True(t, apperrors.IsValidation(err))
}

func TestToUpdates(t *testing.T) {
	updates, err := toUpdates(map[string]any{"b": 2, "a.x": 1})
	require.NoError(t, err)
	assert.Equal(t, []fs.Update{
		{FieldPath: fs.FieldPath{"a", "x"}, Value: 1},
		{FieldPath: fs.FieldPath{"b"}, Value: 2},
	}, updates)

	_, err = toUpdates(nil)
	assert.True(t, apperrors.IsValidation(err))
}

func TestFromValue(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("PET", -5*3600))
	got := fromValue(map[string]any{
		"when":  ts,
		"items": []any{map[string]any{"n": int64(1)}},
	})
	assert.Equal(t, map[string]any{
		"when":  ts.UTC(),
		"items": []any{map[string]any{"n": int64(1)}},
	}, got)
}

func TestTransactionError(t *testing.T) {
	abortErr := errors.New("abort")
	assert.Same(t, abortErr, transactionError(abortErr, abortErr))

	err := transactionError(nil, status.Error(codes.Aborted, "contention"))
	assert.True(t, apperrors.IsConflict(err), "%v", err)
}

// emulatorStore connects to the Firestore emulator and skips without one.
func emulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	store, err := Connect(context.Background(), config.GCPConfig{ProjectID: "rxfirestore-test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestEmulator_DocumentLifecycle(t *testing.T) {
	store := emulatorStore(t)
	ctx := context.Background()
	ref := model.Doc(fmt.Sprintf("users/alice-%d", time.Now().UnixNano()))

	snap, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.False(t, snap.Exists())

	require.NoError(t, store.Set(ctx, ref, map[string]any{"name": "Alice", "age": 30}, nil))
	require.NoError(t, store.Update(ctx, ref, map[string]any{"age": 31}))
	snap, err = store.Get(ctx, ref)
	require.NoError(t, err)
	assert.EqualValues(t, 31, snap.Data()["age"])

	assert.True(t, apperrors.IsNotFound(store.Update(ctx, model.Doc("users/ghost-"+ref.ID()), map[string]any{"a": 1})))

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))
}

func TestEmulator_TransactionAbortErrorIsReportedAsIs(t *testing.T) {
	store := emulatorStore(t)
	ctx := context.Background()
	ref := model.Doc(fmt.Sprintf("accounts/a-%d", time.Now().UnixNano()))
	require.NoError(t, store.Set(ctx, ref, map[string]any{"balance": 10}, nil))
	abortErr := errors.New("insufficient funds")

	_, err := store.RunTransaction(ctx, func(ctx context.Context, tx repository.Transaction) (any, error) {
		if _, err := tx.Get(ref); err != nil {
			return nil, err
		}
		return nil, abortErr
	})
	assert.Same(t, abortErr, err)
}

func TestEmulator_ListenDocument(t *testing.T) {
	store := emulatorStore(t)
	ctx := context.Background()
	ref := model.Doc(fmt.Sprintf("users/bob-%d", time.Now().UnixNano()))

	var mu sync.Mutex
	var snaps []*model.DocumentSnapshot
	reg := store.ListenDocument(ctx, ref, nil, func(snap *model.DocumentSnapshot, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			snaps = append(snaps, snap)
		}
	})
	defer reg.Remove()
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(snaps)
	}

	require.Eventually(t, func() bool { return count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, store.Set(ctx, ref, map[string]any{"v": 1}, nil))
	require.Eventually(t, func() bool { return count() >= 2 }, 5*time.Second, 20*time.Millisecond)
}
