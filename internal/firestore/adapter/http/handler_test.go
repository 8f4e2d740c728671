package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"rxfirestore/internal/firestore/adapter/persistence"
	"rxfirestore/internal/firestore/adapter/persistence/memory"
	"rxfirestore/internal/firestore/config"
	"rxfirestore/internal/firestore/domain/model"
	"rxfirestore/internal/firestore/usecase"
	apperrors "rxfirestore/internal/shared/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUsecase(t *testing.T) *usecase.FirestoreUsecase {
	t.Helper()
	store, err := memory.NewStore(nil, nil)
	require.NoError(t, err)
	backend := persistence.NewAsyncBackend(store, 8, nil)
	t.Cleanup(func() { _ = backend.Close(context.Background()) })
	return usecase.NewFirestoreUsecase(backend, nil)
}

func newTestApp(t *testing.T, tokens *TokenService) (*fiber.App, *usecase.FirestoreUsecase) {
	t.Helper()
	uc := newTestUsecase(t)
	return NewApp(Options{Firestore: uc, Config: config.DefaultConfig(), Tokens: tokens}), uc
}

func doRequest(t *testing.T, app *fiber.App, method, target, body string) (int, []byte) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decodeError(t *testing.T, raw []byte) model.ErrorPayload {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp.Error
}

func TestDocumentRoutes_Lifecycle(t *testing.T) {
	app, _ := newTestApp(t, nil)

	status, _ := doRequest(t, app, fiber.MethodPut, "/v1/documents/users/alice", `{"name": "Alice", "age": 30}`)
	require.Equal(t, fiber.StatusNoContent, status)

	status, raw := doRequest(t, app, fiber.MethodGet, "/v1/documents/users/alice", "")
	require.Equal(t, fiber.StatusOK, status)
	var snap model.DocumentSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.True(t, snap.Exists())
	assert.Equal(t, "users/alice", snap.Ref().Path)
	assert.Equal(t, map[string]any{"name": "Alice", "age": int64(30)}, snap.Data())

	status, _ = doRequest(t, app, fiber.MethodPatch, "/v1/documents/users/alice", `{"age": 31, "address.city": "Lima"}`)
	require.Equal(t, fiber.StatusNoContent, status)

	status, _ = doRequest(t, app, fiber.MethodPut, "/v1/documents/users/alice?merge=true", `{"email": "alice@example.com"}`)
	require.Equal(t, fiber.StatusNoContent, status)

	_, raw = doRequest(t, app, fiber.MethodGet, "/v1/documents/users/alice", "")
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, map[string]any{
		"name":    "Alice",
		"age":     int64(31),
		"email":   "alice@example.com",
		"address": map[string]any{"city": "Lima"},
	}, snap.Data())

	status, _ = doRequest(t, app, fiber.MethodDelete, "/v1/documents/users/alice", "")
	require.Equal(t, fiber.StatusNoContent, status)
	status, _ = doRequest(t, app, fiber.MethodDelete, "/v1/documents/users/alice", "")
	require.Equal(t, fiber.StatusNoContent, status)

	_, raw = doRequest(t, app, fiber.MethodGet, "/v1/documents/users/alice", "")
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.False(t, snap.Exists())
}

func TestDocumentRoutes_Errors(t *testing.T) {
	app, _ := newTestApp(t, nil)

	status, raw := doRequest(t, app, fiber.MethodPatch, "/v1/documents/users/ghost", `{"age": 1}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, string(apperrors.ErrorTypeNotFound), decodeError(t, raw).Type)

	status, raw = doRequest(t, app, fiber.MethodGet, "/v1/documents/users", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, string(apperrors.ErrorTypeValidation), decodeError(t, raw).Type)

	status, _ = doRequest(t, app, fiber.MethodPut, "/v1/documents/users/alice", `[1, 2]`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCollectionRoutes(t *testing.T) {
	app, uc := newTestApp(t, nil)
	ctx := context.Background()

	status, raw := doRequest(t, app, fiber.MethodPost, "/v1/collections/users", `{"name": "Bob"}`)
	require.Equal(t, fiber.StatusCreated, status)
	var ref model.DocumentRef
	require.NoError(t, json.Unmarshal(raw, &ref))
	assert.Equal(t, "users", ref.Parent().Path)

	snap, err := uc.Doc(ref).Get().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bob", snap.Data()["name"])

	_, err = uc.Doc(model.Doc("users/carol")).Set(map[string]any{"name": "Carol"}).Await(ctx)
	require.NoError(t, err)

	status, raw = doRequest(t, app, fiber.MethodGet, "/v1/collections/users?limit=1", "")
	require.Equal(t, fiber.StatusOK, status)
	var qs model.QuerySnapshot
	require.NoError(t, json.Unmarshal(raw, &qs))
	assert.Equal(t, 1, qs.Size())

	status, raw = doRequest(t, app, fiber.MethodDelete, "/v1/collections/users?batchLimit=501", "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeBatchSizeExceeded, decodeError(t, raw).Code)

	var deleted []int
	for {
		status, raw = doRequest(t, app, fiber.MethodDelete, "/v1/collections/users?batchLimit=1", "")
		require.Equal(t, fiber.StatusOK, status)
		var body struct {
			Deleted int `json:"deleted"`
		}
		require.NoError(t, json.Unmarshal(raw, &body))
		deleted = append(deleted, body.Deleted)
		if body.Deleted == 0 {
			break
		}
	}
	assert.Equal(t, []int{1, 1, 0}, deleted)
}

func TestRunQuery(t *testing.T) {
	app, uc := newTestApp(t, nil)
	ctx := context.Background()
	for id, age := range map[string]int{"ann": 15, "ben": 21, "cid": 34} {
		_, err := uc.Doc(model.Doc("users/" + id)).Set(map[string]any{"age": age}).Await(ctx)
		require.NoError(t, err)
	}

	status, raw := doRequest(t, app, fiber.MethodPost, "/v1/query", `{
		"collection": {"path": "users"},
		"filters": [{"field": "age", "op": ">=", "value": 18}],
		"orders": [{"field": "age", "direction": "desc"}]
	}`)
	require.Equal(t, fiber.StatusOK, status)
	var qs model.QuerySnapshot
	require.NoError(t, json.Unmarshal(raw, &qs))
	assert.Equal(t, []model.DocumentRef{model.Doc("users/cid"), model.Doc("users/ben")}, qs.Refs())

	status, _ = doRequest(t, app, fiber.MethodPost, "/v1/query", `{"collection": {"path": "users"}, "filters": [{"field": "age", "op": "~", "value": 1}]}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestCommitBatch(t *testing.T) {
	app, uc := newTestApp(t, nil)
	ctx := context.Background()

	status, _ := doRequest(t, app, fiber.MethodPost, "/v1/batch", `[
		{"type": "set", "ref": {"path": "users/a"}, "data": {"n": 1}},
		{"type": "set", "ref": {"path": "users/b"}, "data": {"n": 2}},
		{"type": "update", "ref": {"path": "users/a"}, "data": {"n": 3}}
	]`)
	require.Equal(t, fiber.StatusNoContent, status)

	snap, err := uc.Doc(model.Doc("users/a")).Get().Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Data()["n"])

	status, _ = doRequest(t, app, fiber.MethodPost, "/v1/batch", `[{"type": "upsert", "ref": {"path": "users/a"}}]`)
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, raw := doRequest(t, app, fiber.MethodPost, "/v1/batch", `[{"type": "update", "ref": {"path": "users/ghost"}, "data": {"n": 1}}]`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, string(apperrors.ErrorTypeNotFound), decodeError(t, raw).Type)
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, nil)
	status, raw := doRequest(t, app, fiber.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, string(raw), "HEALTHY")

	app = NewApp(Options{
		Firestore:   newTestUsecase(t),
		HealthCheck: func(context.Context) error { return errors.New("redis down") },
	})
	status, raw = doRequest(t, app, fiber.MethodGet, "/health", "")
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Contains(t, string(raw), "UNHEALTHY")
	assert.Contains(t, string(raw), "redis down")
}

func TestNewErrorPayload(t *testing.T) {
	payload := NewErrorPayload(apperrors.NewBatchSizeExceededError(600))
	assert.Equal(t, model.ErrorPayload{
		Type:    string(apperrors.ErrorTypeValidation),
		Code:    apperrors.CodeBatchSizeExceeded,
		Message: "batch size should be less than 500",
		Status:  fiber.StatusBadRequest,
	}, payload)

	payload = NewErrorPayload(fiber.ErrUpgradeRequired)
	assert.Equal(t, fiber.StatusUpgradeRequired, payload.Status)

	payload = NewErrorPayload(io.ErrUnexpectedEOF)
	assert.Equal(t, fiber.StatusInternalServerError, payload.Status)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), payload.Message)
}
