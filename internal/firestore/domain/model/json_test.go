package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFields_KeepsIntegers(t *testing.T) {
	fields, err := DecodeFields([]byte(`{"age": 30, "score": 9.5, "tags": [1, "a"], "address": {"zip": 15001}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(30), fields["age"])
	assert.Equal(t, 9.5, fields["score"])
	assert.Equal(t, []any{int64(1), "a"}, fields["tags"])
	assert.Equal(t, map[string]any{"zip": int64(15001)}, fields["address"])

	_, err = DecodeFields([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestQueryJSON_FilterValues(t *testing.T) {
	var q Query
	require.NoError(t, json.Unmarshal([]byte(`{
		"collection": {"path": "users"},
		"filters": [{"field": "age", "op": ">=", "value": 18}, {"field": "tier", "op": "in", "value": [1, 2.5]}],
		"limit": 10
	}`), &q))

	assert.Equal(t, "users", q.Collection.Path)
	assert.Equal(t, int64(18), q.Filters[0].Value)
	assert.Equal(t, []any{int64(1), 2.5}, q.Filters[1].Value)
	assert.Equal(t, 10, q.Limit)
	assert.NoError(t, q.Validate())
}

func TestWriteOperationJSON(t *testing.T) {
	var ops []WriteOperation
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type": "set", "ref": {"path": "users/alice"}, "data": {"age": 30}, "options": {"merge": true}},
		{"type": "delete", "ref": {"path": "users/bob"}}
	]`), &ops))

	require.Len(t, ops, 2)
	assert.Equal(t, SetOperation(Doc("users/alice"), map[string]any{"age": int64(30)}, &SetOptions{Merge: true}), ops[0])
	assert.Equal(t, DeleteOperation(Doc("users/bob")), ops[1])
}

func TestDocumentSnapshotJSON_KeepsIntegers(t *testing.T) {
	var snap DocumentSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"path": "users/alice", "exists": true, "data": {"age": 30}}`), &snap))
	assert.True(t, snap.Exists())
	assert.Equal(t, int64(30), snap.Data()["age"])
}
