package model

import (
	"testing"

	apperrors "rxfirestore/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_BuildersCopy(t *testing.T) {
	base := Collection("users").Query().Where("age", OperatorGreaterThan, 18)
	adults := base.OrderBy("name", "").LimitTo(10)
	active := base.Where("active", OperatorEqual, true)

	assert.Len(t, base.Filters, 1)
	assert.Empty(t, base.Orders)
	assert.Equal(t, 0, base.Limit)

	assert.Equal(t, []Order{{Field: "name", Direction: Ascending}}, adults.Orders)
	assert.Equal(t, 10, adults.Limit)
	assert.Len(t, adults.Filters, 1)

	require.Len(t, active.Filters, 2)
	assert.Equal(t, "active", active.Filters[1].Field)
}

func TestQuery_Validate(t *testing.T) {
	testCases := []struct {
		name  string
		query Query
		valid bool
	}{
		{name: "Plain collection", query: Collection("users").Query(), valid: true},
		{name: "Full query", query: Collection("users").Query().Where("profile.age", OperatorGreaterThanOrEqual, 21).OrderBy("name", Descending).LimitTo(5), valid: true},
		{name: "In with list", query: Collection("users").Query().Where("role", OperatorIn, []any{"admin", "owner"}), valid: true},
		{name: "In without list", query: Collection("users").Query().Where("role", OperatorIn, "admin")},
		{name: "Unknown operator", query: Collection("users").Query().Where("age", "~=", 1)},
		{name: "Bad field", query: Collection("users").Query().Where("a..b", OperatorEqual, 1)},
		{name: "Bad direction", query: Collection("users").Query().OrderBy("age", "sideways")},
		{name: "Negative limit", query: Collection("users").Query().LimitTo(-1)},
		{name: "Document path", query: Collection("users/alice").Query()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.query.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}
