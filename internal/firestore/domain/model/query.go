package model

import (
	"fmt"

	"rxfirestore/internal/shared/errors"
)

// Query describes a read over one collection. Builders return modified
// copies so that a base query can be shared.
type Query struct {
	Collection CollectionRef `json:"collection"`
	Filters    []Filter      `json:"filters,omitempty"`
	Orders     []Order       `json:"orders,omitempty"`
	Limit      int           `json:"limit,omitempty"` // 0 means unbounded
}

// Filter represents a single filter condition in a query (where clause).
type Filter struct {
	Field    string `json:"field"`
	Operator string `json:"op"`
	Value    any    `json:"value"`
}

// Order represents a single ordering condition in a query.
type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

const (
	// Ascending is used for ordering in ascending order.
	Ascending = "asc"
	// Descending is used for ordering in descending order.
	Descending = "desc"
)

// Operator types for filters
const (
	OperatorEqual              = "=="
	OperatorNotEqual           = "!="
	OperatorLessThan           = "<"
	OperatorLessThanOrEqual    = "<="
	OperatorGreaterThan        = ">"
	OperatorGreaterThanOrEqual = ">="
	OperatorArrayContains      = "array-contains"
	OperatorArrayContainsAny   = "array-contains-any"
	OperatorIn                 = "in"
	OperatorNotIn              = "not-in"
)

var supportedOperators = map[string]bool{
	OperatorEqual:              true,
	OperatorNotEqual:           true,
	OperatorLessThan:           true,
	OperatorLessThanOrEqual:    true,
	OperatorGreaterThan:        true,
	OperatorGreaterThanOrEqual: true,
	OperatorArrayContains:      true,
	OperatorArrayContainsAny:   true,
	OperatorIn:                 true,
	OperatorNotIn:              true,
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field, op string, value any) Query {
	out := q.clone()
	out.Filters = append(out.Filters, Filter{Field: field, Operator: op, Value: value})
	return out
}

// OrderBy returns a copy of q with an additional ordering. An empty
// direction means ascending.
func (q Query) OrderBy(field, direction string) Query {
	if direction == "" {
		direction = Ascending
	}
	out := q.clone()
	out.Orders = append(out.Orders, Order{Field: field, Direction: direction})
	return out
}

// LimitTo returns a copy of q reading at most n documents.
func (q Query) LimitTo(n int) Query {
	out := q.clone()
	out.Limit = n
	return out
}

// Validate checks the collection path, field paths, operators and limit.
func (q Query) Validate() error {
	if err := q.Collection.Validate(); err != nil {
		return err
	}
	if q.Limit < 0 {
		return invalidQuery(fmt.Sprintf("limit must not be negative, got %d", q.Limit))
	}
	for _, f := range q.Filters {
		if _, err := NewFieldPath(f.Field); err != nil {
			return invalidQuery(err.Error()).WithDetail("field", f.Field)
		}
		if !supportedOperators[f.Operator] {
			return invalidQuery("unsupported operator").WithDetail("operator", f.Operator)
		}
		switch f.Operator {
		case OperatorIn, OperatorNotIn, OperatorArrayContainsAny:
			if _, ok := f.Value.([]any); !ok {
				return invalidQuery(f.Operator+" requires a list value").WithDetail("field", f.Field)
			}
		}
	}
	for _, o := range q.Orders {
		if _, err := NewFieldPath(o.Field); err != nil {
			return invalidQuery(err.Error()).WithDetail("field", o.Field)
		}
		if o.Direction != Ascending && o.Direction != Descending {
			return invalidQuery("unsupported order direction").WithDetail("direction", o.Direction)
		}
	}
	return nil
}

func (q Query) clone() Query {
	out := q
	out.Filters = append([]Filter(nil), q.Filters...)
	out.Orders = append([]Order(nil), q.Orders...)
	return out
}

func invalidQuery(message string) *errors.AppError {
	return errors.NewValidationError(message).WithCause(errors.ErrInvalidQuery)
}
