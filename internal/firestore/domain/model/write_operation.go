package model

import (
	"fmt"

	"rxfirestore/internal/shared/errors"
)

// WriteOperationType defines the type of a write operation in a batch.
type WriteOperationType string

const (
	WriteTypeSet    WriteOperationType = "set"
	WriteTypeUpdate WriteOperationType = "update"
	WriteTypeDelete WriteOperationType = "delete"
)

// WriteOperation represents a single operation in a batch write.
type WriteOperation struct {
	Type    WriteOperationType `json:"type"`
	Ref     DocumentRef        `json:"ref"`
	Data    map[string]any     `json:"data,omitempty"`
	Options *SetOptions        `json:"options,omitempty"`
}

// SetOperation builds a set write.
func SetOperation(ref DocumentRef, data map[string]any, opts *SetOptions) WriteOperation {
	return WriteOperation{Type: WriteTypeSet, Ref: ref, Data: data, Options: opts}
}

// UpdateOperation builds an update write.
func UpdateOperation(ref DocumentRef, data map[string]any) WriteOperation {
	return WriteOperation{Type: WriteTypeUpdate, Ref: ref, Data: data}
}

// DeleteOperation builds a delete write.
func DeleteOperation(ref DocumentRef) WriteOperation {
	return WriteOperation{Type: WriteTypeDelete, Ref: ref}
}

// Validate checks the operation type and document path.
func (w WriteOperation) Validate() error {
	switch w.Type {
	case WriteTypeSet, WriteTypeUpdate, WriteTypeDelete:
	default:
		return errors.NewValidationError(fmt.Sprintf("unknown write type %q", w.Type))
	}
	return w.Ref.Validate()
}
