package model

import (
	"encoding/json"
	"time"
)

// SnapshotMetadata describes where a snapshot came from.
type SnapshotMetadata struct {
	HasPendingWrites bool `json:"hasPendingWrites"`
	FromCache        bool `json:"fromCache"`
}

// DocumentSnapshot is an immutable read of one document. A snapshot of a
// missing document has Exists() == false and no data.
type DocumentSnapshot struct {
	ref        DocumentRef
	data       map[string]any
	createTime time.Time
	updateTime time.Time
	metadata   SnapshotMetadata
}

// NewDocumentSnapshot builds a snapshot of an existing document. data is
// copied.
func NewDocumentSnapshot(ref DocumentRef, data map[string]any, createTime, updateTime time.Time) *DocumentSnapshot {
	if data == nil {
		data = map[string]any{}
	}
	return &DocumentSnapshot{
		ref:        ref,
		data:       CopyFields(data),
		createTime: createTime,
		updateTime: updateTime,
	}
}

// MissingDocumentSnapshot builds the snapshot of a document that does not
// exist.
func MissingDocumentSnapshot(ref DocumentRef) *DocumentSnapshot {
	return &DocumentSnapshot{ref: ref}
}

// WithMetadata returns a copy of s carrying metadata.
func (s DocumentSnapshot) WithMetadata(metadata SnapshotMetadata) *DocumentSnapshot {
	s.metadata = metadata
	return &s
}

// Ref returns the document reference.
func (s DocumentSnapshot) Ref() DocumentRef { return s.ref }

// ID returns the document id.
func (s DocumentSnapshot) ID() string { return s.ref.ID() }

// Exists reports whether the document existed at read time.
func (s DocumentSnapshot) Exists() bool { return s.data != nil }

// Data returns a deep copy of the document fields, or nil when the document
// does not exist.
func (s DocumentSnapshot) Data() map[string]any {
	if s.data == nil {
		return nil
	}
	return CopyFields(s.data)
}

// DataAt returns the value at a dotted field path.
func (s DocumentSnapshot) DataAt(path string) (any, bool) {
	fp, err := NewFieldPath(path)
	if err != nil || s.data == nil {
		return nil, false
	}
	v, ok := fp.Lookup(s.data)
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// CreateTime is zero for a missing document.
func (s DocumentSnapshot) CreateTime() time.Time { return s.createTime }

// UpdateTime is zero for a missing document.
func (s DocumentSnapshot) UpdateTime() time.Time { return s.updateTime }

// Metadata returns the snapshot metadata.
func (s DocumentSnapshot) Metadata() SnapshotMetadata { return s.metadata }

type documentSnapshotJSON struct {
	Path       string           `json:"path"`
	Exists     bool             `json:"exists"`
	Data       map[string]any   `json:"data,omitempty"`
	CreateTime *time.Time       `json:"createTime,omitempty"`
	UpdateTime *time.Time       `json:"updateTime,omitempty"`
	Metadata   SnapshotMetadata `json:"metadata"`
}

// MarshalJSON encodes the snapshot for the gateway wire format.
func (s DocumentSnapshot) MarshalJSON() ([]byte, error) {
	wire := documentSnapshotJSON{
		Path:     s.ref.Path,
		Exists:   s.Exists(),
		Data:     s.data,
		Metadata: s.metadata,
	}
	if !s.createTime.IsZero() {
		wire.CreateTime = &s.createTime
	}
	if !s.updateTime.IsZero() {
		wire.UpdateTime = &s.updateTime
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes the gateway wire format.
func (s *DocumentSnapshot) UnmarshalJSON(b []byte) error {
	var wire documentSnapshotJSON
	if err := decodeNumbers(b, &wire); err != nil {
		return err
	}
	normalizeNumbers(wire.Data)
	*s = DocumentSnapshot{ref: DocumentRef{Path: wire.Path}, metadata: wire.Metadata}
	if wire.Exists {
		s.data = wire.Data
		if s.data == nil {
			s.data = map[string]any{}
		}
	}
	if wire.CreateTime != nil {
		s.createTime = *wire.CreateTime
	}
	if wire.UpdateTime != nil {
		s.updateTime = *wire.UpdateTime
	}
	return nil
}

// QuerySnapshot is the result of a collection read or query listen.
type QuerySnapshot struct {
	Query     Query               `json:"query"`
	Documents []*DocumentSnapshot `json:"documents"`
	ReadTime  time.Time           `json:"readTime"`
}

// Empty reports whether the read matched no documents.
func (q QuerySnapshot) Empty() bool { return len(q.Documents) == 0 }

// Size returns the number of documents.
func (q QuerySnapshot) Size() int { return len(q.Documents) }

// Refs returns the references of every document in the snapshot.
func (q QuerySnapshot) Refs() []DocumentRef {
	refs := make([]DocumentRef, 0, len(q.Documents))
	for _, doc := range q.Documents {
		refs = append(refs, doc.Ref())
	}
	return refs
}

// CopyFields deep copies nested maps and slices of a field map.
func CopyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return CopyFields(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
