package model

import (
	"errors"
	"fmt"
	"strings"
)

// FieldPath represents a dotted path to a possibly nested field, such as
// "customer.address.city".
type FieldPath struct {
	segments []string
	raw      string
}

// NewFieldPath creates a new field path from a dot-separated string
func NewFieldPath(path string) (*FieldPath, error) {
	if path == "" {
		return nil, ErrEmptyFieldPath
	}

	if strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return nil, ErrInvalidFieldPathFormat
	}

	segments := strings.Split(path, ".")
	if len(segments) > MaxFieldPathDepth {
		return nil, ErrFieldPathTooDeep
	}

	for _, segment := range segments {
		if !isValidFieldName(segment) {
			return nil, fmt.Errorf("%w: invalid segment '%s'", ErrInvalidFieldName, segment)
		}
	}

	return &FieldPath{segments: segments, raw: path}, nil
}

// MustNewFieldPath creates a field path or panics if invalid
func MustNewFieldPath(path string) *FieldPath {
	fp, err := NewFieldPath(path)
	if err != nil {
		panic(fmt.Sprintf("invalid field path '%s': %v", path, err))
	}
	return fp
}

// Raw returns the original dot-separated string
func (fp *FieldPath) Raw() string {
	return fp.raw
}

// Segments returns a copy of the individual path segments
func (fp *FieldPath) Segments() []string {
	return append([]string{}, fp.segments...)
}

// IsNested returns true if the field path has multiple segments
func (fp *FieldPath) IsNested() bool {
	return len(fp.segments) > 1
}

// Root returns the first segment
func (fp *FieldPath) Root() string {
	if len(fp.segments) == 0 {
		return ""
	}
	return fp.segments[0]
}

// Depth returns the number of segments
func (fp *FieldPath) Depth() int {
	return len(fp.segments)
}

// Parent returns the enclosing field path, or nil for a root field
func (fp *FieldPath) Parent() *FieldPath {
	if len(fp.segments) <= 1 {
		return nil
	}
	parent := append([]string{}, fp.segments[:len(fp.segments)-1]...)
	return &FieldPath{segments: parent, raw: strings.Join(parent, ".")}
}

// String implements Stringer interface
func (fp *FieldPath) String() string {
	return fp.raw
}

// Equal checks if two field paths are equal
func (fp *FieldPath) Equal(other *FieldPath) bool {
	if other == nil {
		return false
	}
	return fp.raw == other.raw
}

// Lookup walks data along the path. The second result is false when any
// segment is missing or an intermediate value is not a map.
func (fp *FieldPath) Lookup(data map[string]any) (any, bool) {
	var current any = data
	for _, segment := range fp.segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Assign stores value at the path inside data, creating or replacing
// intermediate maps as needed.
func (fp *FieldPath) Assign(data map[string]any, value any) {
	current := data
	for _, segment := range fp.segments[:len(fp.segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	current[fp.segments[len(fp.segments)-1]] = value
}

// Remove deletes the field at the path from data if it exists.
func (fp *FieldPath) Remove(data map[string]any) {
	current := data
	for _, segment := range fp.segments[:len(fp.segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, fp.segments[len(fp.segments)-1])
}

func isValidFieldName(name string) bool {
	if name == "" || len(name) > MaxFieldNameLength {
		return false
	}
	if strings.ContainsAny(name, "/[]*`") {
		return false
	}
	return !strings.HasPrefix(name, "__")
}

// Constants for validation
const (
	MaxFieldPathDepth  = 100
	MaxFieldNameLength = 1500
)

// Field path errors
var (
	ErrEmptyFieldPath         = errors.New("field path cannot be empty")
	ErrInvalidFieldPathFormat = errors.New("invalid field path format")
	ErrInvalidFieldName       = errors.New("invalid field name")
	ErrFieldPathTooDeep       = errors.New("field path exceeds maximum depth")
)
