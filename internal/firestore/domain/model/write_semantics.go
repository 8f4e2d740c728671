package model

import (
	"sort"
	"strings"

	"rxfirestore/internal/shared/errors"
)

// ApplySet returns the document that results from a set of fields over
// existing (nil when the document is missing). Without merge options the
// fields replace the document. With Merge, nested maps are merged and other
// values replaced. With MergeFields only the listed paths are copied from
// fields; a listed path absent from fields is removed.
func ApplySet(existing, fields map[string]any, opts *SetOptions) (map[string]any, error) {
	if !opts.IsMerge() {
		out := CopyFields(fields)
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	}

	out := CopyFields(existing)
	if out == nil {
		out = map[string]any{}
	}
	if len(opts.MergeFields) == 0 {
		deepMerge(out, fields)
		return out, nil
	}

	for _, raw := range opts.MergeFields {
		fp, err := NewFieldPath(raw)
		if err != nil {
			return nil, errors.NewValidationError("invalid merge field " + raw).WithCause(err)
		}
		if value, ok := fp.Lookup(fields); ok {
			fp.Assign(out, copyValue(value))
		} else {
			fp.Remove(out)
		}
	}
	return out, nil
}

// ApplyUpdate returns existing with each dotted field path in fields
// assigned. existing must not be nil.
func ApplyUpdate(existing, fields map[string]any) (map[string]any, error) {
	paths, err := UpdatePaths(fields)
	if err != nil {
		return nil, err
	}
	out := CopyFields(existing)
	if out == nil {
		out = map[string]any{}
	}
	for _, fp := range paths {
		fp.Assign(out, copyValue(fields[fp.Raw()]))
	}
	return out, nil
}

// UpdatePaths parses the keys of an update as field paths, sorted. A path
// that is a prefix of another path in the same update is rejected.
func UpdatePaths(fields map[string]any) ([]*FieldPath, error) {
	if len(fields) == 0 {
		return nil, errors.NewValidationError("update requires at least one field")
	}
	paths := make([]*FieldPath, 0, len(fields))
	for key := range fields {
		fp, err := NewFieldPath(key)
		if err != nil {
			return nil, errors.NewValidationError("invalid update field " + key).WithCause(err)
		}
		paths = append(paths, fp)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Raw() < paths[j].Raw() })
	for i := 1; i < len(paths); i++ {
		if strings.HasPrefix(paths[i].Raw(), paths[i-1].Raw()+".") {
			return nil, errors.NewValidationError("conflicting update fields " + paths[i-1].Raw() + " and " + paths[i].Raw())
		}
	}
	return paths, nil
}

func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[k] = copyValue(v)
	}
}
