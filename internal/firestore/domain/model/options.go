package model

// SetOptions controls how Set combines new fields with an existing document.
// The zero value overwrites the whole document.
type SetOptions struct {
	// Merge keeps fields that are not present in the new data.
	Merge bool `json:"merge,omitempty"`
	// MergeFields restricts the merge to the listed dotted field paths.
	MergeFields []string `json:"mergeFields,omitempty"`
}

// IsMerge reports whether the options describe any kind of merge.
func (o *SetOptions) IsMerge() bool {
	return o != nil && (o.Merge || len(o.MergeFields) > 0)
}

// ListenOptions configures a document or query listen.
type ListenOptions struct {
	// IncludeMetadataChanges also emits snapshots whose only change is
	// metadata such as HasPendingWrites.
	IncludeMetadataChanges bool `json:"includeMetadataChanges,omitempty"`
}
