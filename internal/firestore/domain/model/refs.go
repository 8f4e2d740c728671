package model

import (
	"rxfirestore/internal/shared/firestore"
)

// DocumentRef identifies one document by its slash separated path, for
// example "users/alice" or "users/alice/posts/p1".
type DocumentRef struct {
	Path string `json:"path"`
}

// CollectionRef identifies a collection, for example "users" or
// "users/alice/posts".
type CollectionRef struct {
	Path string `json:"path"`
}

// Doc returns a reference to the document at path.
func Doc(path string) DocumentRef {
	return DocumentRef{Path: firestore.JoinPaths(path)}
}

// Collection returns a reference to the collection at path.
func Collection(path string) CollectionRef {
	return CollectionRef{Path: firestore.JoinPaths(path)}
}

// ID returns the last path segment.
func (r DocumentRef) ID() string {
	return firestore.LastSegment(r.Path)
}

// Parent returns the collection containing the document.
func (r DocumentRef) Parent() CollectionRef {
	return CollectionRef{Path: firestore.ParentPath(r.Path)}
}

// Collection returns a subcollection of the document.
func (r DocumentRef) Collection(id string) CollectionRef {
	return CollectionRef{Path: firestore.JoinPaths(r.Path, id)}
}

// Validate checks that the path names a document.
func (r DocumentRef) Validate() error {
	return firestore.ValidateDocumentPath(r.Path)
}

func (r DocumentRef) String() string {
	return r.Path
}

// ID returns the collection id.
func (c CollectionRef) ID() string {
	return firestore.LastSegment(c.Path)
}

// Doc returns a reference to a document inside the collection.
func (c CollectionRef) Doc(id string) DocumentRef {
	return DocumentRef{Path: firestore.JoinPaths(c.Path, id)}
}

// Parent returns the owning document of a subcollection. The second result
// is false for a root collection.
func (c CollectionRef) Parent() (DocumentRef, bool) {
	parent := firestore.ParentPath(c.Path)
	if parent == "" {
		return DocumentRef{}, false
	}
	return DocumentRef{Path: parent}, true
}

// Query returns an unfiltered query over the collection.
func (c CollectionRef) Query() Query {
	return Query{Collection: c}
}

// Validate checks that the path names a collection.
func (c CollectionRef) Validate() error {
	return firestore.ValidateCollectionPath(c.Path)
}

func (c CollectionRef) String() string {
	return c.Path
}
