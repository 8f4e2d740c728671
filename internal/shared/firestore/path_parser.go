package firestore

import (
	"fmt"
	"regexp"
	"strings"

	"rxfirestore/internal/shared/errors"
)

// PathInfo represents a parsed Firestore resource name
type PathInfo struct {
	ProjectID    string
	DatabaseID   string
	DocumentPath string
	IsDocument   bool
	IsCollection bool
	Segments     []string
}

var (
	// projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{DOCUMENT_PATH}
	firestorePathRegex = regexp.MustCompile(`^projects/([^/]+)/databases/([^/]+)/documents/(.*)$`)

	validIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)
)

// MaxIDLength is the longest document or collection id accepted.
const MaxIDLength = 1500

// ParseFirestorePath parses a fully qualified resource name as returned by the
// Cloud Firestore SDK into its project, database and relative path.
func ParseFirestorePath(path string) (*PathInfo, error) {
	if path == "" {
		return nil, invalidPath("path cannot be empty", path)
	}

	path = strings.Trim(path, "/")

	matches := firestorePathRegex.FindStringSubmatch(path)
	if len(matches) != 4 {
		return nil, invalidPath("invalid Firestore path format", path).
			WithDetail("expected_format", "projects/{PROJECT_ID}/databases/{DATABASE_ID}/documents/{DOCUMENT_PATH}")
	}

	segments := Segments(matches[3])
	if len(segments) == 0 {
		return nil, invalidPath("document path cannot be empty", path)
	}

	return &PathInfo{
		ProjectID:    matches[1],
		DatabaseID:   matches[2],
		DocumentPath: strings.Join(segments, "/"),
		IsDocument:   len(segments)%2 == 0,
		IsCollection: len(segments)%2 == 1,
		Segments:     segments,
	}, nil
}

// RelativePath strips the resource name prefix when present.
func RelativePath(path string) string {
	if info, err := ParseFirestorePath(path); err == nil {
		return info.DocumentPath
	}
	return strings.Trim(path, "/")
}

// BuildFirestorePath constructs a fully qualified resource name.
func BuildFirestorePath(projectID, databaseID, documentPath string) string {
	return fmt.Sprintf("projects/%s/databases/%s/documents/%s", projectID, databaseID, documentPath)
}

// Segments splits a slash separated path, skipping empty segments.
func Segments(path string) []string {
	if path == "" {
		return []string{}
	}

	parts := strings.Split(path, "/")
	result := make([]string, 0, len(parts))
	for _, segment := range parts {
		if segment != "" {
			result = append(result, segment)
		}
	}
	return result
}

// JoinPaths joins path fragments with a single slash.
func JoinPaths(fragments ...string) string {
	valid := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if fragment = strings.Trim(fragment, "/"); fragment != "" {
			valid = append(valid, fragment)
		}
	}
	return strings.Join(valid, "/")
}

// ParentPath returns the path without its last segment.
func ParentPath(path string) string {
	segments := Segments(path)
	if len(segments) <= 1 {
		return ""
	}
	return strings.Join(segments[:len(segments)-1], "/")
}

// LastSegment returns the id at the end of a path.
func LastSegment(path string) string {
	segments := Segments(path)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// IsValidID checks if an ID is usable as a document or collection id
func IsValidID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if len(id) > MaxIDLength {
		return false
	}
	if strings.HasPrefix(id, "__") && strings.HasSuffix(id, "__") {
		return false
	}
	return validIDPattern.MatchString(id)
}

// IsDocumentPath checks if a path names a document
func IsDocumentPath(path string) bool {
	segments := Segments(path)
	return len(segments) > 0 && len(segments)%2 == 0
}

// IsCollectionPath checks if a path names a collection
func IsCollectionPath(path string) bool {
	segments := Segments(path)
	return len(segments) > 0 && len(segments)%2 == 1
}

// ValidateDocumentPath validates a relative document path
func ValidateDocumentPath(path string) error {
	return validate(path, "document", 0)
}

// ValidateCollectionPath validates a relative collection path
func ValidateCollectionPath(path string) error {
	return validate(path, "collection", 1)
}

func validate(path, kind string, parity int) error {
	segments := Segments(path)
	if len(segments) == 0 {
		return invalidPath(kind+" path cannot be empty", path)
	}

	if len(segments)%2 != parity {
		return invalidPath(fmt.Sprintf("invalid %s path: wrong number of segments", kind), path).
			WithDetail("segments", len(segments))
	}

	for i, segment := range segments {
		if !IsValidID(segment) {
			return invalidPath("invalid segment in "+kind+" path", path).
				WithDetail("segment", segment).
				WithDetail("position", i)
		}
	}
	return nil
}

func invalidPath(message, path string) *errors.AppError {
	return errors.NewValidationError(message).
		WithCause(errors.ErrInvalidPath).
		WithDetail("path", path)
}
