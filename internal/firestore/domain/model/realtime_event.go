package model

import "time"

// EventType defines the type of a document change.
type EventType string

const (
	// EventTypeCreated signifies a new document was created.
	EventTypeCreated EventType = "created"
	// EventTypeUpdated signifies an existing document was updated.
	EventTypeUpdated EventType = "updated"
	// EventTypeDeleted signifies a document was deleted.
	EventTypeDeleted EventType = "deleted"
)

// ChangeEvent describes one committed document write. Stores publish it on
// a change feed so that listeners can re-read what they watch.
type ChangeEvent struct {
	Type EventType `json:"type"`

	// Path is the document path, e.g. "users/alice".
	Path string `json:"path"`

	// CollectionPath is the collection containing the document.
	CollectionPath string `json:"collectionPath"`

	// Data is the document after the write; nil for deletes.
	Data map[string]any `json:"data,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// NewChangeEvent builds an event for a write to ref.
func NewChangeEvent(eventType EventType, ref DocumentRef, data map[string]any) ChangeEvent {
	return ChangeEvent{
		Type:           eventType,
		Path:           ref.Path,
		CollectionPath: ref.Parent().Path,
		Data:           CopyFields(data),
		Timestamp:      time.Now().UTC(),
	}
}

// Ref returns the reference of the changed document.
func (e ChangeEvent) Ref() DocumentRef {
	return DocumentRef{Path: e.Path}
}

// SubscriptionRequest is a client message on the listen WebSocket.
type SubscriptionRequest struct {
	// Action is "subscribe" or "unsubscribe".
	Action string `json:"action"`

	// ID names the subscription within the connection.
	ID string `json:"id"`

	// Document is set for a document listen.
	Document string `json:"document,omitempty"`

	// Query is set for a query listen.
	Query *Query `json:"query,omitempty"`

	IncludeMetadataChanges bool `json:"includeMetadataChanges,omitempty"`
}

// SubscriptionMessage is a server frame on the listen WebSocket.
type SubscriptionMessage struct {
	// Type is "snapshot", "error" or "unsubscribed".
	Type string `json:"type"`
	ID   string `json:"id"`

	Document *DocumentSnapshot `json:"document,omitempty"`
	Query    *QuerySnapshot    `json:"query,omitempty"`

	Error *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload carries an error across the gateway boundary.
type ErrorPayload struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"`
}

// Subscription actions and frame types.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	MessageSnapshot     = "snapshot"
	MessageError        = "error"
	MessageUnsubscribed = "unsubscribed"
)
