package contextkeys

// contextKey is an unexported type to prevent collisions with context keys defined in
// other packages.
type contextKey string

// String makes contextKey satisfy the Stringer interface to assist with debugging.
func (c contextKey) String() string {
	return "rxfirestore context key " + string(c)
}

const (
	// RequestIDKey carries the gateway request or WebSocket subscriber ID.
	RequestIDKey = contextKey("requestID")
	// UserIDKey carries the subject of a verified gateway token.
	UserIDKey = contextKey("userID")
	// ComponentKey names the adapter handling an operation.
	ComponentKey = contextKey("component")
	// OperationKey names the operation in flight (get, set, listen, ...).
	OperationKey = contextKey("operation")
	// PathKey carries the document or collection path an operation targets.
	PathKey = contextKey("path")
)
