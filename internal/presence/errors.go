package presence

// Error codes for protocol and registration failures.
const (
	ErrCodeMissingSpace       = "missing_space"
	ErrCodeInvalidSpace       = "invalid_space"
	ErrCodeMissingIdentity    = "missing_identity"
	ErrCodeAlreadyJoined      = "already_joined"
	ErrCodeNotJoined          = "not_joined"
	ErrCodeUnparsableMessage  = "unparsable_message"
	ErrCodeUnrecognizedAction = "unrecognized_action"
	ErrCodeStoreUnavailable   = "store_unavailable"
)

// Client-facing detail strings.
const (
	DetailMissingSpace       = "Space ID is required."
	DetailInvalidSpace       = "Space provided is not a UUID."
	DetailMissingIdentity    = `No "identity" param provided.`
	DetailAlreadyJoined      = "You have already joined a space."
	DetailNotJoined          = "You have not joined a space."
	DetailUnparsableMessage  = "Client passed non-JSON message."
	DetailUnrecognizedAction = "Client passed unrecognized action in message."
	DetailStoreUnavailable   = "An unexpected error occurred."
)

// Error carries a machine code, the detail reported to the client, and the
// underlying cause when one exists.
type Error struct {
	Code   string
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Detail + ": " + e.cause.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

var (
	errMissingSpace    = &Error{Code: ErrCodeMissingSpace, Detail: DetailMissingSpace}
	errMissingIdentity = &Error{Code: ErrCodeMissingIdentity, Detail: DetailMissingIdentity}
)

// storeError wraps a failed store round-trip as a StoreUnavailable
// rejection.
func storeError(cause error) *Error {
	return &Error{Code: ErrCodeStoreUnavailable, Detail: DetailStoreUnavailable, cause: cause}
}
