package ragadmin

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned when database connection parameters are absent.
	ErrNotConfigured = errors.New("ragadmin: database connection not configured")

	// ErrRemoteNotConfigured is returned when the RAGFlow base URL or API key is missing.
	ErrRemoteNotConfigured = errors.New("ragadmin: ragflow api not configured")

	// ErrNotFound is returned when a looked-up entity does not exist.
	ErrNotFound = errors.New("ragadmin: not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("ragadmin: invalid configuration")

	// ErrUnauthorized is returned for bad credentials or unknown session tokens.
	ErrUnauthorized = errors.New("ragadmin: unauthorized")
)

// Kind classifies an Error so callers can map it to a response without
// inspecting messages.
type Kind int

const (
	KindInternal Kind = iota
	KindConfiguration
	KindValidation
	KindTransaction
	KindNotFound
	KindConflict
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindTransaction:
		return "transaction"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRemote:
		return "remote"
	default:
		return "internal"
	}
}

// CodeFailure is the generic failure code carried by errors that have no
// more specific code.
const CodeFailure = -1

// Error is the typed error surfaced by the store, the cascade engine and the
// remote client.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ConfigurationError reports missing connection parameters.
func ConfigurationError(err error) *Error {
	return &Error{Kind: KindConfiguration, Code: CodeFailure, Message: err.Error(), Err: err}
}

// ValidationError reports malformed caller input.
func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeFailure, Message: fmt.Sprintf(format, args...)}
}

// TransactionError reports a failed, rolled-back unit of work.
func TransactionError(err error) *Error {
	return &Error{Kind: KindTransaction, Code: CodeFailure, Message: err.Error(), Err: err}
}

// NotFoundError reports a missing entity of the given kind.
func NotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeFailure, Message: fmt.Sprintf("%s %s not found", entity, id), Err: ErrNotFound}
}

// ConflictError reports a uniqueness violation detected before writing.
func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: CodeFailure, Message: fmt.Sprintf(format, args...)}
}

// RemoteError reports a non-zero envelope code from the RAGFlow API.
func RemoteError(code int, message string) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: message}
}

// KindOf returns the Kind of err, or KindInternal when err carries none.
// Bare sentinels are classified as well.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotConfigured), errors.Is(err, ErrRemoteNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}
	return KindInternal
}

// CodeOf returns the numeric code carried by err, defaulting to CodeFailure.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return CodeFailure
}
