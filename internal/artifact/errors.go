package artifact

import "fmt"

// ErrorKind classifies artifact repository failures.
type ErrorKind string

const (
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindNotFound   ErrorKind = "not_found"
	ErrorKindCorrupt    ErrorKind = "corrupt"
	ErrorKindValidation ErrorKind = "validation"
)

// Error is a typed artifact repository error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("artifact %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("artifact %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a storage-level error.
func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindStorage, Message: message, Cause: cause}
}

// NewNotFoundError creates an error for a missing artifact.
func NewNotFoundError(message string) *Error {
	return &Error{Kind: ErrorKindNotFound, Message: message}
}

// NewCorruptError creates an error for an artifact that failed its
// structural self-check.
func NewCorruptError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindCorrupt, Message: message, Cause: cause}
}

// NewValidationError creates an error for invalid caller input.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}

// IsKind reports whether err is an artifact Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
