package backup

import "fmt"

// ErrorKind classifies backup failures.
type ErrorKind string

const (
	ErrorKindDump       ErrorKind = "dump"
	ErrorKindStorage    ErrorKind = "storage"
	ErrorKindValidation ErrorKind = "validation"
)

// Error is a typed backup error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backup %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("backup %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewDumpError creates an error for a failed dump process.
func NewDumpError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindDump, Message: message, Cause: cause}
}

// NewStorageError creates an error for a failed artifact write.
func NewStorageError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindStorage, Message: message, Cause: cause}
}

// NewValidationError creates an error for an artifact that failed its
// post-write self-check.
func NewValidationError(message string) *Error {
	return &Error{Kind: ErrorKindValidation, Message: message}
}
