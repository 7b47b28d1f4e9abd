package restore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies restore failures.
type ErrorKind string

const (
	ErrorKindArtifactNotFound ErrorKind = "artifact_not_found"
	ErrorKindArtifactCorrupt  ErrorKind = "artifact_corrupt"
	ErrorKindUserCancelled    ErrorKind = "user_cancelled"
	ErrorKindTargetMissing    ErrorKind = "target_missing"
	ErrorKindUnreachable      ErrorKind = "unreachable"
	ErrorKindReplaceFailed    ErrorKind = "replace_failed"
)

// Error is a typed restore error.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("restore %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("restore %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewArtifactNotFoundError creates an error for a missing artifact.
func NewArtifactNotFoundError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindArtifactNotFound, Message: message, Cause: cause}
}

// NewArtifactCorruptError creates an error for an artifact that failed its
// pre-restore integrity check.
func NewArtifactCorruptError(message string) *Error {
	return &Error{Kind: ErrorKindArtifactCorrupt, Message: message}
}

// NewUserCancelledError creates an error for an operator declining the
// confirmation prompt. Cancellation is a clean outcome, not a failure.
func NewUserCancelledError(message string) *Error {
	return &Error{Kind: ErrorKindUserCancelled, Message: message}
}

// NewTargetMissingError creates an error for a restore target that does not
// exist on the server.
func NewTargetMissingError(message string) *Error {
	return &Error{Kind: ErrorKindTargetMissing, Message: message}
}

// NewUnreachableError creates an error for a server that no connection
// strategy could reach.
func NewUnreachableError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindUnreachable, Message: message, Cause: cause}
}

// NewReplaceFailedError creates an error for a failed destructive replace.
// The target may be in a partial state; the safety backup is the way back.
func NewReplaceFailedError(message string, cause error) *Error {
	return &Error{Kind: ErrorKindReplaceFailed, Message: message, Cause: cause}
}

// IsCancellation reports whether err represents an operator cancellation,
// which maps to a successful process exit.
func IsCancellation(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == ErrorKindUserCancelled
}

// IsKind reports whether err is a restore Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
