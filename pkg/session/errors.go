package session

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteRejected indicates that an announced payload cannot be stored
	// because its destination is not writable. The session is aborted.
	ErrWriteRejected = errors.New("write rejected")

	// ErrNotAdmitted indicates a writefile for a path the provider never
	// accepted on this session. The session is aborted.
	ErrNotAdmitted = errors.New("write not admitted")

	// ErrWrongRole indicates an operation that the session's role cannot perform.
	ErrWrongRole = errors.New("operation not available for this role")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// RejectionError reports a payload that could not be written locally.
// It unwraps to ErrWriteRejected.
type RejectionError struct {
	Path string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("could not update local file '%s', it is read-only", e.Path)
}

func (e *RejectionError) Unwrap() error {
	return ErrWriteRejected
}
