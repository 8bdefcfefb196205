package prodbg

import (
	"errors"
	"fmt"
)

// SessionError represents errors from driving a backend session
type SessionError struct {
	Type    SessionErrorType
	Backend string
	Message string
	Err     error
}

type SessionErrorType int

const (
	SessionErrorTypeBackendNotFound SessionErrorType = iota
	SessionErrorTypeInstance
	SessionErrorTypeTransport
	SessionErrorTypeRequest
	SessionErrorTypeStateUnsupported
	SessionErrorTypeClosed
)

func (e *SessionError) Error() string {
	switch e.Type {
	case SessionErrorTypeBackendNotFound:
		return fmt.Sprintf("backend %q not found", e.Backend)
	case SessionErrorTypeInstance:
		return fmt.Sprintf("backend %q failed to create an instance: %s", e.Backend, e.Message)
	case SessionErrorTypeTransport:
		return fmt.Sprintf("transport error: %s", e.Message)
	case SessionErrorTypeRequest:
		return fmt.Sprintf("request not sent: %s", e.Message)
	case SessionErrorTypeStateUnsupported:
		return fmt.Sprintf("backend %q does not support %s", e.Backend, e.Message)
	case SessionErrorTypeClosed:
		return "session is closed"
	default:
		return fmt.Sprintf("unknown error: %s", e.Message)
	}
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ErrSessionClosed is returned by every operation after Close
var ErrSessionClosed = &SessionError{Type: SessionErrorTypeClosed}

func transportError(err error) *SessionError {
	return &SessionError{Type: SessionErrorTypeTransport, Message: err.Error(), Err: err}
}

func requestError(err error) *SessionError {
	return &SessionError{Type: SessionErrorTypeRequest, Message: err.Error(), Err: err}
}

// IsSessionError reports whether err is a SessionError of the given type
func IsSessionError(err error, t SessionErrorType) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Type == t
}
