package message

import (
	"errors"
	"fmt"
)

// DecodeError reports a frame body that is not a valid envelope, or an
// envelope whose payload does not match its kind
type DecodeError struct {
	Type    DecodeErrorType
	Kind    Kind
	Message string
	Err     error
}

type DecodeErrorType int

const (
	// the bytes are not a well-formed envelope table
	DecodeErrorTypeMalformed DecodeErrorType = iota
	// the payload table carries another kind's tag
	DecodeErrorTypeKindMismatch
	// the payload table decodes but fails its own verification
	DecodeErrorTypeInvalid
)

func (e *DecodeError) Error() string {
	switch e.Type {
	case DecodeErrorTypeMalformed:
		return fmt.Sprintf("malformed envelope: %s", e.Message)
	case DecodeErrorTypeKindMismatch:
		return fmt.Sprintf("payload does not match kind %s: %s", e.Kind, e.Message)
	case DecodeErrorTypeInvalid:
		return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("decode error: %s", e.Message)
	}
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func malformed(err error, format string, args ...any) *DecodeError {
	return &DecodeError{Type: DecodeErrorTypeMalformed, Message: fmt.Sprintf(format, args...), Err: err}
}

func kindMismatch(kind Kind, format string, args ...any) *DecodeError {
	return &DecodeError{Type: DecodeErrorTypeKindMismatch, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalid(kind Kind, err error) *DecodeError {
	return &DecodeError{Type: DecodeErrorTypeInvalid, Kind: kind, Message: err.Error(), Err: err}
}

// IsDecodeError reports whether err is (or wraps) a DecodeError
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
