package bifaci

import (
	"errors"
	"fmt"
)

// ErrEmptyFrame is returned when writing a zero length payload, which would
// be indistinguishable from the terminator
var ErrEmptyFrame = errors.New("empty frame payloads are reserved for the stream terminator")

// ErrReleased is returned by operations on a channel whose arena was released
var ErrReleased = errors.New("message channel has been released")

// CapacityError is returned when a frame does not fit into the remaining
// space of the current write half. Nothing is written when it is returned.
type CapacityError struct {
	Need      int // bytes the frame needs, terminator included
	Remaining int // bytes left in the write half
	Half      int // total size of the write half
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("frame needs %d bytes but only %d of %d are left in the write half", e.Need, e.Remaining, e.Half)
}

// FrameError reports a corrupted stream in the read half: a length field that
// points outside the half or a cursor with no room for a length field.
type FrameError struct {
	Offset  int
	Length  uint64
	Message string
}

func (e *FrameError) Error() string {
	if e.Length != 0 {
		return fmt.Sprintf("corrupted frame at offset %d (length %d): %s", e.Offset, e.Length, e.Message)
	}
	return fmt.Sprintf("corrupted frame at offset %d: %s", e.Offset, e.Message)
}

// ProtocolViolation is returned by Swap when the reader has not drained the
// read half. Swapping anyway would silently lose the unread frames.
type ProtocolViolation struct {
	ReadOffset int
	Message    string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation at read offset %d: %s", e.ReadOffset, e.Message)
}

// IsCapacityError reports whether err is (or wraps) a CapacityError
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// IsFrameError reports whether err is (or wraps) a FrameError
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// IsProtocolViolation reports whether err is (or wraps) a ProtocolViolation
func IsProtocolViolation(err error) bool {
	var pv *ProtocolViolation
	return errors.As(err, &pv)
}
