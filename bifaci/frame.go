package bifaci

import (
	"encoding/binary"
	"fmt"
)

// Frame layout inside a half (all integers little-endian):
//
//	[u64 len][len bytes] [u64 len][len bytes] ... [u64 0]
//
// A zero length is the terminator and never a valid frame. Every successful
// write re-writes the terminator directly after the frame it appended, so a
// half is always readable as "one more frame, or none".

// putLength writes a frame length field at offset
func putLength(half []byte, offset int, length uint64) {
	binary.LittleEndian.PutUint64(half[offset:offset+FrameHeaderSize], length)
}

// frameSize returns the number of bytes a payload occupies in a half,
// excluding the trailing terminator
func frameSize(payload []byte) int {
	return FrameHeaderSize + len(payload)
}

// writeFrame appends payload as a frame at offset and returns the offset of
// the new terminator. The half is left untouched when the frame does not fit.
func writeFrame(half []byte, offset int, payload []byte) (int, error) {
	if len(payload) == 0 {
		return offset, ErrEmptyFrame
	}

	need := frameSize(payload) + TerminatorSize
	remaining := len(half) - offset
	if need > remaining {
		return offset, &CapacityError{Need: need, Remaining: remaining, Half: len(half)}
	}

	putLength(half, offset, uint64(len(payload)))
	next := offset + FrameHeaderSize
	next += copy(half[next:], payload)

	// end marker, reused by the next frame if there is one
	putLength(half, next, 0)

	return next, nil
}

// peekLength reads the length field at offset without consuming it
func peekLength(half []byte, offset int) (uint64, error) {
	if offset < 0 || offset+FrameHeaderSize > len(half) {
		return 0, &FrameError{
			Offset:  offset,
			Message: fmt.Sprintf("no room for a length field in a %d byte half", len(half)),
		}
	}
	return binary.LittleEndian.Uint64(half[offset : offset+FrameHeaderSize]), nil
}

// nextFrame returns the frame at offset and the offset just past it. ok is
// false at the terminator, in which case next == offset. The returned slice
// borrows from half and is only valid until the half is written again.
func nextFrame(half []byte, offset int) (frame []byte, next int, ok bool, err error) {
	length, err := peekLength(half, offset)
	if err != nil {
		return nil, offset, false, err
	}

	// valid state when there are no more frames
	if length == 0 {
		return nil, offset, false, nil
	}

	start := offset + FrameHeaderSize
	if length > uint64(len(half)-start) {
		return nil, offset, false, &FrameError{
			Offset:  offset,
			Length:  length,
			Message: fmt.Sprintf("frame runs past the end of the half (%d bytes left)", len(half)-start),
		}
	}

	end := start + int(length)
	return half[start:end:end], end, true, nil
}
