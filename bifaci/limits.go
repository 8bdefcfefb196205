package bifaci

import "fmt"

// Size of the little-endian u64 length field in front of every frame.
const FrameHeaderSize int = 8

// Size of the zero-length terminator that always follows the last frame in a half.
const TerminatorSize int = 8

// FrameOverhead is the space a frame needs on top of its payload: the length
// field plus the terminator that is re-written after it.
const FrameOverhead int = FrameHeaderSize + TerminatorSize

// Default total arena capacity for a plugin instance channel (2 x 1 MB halves)
const DefaultChannelCapacity int = 2 * 1024 * 1024

// Smallest arena that can hold a terminator in each half plus one empty frame
const MinChannelCapacity int = 2 * (FrameOverhead + FrameHeaderSize)

// Limits describes the sizing of a message channel. It is read from the
// [channel] table of the config file.
type Limits struct {
	// Capacity is the total arena size in bytes, split between the halves
	Capacity int `toml:"capacity"`
}

// DefaultLimits returns the default channel limits
func DefaultLimits() Limits {
	return Limits{
		Capacity: DefaultChannelCapacity,
	}
}

// Validate reports a capacity too small to hold a frame in each half
func (l Limits) Validate() error {
	if l.Capacity < MinChannelCapacity {
		return fmt.Errorf("channel capacity %d is below the minimum of %d bytes", l.Capacity, MinChannelCapacity)
	}
	return nil
}

// HalfCapacity returns the size of one half of the arena
func (l Limits) HalfCapacity() int {
	return l.Capacity / 2
}

// MaxPayload returns the largest payload a single frame can carry in an
// otherwise empty half
func (l Limits) MaxPayload() int {
	max := l.HalfCapacity() - FrameOverhead
	if max < 0 {
		return 0
	}
	return max
}
