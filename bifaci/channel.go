package bifaci

// Channel is the double-buffered message queue between the front-end and one
// backend plugin instance.
//
// The arena is split into two equal halves. At any time one half is the write
// target and the other the read source; Swap exchanges them. There is no
// locking: exactly one logical owner writes a half and one reads the other,
// and the swap protocol (not a mutex) keeps them apart.
type Channel struct {
	arena       []byte
	halfSize    int
	writeHalf   int // 0 or 1, the read half is the other one
	writeOffset int
	readOffset  int
	discarded   bool

	reader Reader
	writer Writer
}

// Reader is the read-only view of a channel handed to whoever drains the
// current read half.
type Reader struct {
	ch *Channel
}

// Writer is the append-only view of a channel handed to whoever fills the
// current write half.
type Writer struct {
	ch *Channel
}

// NewChannel allocates a channel with totalCapacity bytes split evenly between
// the two halves
func NewChannel(totalCapacity int) (*Channel, error) {
	if err := (Limits{Capacity: totalCapacity}).Validate(); err != nil {
		return nil, err
	}

	halfSize := totalCapacity / 2
	c := &Channel{
		// make zeroes the arena, so both halves start with a terminator
		arena:    make([]byte, halfSize*2),
		halfSize: halfSize,
	}
	c.reader = Reader{ch: c}
	c.writer = Writer{ch: c}
	return c, nil
}

// NewChannelWithLimits allocates a channel sized by limits
func NewChannelWithLimits(limits Limits) (*Channel, error) {
	return NewChannel(limits.Capacity)
}

func (c *Channel) half(i int) []byte {
	start := i * c.halfSize
	end := start + c.halfSize
	return c.arena[start:end:end]
}

func (c *Channel) writeBuf() []byte {
	return c.half(c.writeHalf)
}

func (c *Channel) readBuf() []byte {
	return c.half(1 - c.writeHalf)
}

// Reader returns the read view of the channel
func (c *Channel) Reader() *Reader {
	return &c.reader
}

// Writer returns the write view of the channel
func (c *Channel) Writer() *Writer {
	return &c.writer
}

// HalfCapacity returns the size in bytes of each half
func (c *Channel) HalfCapacity() int {
	return c.halfSize
}

// WriteOffset returns the current write cursor, which is also the number of
// bytes of frames written into the write half since the last swap
func (c *Channel) WriteOffset() int {
	return c.writeOffset
}

// ReadOffset returns the current read cursor
func (c *Channel) ReadOffset() int {
	return c.readOffset
}

// Remaining returns how many payload bytes a single frame written now could
// carry without overflowing the write half
func (c *Channel) Remaining() int {
	n := c.halfSize - c.writeOffset - FrameOverhead
	if n < 0 {
		return 0
	}
	return n
}

// WriteFrame appends payload to the write half as one frame. On a
// CapacityError nothing is written and the write offset is unchanged.
func (c *Channel) WriteFrame(payload []byte) error {
	if c.arena == nil {
		return ErrReleased
	}

	next, err := writeFrame(c.writeBuf(), c.writeOffset, payload)
	if err != nil {
		return err
	}
	c.writeOffset = next
	return nil
}

// NextFrame returns the next frame in the read half. ok is false once the
// terminator is reached; the read offset then stays on the terminator. The
// returned slice borrows from the arena and must not be retained past the
// next Swap.
func (c *Channel) NextFrame() (frame []byte, ok bool, err error) {
	if c.arena == nil {
		return nil, false, ErrReleased
	}

	frame, next, ok, err := nextFrame(c.readBuf(), c.readOffset)
	if err != nil || !ok {
		return nil, false, err
	}
	c.readOffset = next
	return frame, true, nil
}

// Drained reports whether the reader has consumed every frame of the read half
func (c *Channel) Drained() bool {
	if c.arena == nil {
		return true
	}
	length, err := peekLength(c.readBuf(), c.readOffset)
	return err == nil && length == 0
}

// Discard drops every unread frame in the read half and returns how many were
// dropped. After Discard the next Swap is allowed even if the read half is
// corrupted, in which case the FrameError is returned together with the
// number of frames skipped before it.
func (c *Channel) Discard() (int, error) {
	if c.arena == nil {
		return 0, ErrReleased
	}

	c.discarded = true

	count := 0
	for {
		_, ok, err := c.NextFrame()
		if err != nil {
			return count, err
		}
		if !ok {
			return count, nil
		}
		count++
	}
}

// Swap exchanges the read and write halves and resets both cursors. The
// reader must have drained the read half (or called Discard); otherwise a
// ProtocolViolation is returned and nothing changes.
func (c *Channel) Swap() error {
	if c.arena == nil {
		return ErrReleased
	}

	if !c.discarded && !c.Drained() {
		violation := &ProtocolViolation{
			ReadOffset: c.readOffset,
			Message:    "swap requested before the reader drained the read half",
		}
		if assertions {
			panic(violation)
		}
		return violation
	}

	c.writeHalf = 1 - c.writeHalf
	c.writeOffset = 0
	c.readOffset = 0
	c.discarded = false

	// the new write half still holds the frames drained before this swap
	putLength(c.writeBuf(), 0, 0)

	return nil
}

// Release frees the arena. The channel is unusable afterwards.
func (c *Channel) Release() {
	c.arena = nil
	c.writeOffset = 0
	c.readOffset = 0
}

// NextFrame returns the next frame of the read half, see Channel.NextFrame
func (r *Reader) NextFrame() ([]byte, bool, error) {
	return r.ch.NextFrame()
}

// Drained reports whether every frame of the read half has been consumed
func (r *Reader) Drained() bool {
	return r.ch.Drained()
}

// WriteFrame appends payload as one frame, see Channel.WriteFrame
func (w *Writer) WriteFrame(payload []byte) error {
	return w.ch.WriteFrame(payload)
}

// Available returns the largest payload that can still be written
func (w *Writer) Available() int {
	return w.ch.Remaining()
}
