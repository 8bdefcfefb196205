package message

import (
	"github.com/machinefabric/prodbg-go/bifaci"
)

// FrameWriter is the append side of a channel half
type FrameWriter interface {
	WriteFrame(payload []byte) error
}

// FrameReader is the read side of a channel half
type FrameReader interface {
	NextFrame() ([]byte, bool, error)
}

var (
	_ FrameWriter = (*bifaci.Writer)(nil)
	_ FrameReader = (*bifaci.Reader)(nil)
)

// Write encodes env and appends it to w as a single frame
func Write(w FrameWriter, env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	return w.WriteFrame(data)
}

// Send encodes p with userData and appends it to w as a single frame
func Send(w FrameWriter, p Payload, userData []byte) error {
	return Write(w, Envelope{Payload: p, UserData: userData})
}

// Next reads and decodes the next frame from r. ok is false at the end of the
// half. A DecodeError consumes the offending frame and ends the stream: the
// caller stops reading and discards the rest of the half. A bifaci.FrameError
// means the rest of the half is unreadable.
func Next(r FrameReader) (env Envelope, ok bool, err error) {
	frame, ok, err := r.NextFrame()
	if err != nil || !ok {
		return Envelope{}, false, err
	}
	env, err = Decode(frame)
	if err != nil {
		return Envelope{}, true, err
	}
	return env, true, nil
}

// ReadAll decodes the remaining frames of r up to the terminator. It stops at
// the first frame that fails to decode and returns the envelopes read before
// it together with the error; frames after it are left unread.
func ReadAll(r FrameReader) ([]Envelope, error) {
	var envs []Envelope
	for {
		env, ok, err := Next(r)
		if err != nil {
			return envs, err
		}
		if !ok {
			return envs, nil
		}
		envs = append(envs, env)
	}
}
