package message

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys of the envelope table
const (
	keyKind     = 0 // kind (u8)
	keyPayload  = 1 // payload (tagged table, absent for KindNone)
	keyUserData = 2 // user_data (bstr, optional)
)

// Envelope is the decoded form of one frame body
type Envelope struct {
	Payload  Payload
	UserData []byte
}

// Kind returns the kind of the carried payload, KindNone when there is none
func (e Envelope) Kind() Kind {
	if e.Payload == nil {
		return KindNone
	}
	return e.Payload.Kind()
}

// wireEnvelope is the envelope table as it appears on the wire. The payload
// stays raw here so the envelope can be verified before the payload is.
type wireEnvelope struct {
	Kind     uint8           `cbor:"0,keyasint"`
	Payload  cbor.RawMessage `cbor:"1,keyasint,omitempty"`
	UserData []byte          `cbor:"2,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	// payload tables, every registered type must carry its kind's tag
	payloadDecMode cbor.DecMode
	// envelope table and tag peeking, no registered tags
	envelopeDecMode cbor.DecMode
)

func init() {
	tags := cbor.NewTagSet()
	opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
	for kind := KindNone + 1; kind <= kindMax; kind++ {
		contentType := reflect.TypeOf(NewPayload(kind)).Elem()
		if err := tags.Add(opts, contentType, kind.Tag()); err != nil {
			panic(fmt.Sprintf("message: registering tag for %s: %v", kind, err))
		}
	}

	var err error
	encMode, err = cbor.CoreDetEncOptions().EncModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("message: building encoder: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		IndefLength:       cbor.IndefLengthForbidden,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}
	payloadDecMode, err = decOpts.DecModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("message: building payload decoder: %v", err))
	}
	envelopeDecMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("message: building envelope decoder: %v", err))
	}
}

// Encode serializes an envelope. The payload table is built first and then
// wrapped by the envelope table.
func Encode(env Envelope) ([]byte, error) {
	wire := wireEnvelope{
		Kind:     uint8(env.Kind()),
		UserData: env.UserData,
	}

	switch p := env.Payload.(type) {
	case nil:
		// kind none, nothing to wrap
	case *Unknown:
		if err := p.Verify(); err != nil {
			return nil, fmt.Errorf("refusing to encode unknown payload: %w", err)
		}
		if len(p.Raw) == 0 {
			return nil, fmt.Errorf("unknown payload of kind %d has no raw table", uint8(p.Code))
		}
		wire.Payload = p.Raw
	default:
		if err := p.Verify(); err != nil {
			return nil, fmt.Errorf("refusing to encode invalid %s payload: %w", p.Kind(), err)
		}
		raw, err := encMode.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", p.Kind(), err)
		}
		wire.Payload = raw
	}

	data, err := encMode.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return data, nil
}

// EncodePayload is shorthand for Encode(Envelope{Payload: p, UserData: userData})
func EncodePayload(p Payload, userData []byte) ([]byte, error) {
	return Encode(Envelope{Payload: p, UserData: userData})
}

// Decode parses a frame body. The envelope table is verified first; the
// payload is then checked against the tag of the declared kind, decoded
// strictly and verified. Kinds unknown to this build decode to *Unknown
// without error. The result never aliases data.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := envelopeDecMode.Unmarshal(data, &wire); err != nil {
		return Envelope{}, malformed(err, "%v", err)
	}

	kind := Kind(wire.Kind)
	env := Envelope{UserData: wire.UserData}

	if kind == KindNone {
		if len(wire.Payload) != 0 {
			return Envelope{}, malformed(nil, "kind none carries a payload")
		}
		return env, nil
	}
	if len(wire.Payload) == 0 {
		return Envelope{}, malformed(nil, "kind %s has no payload", kind)
	}

	var tag cbor.RawTag
	if err := envelopeDecMode.Unmarshal(wire.Payload, &tag); err != nil {
		return Envelope{}, kindMismatch(kind, "payload is not a tagged table")
	}
	if tag.Number != kind.Tag() {
		return Envelope{}, kindMismatch(kind, "payload tag %d, want %d", tag.Number, kind.Tag())
	}

	if !kind.Known() {
		env.Payload = &Unknown{Code: kind, Raw: wire.Payload}
		return env, nil
	}

	p := NewPayload(kind)
	if err := payloadDecMode.Unmarshal(wire.Payload, p); err != nil {
		de := malformed(err, "%s payload: %v", kind, err)
		de.Kind = kind
		return Envelope{}, de
	}
	if err := p.Verify(); err != nil {
		return Envelope{}, invalid(kind, err)
	}

	env.Payload = p
	return env, nil
}
