package message

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawEnvelope builds an envelope table by hand, bypassing Encode's checks
func rawEnvelope(t *testing.T, kind uint8, payload any, userData []byte) []byte {
	t.Helper()
	wire := wireEnvelope{Kind: kind, UserData: userData}
	if payload != nil {
		raw, err := cbor.Marshal(payload)
		require.NoError(t, err)
		wire.Payload = raw
	}
	data, err := cbor.Marshal(&wire)
	require.NoError(t, err)
	return data
}

func requireDecodeError(t *testing.T, err error, want DecodeErrorType) *DecodeError {
	t.Helper()
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, want, de.Type, "got %v", err)
	return de
}

// TEST201: A request survives encode and decode with its kind, fields and user data
func Test201_file_target_request(t *testing.T) {
	data, err := EncodePayload(&FileTargetRequest{Path: "/tmp/a.out"}, []byte{0xca, 0xfe})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindFileTargetRequest, env.Kind())
	assert.Equal(t, []byte{0xca, 0xfe}, env.UserData)

	req, ok := env.Payload.(*FileTargetRequest)
	require.True(t, ok, "payload is %T", env.Payload)
	assert.Equal(t, "/tmp/a.out", req.Path)
}

// TEST202: Nested reply tables keep their order and contents
func Test202_registers_and_disassembly_replies(t *testing.T) {
	regs := &RegistersReply{Registers: []Register{
		{Name: "pc", Size: 2, Data: []byte{0x03, 0xe0}},
		{Name: "sp", Size: 1, Data: []byte{0xff}},
		{Name: "flags", Size: 1, ReadOnly: true, Data: []byte{0x30}},
	}}
	data, err := EncodePayload(regs, nil)
	require.NoError(t, err)
	env, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, regs, env.Payload)
	assert.Nil(t, env.UserData)

	dis := &DisassemblyReply{AddressWidth: 2, Lines: []DisassemblyLine{
		{Address: 0xe003, Text: "sei"},
		{Address: 0xe004, Text: "cld"},
	}}
	data, err = EncodePayload(dis, nil)
	require.NoError(t, err)
	env, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, dis, env.Payload)
}

// TEST203: An envelope of kind none carries no payload and decodes to a nil payload
func Test203_kind_none(t *testing.T) {
	data, err := Encode(Envelope{UserData: []byte("ping")})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	assert.Nil(t, env.Payload)
	assert.Equal(t, KindNone, env.Kind())
	assert.Equal(t, []byte("ping"), env.UserData)

	_, err = Decode(rawEnvelope(t, 0, cbor.Tag{Number: KindTargetReply.Tag(), Content: map[int]any{}}, nil))
	requireDecodeError(t, err, DecodeErrorTypeMalformed)
}

// TEST204: A payload whose tag belongs to another kind is rejected as spoofed
func Test204_kind_spoofing_rejected(t *testing.T) {
	spoofed := cbor.Tag{Number: KindTargetReply.Tag(), Content: map[int]any{0: 1}}
	_, err := Decode(rawEnvelope(t, uint8(KindFileTargetRequest), spoofed, nil))
	de := requireDecodeError(t, err, DecodeErrorTypeKindMismatch)
	assert.Equal(t, KindFileTargetRequest, de.Kind)

	untagged := map[int]any{0: "/bin/true"}
	_, err = Decode(rawEnvelope(t, uint8(KindFileTargetRequest), untagged, nil))
	requireDecodeError(t, err, DecodeErrorTypeKindMismatch)
}

// TEST205: Unknown fields inside a payload table are rejected
func Test205_unknown_payload_field_rejected(t *testing.T) {
	payload := cbor.Tag{Number: KindFileTargetRequest.Tag(), Content: map[int]any{0: "/bin/true", 9: 1}}
	_, err := Decode(rawEnvelope(t, uint8(KindFileTargetRequest), payload, nil))
	de := requireDecodeError(t, err, DecodeErrorTypeMalformed)
	assert.Equal(t, KindFileTargetRequest, de.Kind)
}

// TEST206: A well-formed payload that breaks its own invariants is reported as invalid
func Test206_payload_verification(t *testing.T) {
	payload := cbor.Tag{Number: KindFileTargetRequest.Tag(), Content: map[int]any{}}
	_, err := Decode(rawEnvelope(t, uint8(KindFileTargetRequest), payload, nil))
	requireDecodeError(t, err, DecodeErrorTypeInvalid)

	_, err = EncodePayload(&MemoryRequest{StartAddress: 0x1000}, nil)
	assert.Error(t, err, "zero sized memory request must not be encoded")

	_, err = EncodePayload(&RegistersReply{Registers: []Register{{Name: "a", Size: 2, Data: []byte{1}}}}, nil)
	assert.Error(t, err)
}

// TEST207: Garbage, trailing bytes and duplicate keys are malformed envelopes
func Test207_malformed_envelopes(t *testing.T) {
	_, err := Decode([]byte{0xff, 0x00, 0x13})
	requireDecodeError(t, err, DecodeErrorTypeMalformed)

	good, err := EncodePayload(&ExceptionLocationRequest{}, nil)
	require.NoError(t, err)
	_, err = Decode(append(good, 0x00))
	requireDecodeError(t, err, DecodeErrorTypeMalformed)

	// {0: 3, 0: 3}
	_, err = Decode([]byte{0xa2, 0x00, 0x03, 0x00, 0x03})
	requireDecodeError(t, err, DecodeErrorTypeMalformed)

	// a known kind without its payload
	_, err = Decode(rawEnvelope(t, uint8(KindTargetReply), nil, nil))
	requireDecodeError(t, err, DecodeErrorTypeMalformed)
}

// TEST208: Kinds newer than this build decode to Unknown and can be re-encoded verbatim
func Test208_unknown_kind_passthrough(t *testing.T) {
	const future = 200
	payload := cbor.Tag{Number: Kind(future).Tag(), Content: map[int]any{0: "from the future"}}
	data := rawEnvelope(t, future, payload, []byte{7})

	env, err := Decode(data)
	require.NoError(t, err)
	unknown, ok := env.Payload.(*Unknown)
	require.True(t, ok, "payload is %T", env.Payload)
	assert.Equal(t, Kind(future), unknown.Kind())
	assert.Equal(t, "UNKNOWN(200)", unknown.Kind().String())

	again, err := Encode(env)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

// TEST209: Decoded envelopes do not alias the frame they came from
func Test209_decode_copies(t *testing.T) {
	data, err := EncodePayload(&MemoryReply{StartAddress: 0x10, Data: []byte{1, 2, 3}}, []byte{9})
	require.NoError(t, err)

	env, err := Decode(data)
	require.NoError(t, err)
	for i := range data {
		data[i] = 0
	}
	reply := env.Payload.(*MemoryReply)
	assert.Equal(t, []byte{1, 2, 3}, reply.Data)
	assert.Equal(t, []byte{9}, env.UserData)
}

// TEST210: An unknown kind in the middle of a half does not stop the frames after it
func Test210_unknown_kind_in_stream(t *testing.T) {
	ch, err := bifaci.NewChannel(4096)
	require.NoError(t, err)
	w := ch.Writer()

	require.NoError(t, Send(w, &ExceptionLocationRequest{}, nil))
	future := cbor.Tag{Number: Kind(99).Tag(), Content: map[int]any{0: 1}}
	require.NoError(t, w.WriteFrame(rawEnvelope(t, 99, future, nil)))
	require.NoError(t, Send(w, &DisassemblyRequest{AddressStart: 0xe003, InstructionCount: 4}, []byte("id")))
	require.NoError(t, ch.Swap())

	envs, err := ReadAll(ch.Reader())
	require.NoError(t, err)
	require.Len(t, envs, 3)
	assert.Equal(t, KindExceptionLocationRequest, envs[0].Kind())
	assert.Equal(t, Kind(99), envs[1].Kind())
	assert.Equal(t, KindDisassemblyRequest, envs[2].Kind())
	assert.Equal(t, []byte("id"), envs[2].UserData)
}

// TEST211: Reading stops at the first frame that fails to decode, the frames after it stay unread
func Test211_decode_error_stops_stream(t *testing.T) {
	ch, err := bifaci.NewChannel(4096)
	require.NoError(t, err)
	w := ch.Writer()

	require.NoError(t, Send(w, &ExceptionLocationRequest{}, nil))
	require.NoError(t, w.WriteFrame([]byte{0xff}))
	require.NoError(t, Send(w, &TargetReply{Status: StatusOK}, nil))
	require.NoError(t, ch.Swap())

	envs, err := ReadAll(ch.Reader())
	assert.True(t, IsDecodeError(err))
	require.Len(t, envs, 1)
	assert.Equal(t, KindExceptionLocationRequest, envs[0].Kind())
	assert.False(t, ch.Drained())

	dropped, err := ch.Discard()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	require.NoError(t, ch.Swap())
}

// TEST212: Every known kind has a payload type, a name and a distinct tag
func Test212_kind_catalog(t *testing.T) {
	tags := map[uint64]Kind{}
	for k := KindNone + 1; k <= kindMax; k++ {
		p := NewPayload(k)
		require.NotNil(t, p, "kind %d", k)
		assert.Equal(t, k, p.Kind())
		assert.NotContains(t, k.String(), "UNKNOWN")

		parsed, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, k, parsed)

		_, dup := tags[k.Tag()]
		assert.False(t, dup)
		tags[k.Tag()] = k
	}
	assert.Nil(t, NewPayload(KindNone))
	assert.Nil(t, NewPayload(kindMax+1))
	assert.False(t, (kindMax + 1).Known())
}
