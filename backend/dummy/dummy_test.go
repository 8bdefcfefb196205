package dummy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/machinefabric/prodbg-go/message"
)

type harness struct {
	t    *testing.T
	ch   *bifaci.Channel
	inst *Instance
	log  bytes.Buffer
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t}
	ch, err := bifaci.NewChannel(64 * 1024)
	require.NoError(t, err)
	h.ch = ch

	inst, err := New(opts...).CreateInstance(func(name string) any {
		if name == backend.ServiceLog {
			return &h.log
		}
		return nil
	})
	require.NoError(t, err)
	h.inst = inst.(*Instance)
	t.Cleanup(h.inst.Destroy)
	return h
}

func (h *harness) send(p message.Payload, userData []byte) {
	h.t.Helper()
	require.NoError(h.t, message.Send(h.ch.Writer(), p, userData))
}

func (h *harness) tick(action backend.Action) (backend.DebugState, []message.Envelope) {
	h.t.Helper()
	require.NoError(h.t, h.ch.Swap())
	state := h.inst.Update(action, h.ch.Reader(), h.ch.Writer())
	require.True(h.t, h.ch.Reader().Drained(), "backend must consume every request")
	require.NoError(h.t, h.ch.Swap())
	replies, err := message.ReadAll(h.ch.Reader())
	require.NoError(h.t, err)
	return state, replies
}

func (h *harness) load() {
	h.t.Helper()
	h.send(&message.FileTargetRequest{Path: "game.prg"}, nil)
	state, _ := h.tick(backend.ActionNone)
	require.Equal(h.t, backend.Trace, state)
}

func locations(replies []message.Envelope) []uint64 {
	var out []uint64
	for _, r := range replies {
		if loc, ok := r.Payload.(*message.ExceptionLocationReply); ok {
			out = append(out, loc.Address)
		}
	}
	return out
}

func TestNoTargetIgnoresActions(t *testing.T) {
	h := newHarness(t)
	for _, a := range []backend.Action{backend.ActionNone, backend.ActionRun, backend.ActionStep, backend.ActionBreak} {
		state, replies := h.tick(a)
		assert.Equal(t, backend.NoTarget, state)
		assert.Empty(t, replies)
	}
}

func TestLoadTarget(t *testing.T) {
	h := newHarness(t)
	h.send(&message.FileTargetRequest{Path: "game.prg"}, []byte("load-1"))

	state, replies := h.tick(backend.ActionNone)
	assert.Equal(t, backend.Trace, state)
	require.Len(t, replies, 2)

	reply, ok := replies[0].Payload.(*message.TargetReply)
	require.True(t, ok)
	assert.Equal(t, message.StatusOK, reply.Status)
	assert.Equal(t, []byte("load-1"), replies[0].UserData)

	loc, ok := replies[1].Payload.(*message.ExceptionLocationReply)
	require.True(t, ok)
	assert.Equal(t, uint64(0xe003), loc.Address)
	assert.Equal(t, uint8(2), loc.AddressSize)

	// the location is only re-sent when it changes
	state, replies = h.tick(backend.ActionNone)
	assert.Equal(t, backend.Trace, state)
	assert.Empty(t, replies)
}

func TestStep(t *testing.T) {
	h := newHarness(t)
	h.load()

	state, replies := h.tick(backend.ActionStep)
	assert.Equal(t, backend.Trace, state)
	assert.Equal(t, []uint64{0xe006}, locations(replies))

	state, replies = h.tick(backend.ActionStepOver)
	assert.Equal(t, backend.Trace, state)
	assert.Equal(t, []uint64{0xe007}, locations(replies))
}

func TestStepOut(t *testing.T) {
	h := newHarness(t)
	h.load()

	// jmp at e003 then rti at e006 returns
	state, replies := h.tick(backend.ActionStepOut)
	assert.Equal(t, backend.Trace, state)
	assert.Equal(t, []uint64{0xe007}, locations(replies))
}

func TestRunUntilHalt(t *testing.T) {
	h := newHarness(t)
	h.load()

	state, _ := h.tick(backend.ActionRun)
	assert.Equal(t, backend.Running, state)
	state, _ = h.tick(backend.ActionNone)
	assert.Equal(t, backend.Running, state)

	state, replies := h.tick(backend.ActionNone)
	assert.Equal(t, backend.StopException, state)
	assert.Equal(t, []uint64{0xe028}, locations(replies))

	// stays stopped until told otherwise
	state, _ = h.tick(backend.ActionNone)
	assert.Equal(t, backend.StopException, state)
}

func TestRunUntilBreakpoint(t *testing.T) {
	h := newHarness(t)
	h.load()

	h.send(&message.BreakpointRequest{ID: 5, Address: 0xe00b}, nil)
	state, replies := h.tick(backend.ActionNone)
	assert.Equal(t, backend.Trace, state)
	require.Len(t, replies, 1)
	bp := replies[0].Payload.(*message.BreakpointReply)
	assert.Equal(t, uint32(5), bp.ID)
	assert.Equal(t, message.StatusOK, bp.Status)
	assert.Equal(t, []uint64{0xe00b}, h.inst.Breakpoints())

	state, replies = h.tick(backend.ActionRun)
	assert.Equal(t, backend.StopBreakpoint, state)
	assert.Equal(t, []uint64{0xe00b}, locations(replies))

	// removing it lets the run continue to the halt
	h.send(&message.BreakpointRequest{ID: 5, Address: 0xe00b, Remove: true}, nil)
	h.tick(backend.ActionNone)
	assert.Empty(t, h.inst.Breakpoints())
	for i := 0; i < 4; i++ {
		state, _ = h.tick(backend.ActionRun)
		if state != backend.Running {
			break
		}
	}
	assert.Equal(t, backend.StopException, state)
}

func TestBreakpointRejected(t *testing.T) {
	h := newHarness(t)
	h.load()

	h.send(&message.BreakpointRequest{ID: 1, Address: 0xe004}, nil)
	h.send(&message.BreakpointRequest{ID: 2, Filename: "main.s", Line: 10}, nil)
	_, replies := h.tick(backend.ActionNone)
	require.Len(t, replies, 2)
	for _, r := range replies {
		bp := r.Payload.(*message.BreakpointReply)
		assert.Equal(t, message.StatusFailed, bp.Status)
		assert.NotEmpty(t, bp.ErrorMessage)
	}
	assert.Empty(t, h.inst.Breakpoints())
}

func TestBreakAndStop(t *testing.T) {
	h := newHarness(t)
	h.load()

	state, _ := h.tick(backend.ActionRun)
	require.Equal(t, backend.Running, state)
	state, _ = h.tick(backend.ActionBreak)
	assert.Equal(t, backend.Trace, state)
	state, _ = h.tick(backend.ActionNone)
	assert.Equal(t, backend.Trace, state, "a broken target does not resume by itself")

	state, _ = h.tick(backend.ActionStop)
	assert.Equal(t, backend.NoTarget, state)
	state, _ = h.tick(backend.ActionStep)
	assert.Equal(t, backend.NoTarget, state)
}

func TestResetAction(t *testing.T) {
	h := newHarness(t)
	h.load()
	h.tick(backend.ActionStep)
	h.tick(backend.ActionStep)

	state, replies := h.tick(ActionReset)
	assert.Equal(t, backend.Trace, state)
	assert.Equal(t, []uint64{0xe003}, locations(replies))
}

func TestMemoryRequests(t *testing.T) {
	h := newHarness(t)

	h.send(&message.MemoryRequest{StartAddress: 0x100, Size: 16}, nil)
	h.send(&message.MemoryRequest{StartAddress: 0xfff0, Size: 0x40}, nil)
	h.send(&message.MemoryRequest{StartAddress: 0x10000, Size: 1}, nil)
	_, replies := h.tick(backend.ActionNone)
	require.Len(t, replies, 3)

	first := replies[0].Payload.(*message.MemoryReply)
	assert.Equal(t, uint64(0x100), first.StartAddress)
	assert.Len(t, first.Data, 16)

	clamped := replies[1].Payload.(*message.MemoryReply)
	assert.Len(t, clamped.Data, 16)
	assert.Equal(t, message.StatusOK, clamped.Status)

	outside := replies[2].Payload.(*message.MemoryReply)
	assert.Equal(t, message.StatusFailed, outside.Status)
	assert.Empty(t, outside.Data)

	// memory contents are the same for every instance
	other := newHarness(t)
	other.send(&message.MemoryRequest{StartAddress: 0x100, Size: 16}, nil)
	_, again := other.tick(backend.ActionNone)
	assert.Equal(t, first.Data, again[0].Payload.(*message.MemoryReply).Data)

	h.send(&message.CustomRequest{MessageID: CustomWriteMemory, Data: []byte{0x00, 0x01, 0xaa, 0xbb}}, nil)
	h.send(&message.MemoryRequest{StartAddress: 0x100, Size: 2}, nil)
	_, replies = h.tick(backend.ActionNone)
	require.Len(t, replies, 1)
	assert.Equal(t, []byte{0xaa, 0xbb}, replies[0].Payload.(*message.MemoryReply).Data)
}

func TestDisassembly(t *testing.T) {
	h := newHarness(t)
	h.send(&message.DisassemblyRequest{AddressStart: 0xe026, InstructionCount: 3}, []byte("dis"))
	h.send(&message.DisassemblyRequest{AddressStart: 0xe0f4, InstructionCount: 3}, nil)
	_, replies := h.tick(backend.ActionNone)
	require.Len(t, replies, 2)

	dis := replies[0].Payload.(*message.DisassemblyReply)
	assert.Equal(t, []byte("dis"), replies[0].UserData)
	assert.Equal(t, []message.DisassemblyLine{
		{Address: 0xe026, Text: "nop 0x65"},
		{Address: 0xe028, Text: "hlt"},
		{Address: 0xe029, Text: "jsr 0x6957"},
	}, dis.Lines)

	tail := replies[1].Payload.(*message.DisassemblyReply)
	require.Len(t, tail.Lines, 3)
	assert.Equal(t, "ldy #0x00", tail.Lines[1].Text)
	assert.Equal(t, "????", tail.Lines[2].Text)
	assert.Equal(t, uint64(0xe0f8), tail.Lines[2].Address)
}

func TestDisassemblyCountIsBounded(t *testing.T) {
	h := newHarness(t)
	h.send(&message.DisassemblyRequest{AddressStart: 0xe003, InstructionCount: 0xffffffff}, nil)
	_, replies := h.tick(backend.ActionNone)
	require.Len(t, replies, 1)

	dis := replies[0].Payload.(*message.DisassemblyReply)
	require.Len(t, dis.Lines, MaxDisassemblyLines)
	assert.Equal(t, uint64(0xe003), dis.Lines[0].Address)
	assert.Equal(t, "????", dis.Lines[MaxDisassemblyLines-1].Text)
}

func TestBadRequestEndsUpdate(t *testing.T) {
	h := newHarness(t)
	h.send(&message.RegistersRequest{}, []byte("first"))
	require.NoError(t, h.ch.Writer().WriteFrame([]byte{0xff}))
	h.send(&message.RegistersRequest{}, []byte("second"))
	require.NoError(t, h.ch.Swap())

	h.inst.Update(backend.ActionNone, h.ch.Reader(), h.ch.Writer())
	assert.False(t, h.ch.Drained())
	dropped, err := h.ch.Discard()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	require.NoError(t, h.ch.Swap())
	replies, err := message.ReadAll(h.ch.Reader())
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, []byte("first"), replies[0].UserData)
	assert.Contains(t, h.log.String(), "[Dummy] bad request")
}

func TestRegisters(t *testing.T) {
	h := newHarness(t)
	h.load()

	h.send(&message.CustomRequest{MessageID: CustomSetRegister, Data: append([]byte("a\x00"), 0x42)}, nil)
	h.send(&message.CustomRequest{MessageID: CustomSetRegister, Data: append([]byte("flags\x00"), 0xff)}, nil)
	h.send(&message.CustomRequest{MessageID: CustomSetRegister, Data: append([]byte("x\x00"), 1, 2)}, nil)
	h.send(&message.RegistersRequest{}, []byte("regs"))
	_, replies := h.tick(backend.ActionNone)
	require.Len(t, replies, 1)

	regs := replies[0].Payload.(*message.RegistersReply).Registers
	byName := map[string]message.Register{}
	for _, r := range regs {
		byName[r.Name] = r
	}
	assert.Equal(t, []byte{0x03, 0xe0}, byName["pc"].Data)
	assert.Equal(t, []byte{0x42}, byName["a"].Data)
	assert.Equal(t, []byte{0x30}, byName["flags"].Data)
	assert.True(t, byName["flags"].ReadOnly)
	assert.Equal(t, []byte{0x00}, byName["x"].Data)
	assert.Contains(t, h.log.String(), "read-only")
}

func TestSaveLoadState(t *testing.T) {
	h := newHarness(t)
	h.load()
	h.send(&message.BreakpointRequest{ID: 9, Address: 0xe020}, nil)
	h.send(&message.CustomRequest{MessageID: CustomSetRegister, Data: append([]byte("y\x00"), 7)}, nil)
	h.tick(backend.ActionStep)
	h.tick(backend.ActionStep)

	var saved bytes.Buffer
	require.NoError(t, h.inst.SaveState(&saved))

	restored := newHarness(t)
	require.NoError(t, restored.inst.LoadState(bytes.NewReader(saved.Bytes())))
	assert.Equal(t, h.inst.PC(), restored.inst.PC())
	assert.Equal(t, []uint64{0xe020}, restored.inst.Breakpoints())

	state, replies := restored.tick(backend.ActionNone)
	assert.Equal(t, backend.Trace, state)
	assert.Equal(t, []uint64{h.inst.PC()}, locations(replies))

	restored.send(&message.RegistersRequest{}, nil)
	_, replies = restored.tick(backend.ActionNone)
	for _, r := range replies[0].Payload.(*message.RegistersReply).Registers {
		if r.Name == "y" {
			assert.Equal(t, []byte{7}, r.Data)
		}
	}

	assert.Error(t, restored.inst.LoadState(bytes.NewReader([]byte{0xff})))
}

func TestFactoryAndName(t *testing.T) {
	p := Factory()
	assert.Equal(t, Name, p.Name())

	r := backend.NewRegistry(backend.WithRegistryLog(&bytes.Buffer{}), backend.WithFactory(FactoryName, Factory))
	require.NoError(t, r.Register(New(WithInstructionsPerTick(1))))
	_, ok := r.FindPlugin("Dummy Backend")
	assert.True(t, ok)
}
