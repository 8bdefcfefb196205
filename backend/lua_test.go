package backend

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/machinefabric/prodbg-go/message"
)

func newEchoInstance(t *testing.T, log *bytes.Buffer) Instance {
	t.Helper()
	path := writeFile(t, filepath.Join(t.TempDir(), "echo.lua"), echoScript)
	p, err := LoadLuaPlugin(path)
	require.NoError(t, err)

	inst, err := p.CreateInstance(func(name string) any {
		if name == ServiceLog {
			return log
		}
		return nil
	})
	require.NoError(t, err)
	return inst
}

// tick runs one update the way the session does and returns the replies
func tick(t *testing.T, ch *bifaci.Channel, inst Instance, action Action) (DebugState, []message.Envelope) {
	t.Helper()
	require.NoError(t, ch.Swap())
	state := inst.Update(action, ch.Reader(), ch.Writer())
	_, err := ch.Discard()
	require.NoError(t, err)
	require.NoError(t, ch.Swap())

	replies, err := message.ReadAll(ch.Reader())
	require.NoError(t, err)
	return state, replies
}

func TestLuaInstanceUpdate(t *testing.T) {
	var log bytes.Buffer
	inst := newEchoInstance(t, &log)
	ch, err := bifaci.NewChannel(8192)
	require.NoError(t, err)

	state, replies := tick(t, ch, inst, ActionNone)
	assert.Equal(t, NoTarget, state)
	assert.Empty(t, replies)

	require.NoError(t, message.Send(ch.Writer(), &message.FileTargetRequest{Path: "a.out"}, []byte("req-1")))
	state, replies = tick(t, ch, inst, ActionNone)
	assert.Equal(t, StopBreakpoint, state)
	require.Len(t, replies, 1)
	reply, ok := replies[0].Payload.(*message.TargetReply)
	require.True(t, ok, "payload is %T", replies[0].Payload)
	assert.Equal(t, message.StatusOK, reply.Status)
	assert.Equal(t, []byte("req-1"), replies[0].UserData)

	require.NoError(t, message.Send(ch.Writer(), &message.MemoryRequest{StartAddress: 0x200, Size: 3}, nil))
	state, replies = tick(t, ch, inst, ActionStep)
	assert.Equal(t, Trace, state)
	require.Len(t, replies, 1)
	mem, ok := replies[0].Payload.(*message.MemoryReply)
	require.True(t, ok)
	assert.Equal(t, uint64(0x200), mem.StartAddress)
	assert.Equal(t, []byte{0, 1, 2}, mem.Data)

	state, _ = tick(t, ch, inst, ActionRun)
	assert.Equal(t, Running, state)

	inst.Destroy()
	assert.Contains(t, log.String(), "[Lua:Lua Echo] bye")
	// a second destroy is a no-op
	inst.Destroy()
}

func TestLuaInstanceSaveLoad(t *testing.T) {
	var log bytes.Buffer
	inst := newEchoInstance(t, &log)
	defer inst.Destroy()
	ch, err := bifaci.NewChannel(4096)
	require.NoError(t, err)

	require.NoError(t, message.Send(ch.Writer(), &message.FileTargetRequest{Path: "a.out"}, nil))
	tick(t, ch, inst, ActionNone)
	tick(t, ch, inst, ActionStep)
	tick(t, ch, inst, ActionStep)

	var saved bytes.Buffer
	require.NoError(t, inst.(StateSaver).SaveState(&saved))
	assert.Equal(t, "2", saved.String())

	require.NoError(t, inst.(StateLoader).LoadState(strings.NewReader("40")))
	saved.Reset()
	require.NoError(t, inst.(StateSaver).SaveState(&saved))
	assert.Equal(t, "40", saved.String())
}

func TestLuaInstanceStopsAtBadRequest(t *testing.T) {
	var log bytes.Buffer
	inst := newEchoInstance(t, &log)
	defer inst.Destroy()
	ch, err := bifaci.NewChannel(8192)
	require.NoError(t, err)

	w := ch.Writer()
	require.NoError(t, message.Send(w, &message.MemoryRequest{StartAddress: 16, Size: 3}, nil))
	require.NoError(t, w.WriteFrame([]byte{0xff}))
	require.NoError(t, message.Send(w, &message.FileTargetRequest{Path: "a.out"}, nil))

	state, replies := tick(t, ch, inst, ActionNone)
	assert.Equal(t, NoTarget, state, "the request after the bad frame is never seen")
	require.Len(t, replies, 1)
	assert.Equal(t, message.KindMemoryReply, replies[0].Kind())
	assert.Contains(t, log.String(), "bad request")
}

func TestLuaInstanceBadReplies(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "bad.lua"), `
name = "Bad"
function create_instance() return {} end
function destroy_instance(inst) end
function update(inst, action, requests)
  if action == "break" then
    error("boom")
  end
  return "trace", {
    { kind = "target_reply", status = 0, bogus = 1 },
    { kind = "no_such_kind" },
    "not a table",
    { kind = "breakpoint_reply", id = 7, status = 1, error_message = "no code at line" },
  }
end
`)
	p, err := LoadLuaPlugin(path)
	require.NoError(t, err)
	var log bytes.Buffer
	inst, err := p.CreateInstance(func(string) any { return &log })
	require.NoError(t, err)
	defer inst.Destroy()

	ch, err := bifaci.NewChannel(4096)
	require.NoError(t, err)
	state, replies := tick(t, ch, inst, ActionNone)
	assert.Equal(t, Trace, state)
	require.Len(t, replies, 1, "only the valid reply is sent")
	bp := replies[0].Payload.(*message.BreakpointReply)
	assert.Equal(t, uint32(7), bp.ID)
	assert.Equal(t, "no code at line", bp.ErrorMessage)

	// a script error keeps the previous state
	state, replies = tick(t, ch, inst, ActionBreak)
	assert.Equal(t, Trace, state)
	assert.Empty(t, replies)
	assert.Contains(t, log.String(), "update failed")
	assert.Contains(t, log.String(), "unknown kind")
}
