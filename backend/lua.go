package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/machinefabric/prodbg-go/message"
)

// Globals a backend script must define
var requiredScriptGlobals = []string{"create_instance", "destroy_instance", "update"}

// LuaPlugin is a backend implemented by a Lua script. Messages cross into
// the script as tables of the form {kind = "memory_request", user_data = "...",
// start_address = 0, size = 16}; byte fields are base64 strings.
type LuaPlugin struct {
	name string
	path string
}

// LoadLuaPlugin loads the script at path once to read its name and check the
// required entry points
func LoadLuaPlugin(path string) (*LuaPlugin, error) {
	L, err := newScriptState(path)
	if err != nil {
		return nil, err
	}
	defer L.Close()

	name, ok := L.GetGlobal("name").(lua.LString)
	if !ok || name == "" {
		return nil, NewMissingSymbolError(path, "name")
	}
	for _, fn := range requiredScriptGlobals {
		if _, ok := L.GetGlobal(fn).(*lua.LFunction); !ok {
			return nil, NewMissingSymbolError(path, fn)
		}
	}

	return &LuaPlugin{name: string(name), path: path}, nil
}

// newScriptState creates a state with only the safe standard libraries and
// runs the script in it
func newScriptState(path string) (*lua.LState, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(path, err)
		}
		return nil, NewOpenError(path, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// no file or process access from scripts
	for _, name := range []string{"dofile", "loadfile", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, NewScriptError(path, err)
	}
	return L, nil
}

func (p *LuaPlugin) Name() string {
	return p.name
}

// Path returns the script file the plugin was loaded from
func (p *LuaPlugin) Path() string {
	return p.path
}

// CreateInstance runs the script in a fresh state owned by the instance
func (p *LuaPlugin) CreateInstance(services ServiceFunc) (Instance, error) {
	L, err := newScriptState(p.path)
	if err != nil {
		return nil, err
	}

	inst := &luaInstance{
		L:    L,
		name: p.name,
		log:  LogWriter(services),
	}
	L.SetGlobal("prodbg_log", L.NewFunction(inst.luaLog))

	ret, err := inst.call("create_instance", 1)
	if err != nil {
		L.Close()
		return nil, NewScriptError(p.path, err)
	}
	inst.handle = ret[0]
	return inst, nil
}

type luaInstance struct {
	L      *lua.LState
	name   string
	handle lua.LValue
	state  DebugState
	log    io.Writer
}

func (in *luaInstance) logf(format string, args ...any) {
	fmt.Fprintf(in.log, "[Lua:%s] "+format+"\n", append([]any{in.name}, args...)...)
}

func (in *luaInstance) luaLog(L *lua.LState) int {
	in.logf("%s", L.CheckString(1))
	return 0
}

// call invokes a global script function with the instance handle as its
// first argument and returns nret results
func (in *luaInstance) call(fn string, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	f, ok := in.L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("script does not define %s", fn)
	}
	if in.handle != nil {
		args = append([]lua.LValue{in.handle}, args...)
	}
	if err := in.L.CallByParam(lua.P{Fn: f, NRet: nret, Protect: true}, args...); err != nil {
		return nil, err
	}
	ret := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		ret[i] = in.L.Get(-nret + i)
	}
	in.L.Pop(nret)
	return ret, nil
}

// Update hands the decoded requests to the script's update function and
// writes the replies it returns. Script errors are logged and leave the
// previous state in place.
func (in *luaInstance) Update(action Action, reader *bifaci.Reader, writer *bifaci.Writer) DebugState {
	requests := in.L.NewTable()
	for {
		env, ok, err := message.Next(reader)
		if err != nil {
			in.logf("bad request, ignoring the rest: %v", err)
			break
		}
		if !ok {
			break
		}
		tbl, err := envelopeToTable(in.L, env)
		if err != nil {
			in.logf("dropping %s request: %v", env.Kind(), err)
			continue
		}
		requests.Append(tbl)
	}

	ret, err := in.call("update", 2, lua.LString(action.String()), requests)
	if err != nil {
		in.logf("update failed: %v", err)
		return in.state
	}

	if name, ok := ret[0].(lua.LString); ok {
		state, known := ParseDebugState(string(name))
		if !known {
			in.logf("update returned unknown state %q", string(name))
		} else {
			in.state = state
		}
	}

	if replies, ok := ret[1].(*lua.LTable); ok {
		for i := 1; i <= replies.Len(); i++ {
			tbl, ok := replies.RawGetInt(i).(*lua.LTable)
			if !ok {
				in.logf("reply %d is not a table", i)
				continue
			}
			env, err := tableToEnvelope(tbl)
			if err != nil {
				in.logf("reply %d: %v", i, err)
				continue
			}
			if err := message.Write(writer, env); err != nil {
				in.logf("reply %d (%s) not sent: %v", i, env.Kind(), err)
			}
		}
	}

	return in.state
}

func (in *luaInstance) Destroy() {
	if in.L == nil {
		return
	}
	if _, err := in.call("destroy_instance", 0); err != nil {
		in.logf("destroy_instance failed: %v", err)
	}
	in.L.Close()
	in.L = nil
}

// SaveState stores whatever string the script's save_state returns
func (in *luaInstance) SaveState(w io.Writer) error {
	if _, ok := in.L.GetGlobal("save_state").(*lua.LFunction); !ok {
		return nil
	}
	ret, err := in.call("save_state", 1)
	if err != nil {
		return fmt.Errorf("save_state: %w", err)
	}
	s, ok := ret[0].(lua.LString)
	if !ok {
		return fmt.Errorf("save_state returned %s, want string", ret[0].Type())
	}
	_, err = io.WriteString(w, string(s))
	return err
}

func (in *luaInstance) LoadState(r io.Reader) error {
	if _, ok := in.L.GetGlobal("load_state").(*lua.LFunction); !ok {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := in.call("load_state", 0, lua.LString(data)); err != nil {
		return fmt.Errorf("load_state: %w", err)
	}
	return nil
}

// envelopeToTable flattens an envelope into a Lua table keyed by the
// payload's JSON field names
func envelopeToTable(L *lua.LState, env message.Envelope) (*lua.LTable, error) {
	fields := map[string]any{}
	if _, unknown := env.Payload.(*message.Unknown); env.Payload != nil && !unknown {
		data, err := json.Marshal(env.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, err
		}
	}

	tbl, _ := toLua(L, fields).(*lua.LTable)
	if tbl == nil {
		tbl = L.NewTable()
	}
	tbl.RawSetString("kind", lua.LString(env.Kind().String()))
	if env.UserData != nil {
		tbl.RawSetString("user_data", lua.LString(env.UserData))
	}
	return tbl, nil
}

// tableToEnvelope builds an envelope from a script reply table. Fields the
// payload does not define are rejected.
func tableToEnvelope(tbl *lua.LTable) (message.Envelope, error) {
	kindName, ok := tbl.RawGetString("kind").(lua.LString)
	if !ok {
		return message.Envelope{}, fmt.Errorf("reply has no kind")
	}
	kind, ok := message.ParseKind(string(kindName))
	if !ok {
		return message.Envelope{}, fmt.Errorf("unknown kind %q", string(kindName))
	}

	var env message.Envelope
	if ud, ok := tbl.RawGetString("user_data").(lua.LString); ok {
		env.UserData = []byte(ud)
	}
	if kind == message.KindNone {
		return env, nil
	}

	fields := map[string]any{}
	tbl.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok || key == "kind" || key == "user_data" {
			return
		}
		fields[string(key)] = fromLua(v)
	})

	data, err := json.Marshal(fields)
	if err != nil {
		return message.Envelope{}, err
	}
	p := message.NewPayload(kind)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return message.Envelope{}, fmt.Errorf("%s: %w", kind, err)
	}
	env.Payload = p
	return env, nil
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts script values for JSON encoding. Tables with keys 1..n
// become arrays and empty tables become nil.
func fromLua(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(val)
	case *lua.LTable:
		n := val.Len()
		count := 0
		val.ForEach(func(_, _ lua.LValue) { count++ })
		if count == 0 {
			return nil
		}
		if n == count {
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				arr[i-1] = fromLua(val.RawGetInt(i))
			}
			return arr
		}
		m := make(map[string]any, count)
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = fromLua(item)
		})
		return m
	default:
		return nil
	}
}

// isScript reports whether path names a Lua backend script
func isScript(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".lua")
}
