// Package dummy is a self-contained backend that simulates a small 6502
// target. It needs no debugger or emulator and is used to exercise the
// front-end and the transport.
package dummy

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sort"

	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/machinefabric/prodbg-go/message"
)

const (
	// Name is the display name the plugin registers under
	Name = "Dummy Backend"

	// FactoryName is the factory builtin manifests refer to
	FactoryName = "dummy"

	// MemorySize is the size of the simulated address space
	MemorySize = 64 * 1024

	// DefaultInstructionsPerTick bounds how far a running target advances per update
	DefaultInstructionsPerTick = 8

	// CustomSetRegister is the custom_request id for writing a register. The
	// data is the register name, a zero byte, then the new value.
	CustomSetRegister uint32 = 1

	// CustomWriteMemory is the custom_request id for writing memory. The data
	// is a little-endian u16 address followed by the bytes to store.
	CustomWriteMemory uint32 = 2

	// ActionReset moves a loaded target back to its entry point
	ActionReset = backend.ActionCustom

	// MaxDisassemblyLines bounds the lines in one disassembly reply
	MaxDisassemblyLines = 256
)

const memorySeed = 0xc0cac01a

// Plugin is the dummy backend plugin
type Plugin struct {
	instructionsPerTick int
}

// Option configures the plugin
type Option func(*Plugin)

// WithInstructionsPerTick sets how many instructions a running target
// executes per update
func WithInstructionsPerTick(n int) Option {
	return func(p *Plugin) {
		if n > 0 {
			p.instructionsPerTick = n
		}
	}
}

// New creates the dummy plugin
func New(opts ...Option) *Plugin {
	p := &Plugin{instructionsPerTick: DefaultInstructionsPerTick}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Factory adapts New for backend.Registry.RegisterFactory
func Factory() backend.Plugin {
	return New()
}

func (p *Plugin) Name() string {
	return Name
}

func (p *Plugin) CreateInstance(services backend.ServiceFunc) (backend.Instance, error) {
	inst := &Instance{
		log:         backend.LogWriter(services),
		perTick:     p.instructionsPerTick,
		memory:      make([]byte, MemorySize),
		breakpoints: make(map[uint64]uint32),
		prevPC:      noLocation,
	}

	rng := rand.New(rand.NewSource(memorySeed))
	rng.Read(inst.memory)

	inst.registers = []register{
		{name: "pc", size: 2},
		{name: "sp", size: 1, data: []byte{0xff}},
		{name: "a", size: 1, data: []byte{0x00}},
		{name: "x", size: 1, data: []byte{0x00}},
		{name: "y", size: 1, data: []byte{0x00}},
		{name: "flags", size: 1, readOnly: true, data: []byte{0x30}},
	}
	inst.setPC(startAddress)
	return inst, nil
}

// noLocation never matches a program address, so the first update after a
// load always reports the location
const noLocation = ^uint64(0)

type register struct {
	name     string
	size     uint8
	readOnly bool
	data     []byte
}

// Instance is one simulated target
type Instance struct {
	log     io.Writer
	perTick int

	loaded  bool
	target  string
	running bool
	state   backend.DebugState

	pc     uint64
	prevPC uint64

	memory      []byte
	registers   []register
	breakpoints map[uint64]uint32 // address -> requester id
}

func (in *Instance) logf(format string, args ...any) {
	fmt.Fprintf(in.log, "[Dummy] "+format+"\n", args...)
}

// Update applies the action, answers every queued request and reports the
// stop location when it changed
func (in *Instance) Update(action backend.Action, reader *bifaci.Reader, writer *bifaci.Writer) backend.DebugState {
	in.applyAction(action)

	for {
		env, ok, err := message.Next(reader)
		if err != nil {
			// the rest of the half is left for the driver to discard
			in.logf("bad request: %v", err)
			break
		}
		if !ok {
			break
		}
		in.handle(env, writer)
	}

	if in.loaded && in.pc != in.prevPC {
		in.send(writer, &message.ExceptionLocationReply{Address: in.pc, AddressSize: 2}, nil)
		in.prevPC = in.pc
	}

	return in.state
}

func (in *Instance) applyAction(action backend.Action) {
	if !in.loaded {
		if action != backend.ActionNone {
			in.logf("%s ignored, no target loaded", action)
		}
		in.state = backend.NoTarget
		return
	}

	switch action {
	case backend.ActionNone:
		if in.running {
			in.run()
		}
	case backend.ActionRun:
		in.running = true
		in.run()
	case backend.ActionBreak:
		in.running = false
		in.state = backend.Trace
	case backend.ActionStep:
		in.running = false
		in.stepInto()
	case backend.ActionStepOver:
		in.running = false
		in.stepOver()
	case backend.ActionStepOut:
		in.running = false
		in.stepOut()
	case backend.ActionStop:
		in.running = false
		in.loaded = false
		in.target = ""
		in.state = backend.NoTarget
		in.logf("target stopped")
	case ActionReset:
		in.running = false
		in.setPC(startAddress)
		in.state = backend.Trace
	default:
		in.logf("unsupported action %s", action)
	}
}

// execute advances one instruction and returns the text of the instruction
// that was executed
func (in *Instance) execute() string {
	ins, _ := instructionAt(in.pc)
	in.setPC(next(in.pc))
	return ins.text
}

// stopAt checks the new location, reporting whether execution must stop
func (in *Instance) stopAt() bool {
	if ins, ok := instructionAt(in.pc); ok && ins.text == "hlt" {
		in.running = false
		in.state = backend.StopException
		return true
	}
	if _, ok := in.breakpoints[in.pc]; ok {
		in.running = false
		in.state = backend.StopBreakpoint
		return true
	}
	return false
}

func (in *Instance) run() {
	for n := 0; n < in.perTick; n++ {
		in.execute()
		if in.stopAt() {
			return
		}
	}
	in.state = backend.Running
}

func (in *Instance) stepInto() {
	in.execute()
	if !in.stopAt() {
		in.state = backend.Trace
	}
}

// stepOver treats a subroutine call as one step. The listing is linear, so
// the call lands on the next entry like any other instruction.
func (in *Instance) stepOver() {
	in.stepInto()
}

// stepOut runs until the current routine returns, bounded by one pass over
// the listing
func (in *Instance) stepOut() {
	for n := 0; n < len(program); n++ {
		text := in.execute()
		if in.stopAt() {
			return
		}
		if text == "rts" || text == "rti" {
			break
		}
	}
	in.state = backend.Trace
}

func (in *Instance) setPC(pc uint64) {
	in.pc = pc
	in.registers[0].data = []byte{byte(pc), byte(pc >> 8)}
}

func (in *Instance) send(w *bifaci.Writer, p message.Payload, userData []byte) {
	if err := message.Send(w, p, userData); err != nil {
		in.logf("%s reply dropped: %v", p.Kind(), err)
	}
}

func (in *Instance) handle(env message.Envelope, w *bifaci.Writer) {
	switch req := env.Payload.(type) {
	case *message.FileTargetRequest:
		in.loaded = true
		in.target = req.Path
		in.running = false
		in.setPC(startAddress)
		in.prevPC = noLocation
		in.state = backend.Trace
		in.logf("loaded %s", req.Path)
		in.send(w, &message.TargetReply{Status: message.StatusOK}, env.UserData)

	case *message.ExceptionLocationRequest:
		if !in.loaded {
			in.send(w, &message.ExceptionLocationReply{}, env.UserData)
			return
		}
		in.send(w, &message.ExceptionLocationReply{Address: in.pc, AddressSize: 2}, env.UserData)
		in.prevPC = in.pc

	case *message.RegistersRequest:
		regs := make([]message.Register, len(in.registers))
		for i, r := range in.registers {
			regs[i] = message.Register{Name: r.name, Size: r.size, ReadOnly: r.readOnly, Data: append([]byte(nil), r.data...)}
		}
		in.send(w, &message.RegistersReply{Registers: regs}, env.UserData)

	case *message.MemoryRequest:
		in.send(w, in.readMemory(req), env.UserData)

	case *message.DisassemblyRequest:
		reply := &message.DisassemblyReply{AddressWidth: 2}
		count := int(min(req.InstructionCount, MaxDisassemblyLines))
		for _, l := range listing(req.AddressStart, count) {
			reply.Lines = append(reply.Lines, message.DisassemblyLine{Address: l.address, Text: l.text})
		}
		in.send(w, reply, env.UserData)

	case *message.BreakpointRequest:
		in.send(w, in.breakpoint(req), env.UserData)

	case *message.CustomRequest:
		in.custom(req)

	case nil:
		// kind none carries nothing to answer

	default:
		in.logf("no handler for %s", env.Kind())
	}
}

// readMemory clamps the requested range to the address space
func (in *Instance) readMemory(req *message.MemoryRequest) *message.MemoryReply {
	start := req.StartAddress
	if start >= MemorySize {
		return &message.MemoryReply{StartAddress: start, Status: message.StatusFailed}
	}
	end := start + req.Size
	if end > MemorySize || end < start {
		end = MemorySize
	}
	return &message.MemoryReply{
		StartAddress: start,
		Data:         append([]byte(nil), in.memory[start:end]...),
		Status:       message.StatusOK,
	}
}

func (in *Instance) breakpoint(req *message.BreakpointRequest) *message.BreakpointReply {
	if req.Filename != "" {
		return &message.BreakpointReply{ID: req.ID, Status: message.StatusFailed, ErrorMessage: "no source information for this target"}
	}
	if _, ok := instructionAt(req.Address); !ok {
		return &message.BreakpointReply{ID: req.ID, Status: message.StatusFailed, ErrorMessage: fmt.Sprintf("no instruction at 0x%04x", req.Address)}
	}
	if req.Remove {
		delete(in.breakpoints, req.Address)
	} else {
		in.breakpoints[req.Address] = req.ID
	}
	return &message.BreakpointReply{ID: req.ID, Status: message.StatusOK}
}

func (in *Instance) custom(req *message.CustomRequest) {
	switch req.MessageID {
	case CustomSetRegister:
		name, value, found := bytes.Cut(req.Data, []byte{0})
		if !found {
			in.logf("set register: missing name terminator")
			return
		}
		in.setRegister(string(name), value)
	case CustomWriteMemory:
		if len(req.Data) < 2 {
			in.logf("write memory: missing address")
			return
		}
		addr := int(req.Data[0]) | int(req.Data[1])<<8
		n := copy(in.memory[addr:], req.Data[2:])
		if n < len(req.Data)-2 {
			in.logf("write memory: %d bytes past the end of memory dropped", len(req.Data)-2-n)
		}
	default:
		in.logf("unknown custom request %d", req.MessageID)
	}
}

func (in *Instance) setRegister(name string, value []byte) {
	for i := range in.registers {
		r := &in.registers[i]
		if r.name != name {
			continue
		}
		if r.readOnly {
			in.logf("register %s is read-only", name)
			return
		}
		if len(value) != int(r.size) {
			in.logf("register %s takes %d bytes, got %d", name, r.size, len(value))
			return
		}
		if name == "pc" {
			in.setPC(uint64(value[0]) | uint64(value[1])<<8)
			return
		}
		r.data = append([]byte(nil), value...)
		return
	}
	in.logf("no register named %s", name)
}

// Breakpoints returns the addresses with a breakpoint set, in order
func (in *Instance) Breakpoints() []uint64 {
	out := make([]uint64, 0, len(in.breakpoints))
	for addr := range in.breakpoints {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PC returns the current program counter
func (in *Instance) PC() uint64 {
	return in.pc
}

func (in *Instance) Destroy() {
	in.memory = nil
	in.breakpoints = nil
	in.logf("instance destroyed")
}
