package dummy

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/machinefabric/prodbg-go/backend"
)

// savedState is the persisted form of an instance
type savedState struct {
	Loaded      bool              `cbor:"0,keyasint,omitempty"`
	Target      string            `cbor:"1,keyasint,omitempty"`
	PC          uint64            `cbor:"2,keyasint,omitempty"`
	Registers   map[string][]byte `cbor:"3,keyasint,omitempty"`
	Breakpoints map[uint64]uint32 `cbor:"4,keyasint,omitempty"`
}

// SaveState writes the target, program counter, registers and breakpoints.
// Memory is regenerated on load and not saved.
func (in *Instance) SaveState(w io.Writer) error {
	s := savedState{
		Loaded:      in.loaded,
		Target:      in.target,
		PC:          in.pc,
		Registers:   make(map[string][]byte, len(in.registers)),
		Breakpoints: in.breakpoints,
	}
	for _, r := range in.registers {
		if !r.readOnly && r.name != "pc" {
			s.Registers[r.name] = r.data
		}
	}
	return cbor.NewEncoder(w).Encode(&s)
}

// LoadState restores what SaveState wrote. The target stops at the saved
// location in the Trace state.
func (in *Instance) LoadState(r io.Reader) error {
	var s savedState
	if err := cbor.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("dummy state: %w", err)
	}
	if s.Loaded {
		if _, ok := instructionAt(s.PC); !ok {
			return fmt.Errorf("dummy state: no instruction at saved pc 0x%04x", s.PC)
		}
	}

	for name, value := range s.Registers {
		in.setRegister(name, value)
	}
	in.breakpoints = make(map[uint64]uint32, len(s.Breakpoints))
	for addr, id := range s.Breakpoints {
		in.breakpoints[addr] = id
	}

	in.loaded = s.Loaded
	in.target = s.Target
	in.running = false
	in.prevPC = noLocation
	if s.Loaded {
		in.setPC(s.PC)
		in.state = backend.Trace
	} else {
		in.setPC(startAddress)
		in.state = backend.NoTarget
	}
	return nil
}
