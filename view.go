package prodbg

import (
	"sort"

	"github.com/machinefabric/prodbg-go/message"
)

// Location is where the target last stopped
type Location struct {
	Filename    string
	Line        int32
	Address     uint64
	AddressSize uint8
}

// Breakpoint is a breakpoint the backend accepted
type Breakpoint struct {
	ID      uint32
	Address uint64
}

// View is what a front-end shows, assembled from backend replies
type View struct {
	Target       string
	TargetStatus int32
	TargetError  string

	Location    Location
	HasLocation bool

	Registers []message.Register

	MemoryStart uint64
	Memory      []byte

	AddressWidth uint8
	Disassembly  []message.DisassemblyLine

	Breakpoints []Breakpoint

	// LastError is the most recent error message a backend reported
	LastError string
}

// HasBreakpoint reports whether a breakpoint is set at address
func (v View) HasBreakpoint(address uint64) bool {
	for _, bp := range v.Breakpoints {
		if bp.Address == address {
			return true
		}
	}
	return false
}

// Register returns the named register from the last registers reply
func (v View) Register(name string) (message.Register, bool) {
	for _, r := range v.Registers {
		if r.Name == name {
			return r, true
		}
	}
	return message.Register{}, false
}

func (v *View) setBreakpoint(id uint32, address uint64, remove bool) {
	kept := v.Breakpoints[:0]
	for _, bp := range v.Breakpoints {
		if bp.Address != address {
			kept = append(kept, bp)
		}
	}
	v.Breakpoints = kept
	if !remove {
		v.Breakpoints = append(v.Breakpoints, Breakpoint{ID: id, Address: address})
		sort.Slice(v.Breakpoints, func(i, j int) bool {
			return v.Breakpoints[i].Address < v.Breakpoints[j].Address
		})
	}
}

// clone copies the slices so callers cannot alias session state
func (v View) clone() View {
	out := v
	out.Registers = append([]message.Register(nil), v.Registers...)
	out.Memory = append([]byte(nil), v.Memory...)
	out.Disassembly = append([]message.DisassemblyLine(nil), v.Disassembly...)
	out.Breakpoints = append([]Breakpoint(nil), v.Breakpoints...)
	return out
}
