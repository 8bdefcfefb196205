package message

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Payload is one member of the envelope union. The set is closed: only the
// types in this file implement it.
type Payload interface {
	Kind() Kind
	// Verify checks invariants the wire format alone cannot express
	Verify() error
	payload()
}

// Status codes shared by the reply payloads
const (
	StatusOK     int32 = 0
	StatusFailed int32 = 1
)

// FileTargetRequest asks the backend to load the executable at Path
type FileTargetRequest struct {
	Path string `cbor:"0,keyasint,omitempty" json:"path"`
}

// TargetReply answers a FileTargetRequest
type TargetReply struct {
	Status       int32  `cbor:"0,keyasint,omitempty" json:"status"`
	ErrorMessage string `cbor:"1,keyasint,omitempty" json:"error_message,omitempty"`
}

// ExceptionLocationRequest asks where the target is currently stopped
type ExceptionLocationRequest struct{}

// ExceptionLocationReply reports the current stop location. Filename is empty
// when only an address is known.
type ExceptionLocationReply struct {
	Filename    string `cbor:"0,keyasint,omitempty" json:"filename,omitempty"`
	Line        int32  `cbor:"1,keyasint,omitempty" json:"line,omitempty"`
	Address     uint64 `cbor:"2,keyasint,omitempty" json:"address"`
	AddressSize uint8  `cbor:"3,keyasint,omitempty" json:"address_size,omitempty"`
}

type MemoryRequest struct {
	StartAddress uint64 `cbor:"0,keyasint,omitempty" json:"start_address"`
	Size         uint64 `cbor:"1,keyasint,omitempty" json:"size"`
}

type MemoryReply struct {
	StartAddress uint64 `cbor:"0,keyasint,omitempty" json:"start_address"`
	Data         []byte `cbor:"1,keyasint,omitempty" json:"data,omitempty"`
	Status       int32  `cbor:"2,keyasint,omitempty" json:"status"`
}

// CustomRequest carries backend specific data the front-end does not interpret
type CustomRequest struct {
	MessageID uint32 `cbor:"0,keyasint,omitempty" json:"message_id"`
	Data      []byte `cbor:"1,keyasint,omitempty" json:"data,omitempty"`
}

type RegistersRequest struct{}

// Register is one CPU register. Data holds Size bytes, little-endian.
type Register struct {
	Name     string `cbor:"0,keyasint,omitempty" json:"name"`
	Size     uint8  `cbor:"1,keyasint,omitempty" json:"size"`
	ReadOnly bool   `cbor:"2,keyasint,omitempty" json:"read_only,omitempty"`
	Data     []byte `cbor:"3,keyasint,omitempty" json:"data,omitempty"`
}

type RegistersReply struct {
	Registers []Register `cbor:"0,keyasint,omitempty" json:"registers"`
}

// BreakpointRequest adds or removes a breakpoint at an address or a source
// location. Id is chosen by the requester and echoed in the reply.
type BreakpointRequest struct {
	ID       uint32 `cbor:"0,keyasint,omitempty" json:"id"`
	Address  uint64 `cbor:"1,keyasint,omitempty" json:"address,omitempty"`
	Filename string `cbor:"2,keyasint,omitempty" json:"filename,omitempty"`
	Line     int32  `cbor:"3,keyasint,omitempty" json:"line,omitempty"`
	Remove   bool   `cbor:"4,keyasint,omitempty" json:"remove,omitempty"`
}

type BreakpointReply struct {
	ID           uint32 `cbor:"0,keyasint,omitempty" json:"id"`
	Status       int32  `cbor:"1,keyasint,omitempty" json:"status"`
	ErrorMessage string `cbor:"2,keyasint,omitempty" json:"error_message,omitempty"`
}

type DisassemblyRequest struct {
	AddressStart     uint64 `cbor:"0,keyasint,omitempty" json:"address_start"`
	InstructionCount uint32 `cbor:"1,keyasint,omitempty" json:"instruction_count"`
}

type DisassemblyLine struct {
	Address uint64 `cbor:"0,keyasint,omitempty" json:"address"`
	Text    string `cbor:"1,keyasint,omitempty" json:"text"`
}

type DisassemblyReply struct {
	AddressWidth uint8             `cbor:"0,keyasint,omitempty" json:"address_width"`
	Lines        []DisassemblyLine `cbor:"1,keyasint,omitempty" json:"lines"`
}

// Unknown holds a payload of a kind this build does not know. Raw is the
// tagged payload table exactly as received, so it can be relayed unchanged.
type Unknown struct {
	Code Kind
	Raw  cbor.RawMessage
}

func (*FileTargetRequest) Kind() Kind        { return KindFileTargetRequest }
func (*TargetReply) Kind() Kind              { return KindTargetReply }
func (*ExceptionLocationRequest) Kind() Kind { return KindExceptionLocationRequest }
func (*ExceptionLocationReply) Kind() Kind   { return KindExceptionLocationReply }
func (*MemoryRequest) Kind() Kind            { return KindMemoryRequest }
func (*MemoryReply) Kind() Kind              { return KindMemoryReply }
func (*CustomRequest) Kind() Kind            { return KindCustomRequest }
func (*RegistersRequest) Kind() Kind         { return KindRegistersRequest }
func (*RegistersReply) Kind() Kind           { return KindRegistersReply }
func (*BreakpointRequest) Kind() Kind        { return KindBreakpointRequest }
func (*BreakpointReply) Kind() Kind          { return KindBreakpointReply }
func (*DisassemblyRequest) Kind() Kind       { return KindDisassemblyRequest }
func (*DisassemblyReply) Kind() Kind         { return KindDisassemblyReply }
func (u *Unknown) Kind() Kind                { return u.Code }

func (*FileTargetRequest) payload()        {}
func (*TargetReply) payload()              {}
func (*ExceptionLocationRequest) payload() {}
func (*ExceptionLocationReply) payload()   {}
func (*MemoryRequest) payload()            {}
func (*MemoryReply) payload()              {}
func (*CustomRequest) payload()            {}
func (*RegistersRequest) payload()         {}
func (*RegistersReply) payload()           {}
func (*BreakpointRequest) payload()        {}
func (*BreakpointReply) payload()          {}
func (*DisassemblyRequest) payload()       {}
func (*DisassemblyReply) payload()         {}
func (*Unknown) payload()                  {}

func (p *FileTargetRequest) Verify() error {
	if p.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

func (p *TargetReply) Verify() error {
	if p.Status == StatusOK && p.ErrorMessage != "" {
		return errors.New("error_message set on a successful reply")
	}
	return nil
}

func (*ExceptionLocationRequest) Verify() error { return nil }

func (p *ExceptionLocationReply) Verify() error {
	if err := verifyAddressSize(p.AddressSize); err != nil {
		return err
	}
	if p.Line < 0 {
		return fmt.Errorf("negative line %d", p.Line)
	}
	return nil
}

func (p *MemoryRequest) Verify() error {
	if p.Size == 0 {
		return errors.New("size must be positive")
	}
	if p.StartAddress+p.Size < p.StartAddress {
		return errors.New("range wraps around the address space")
	}
	return nil
}

func (p *MemoryReply) Verify() error {
	if p.Status == StatusOK && len(p.Data) == 0 {
		return errors.New("successful reply carries no data")
	}
	return nil
}

func (*CustomRequest) Verify() error    { return nil }
func (*RegistersRequest) Verify() error { return nil }

func (p *RegistersReply) Verify() error {
	seen := make(map[string]bool, len(p.Registers))
	for i, r := range p.Registers {
		if r.Name == "" {
			return fmt.Errorf("register %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("register %q listed twice", r.Name)
		}
		seen[r.Name] = true
		if len(r.Data) > 0 && len(r.Data) != int(r.Size) {
			return fmt.Errorf("register %q has %d data bytes for size %d", r.Name, len(r.Data), r.Size)
		}
	}
	return nil
}

func (p *BreakpointRequest) Verify() error {
	if p.Address == 0 && p.Filename == "" {
		return errors.New("breakpoint needs an address or a filename")
	}
	if p.Filename != "" && p.Line <= 0 {
		return fmt.Errorf("source breakpoint needs a positive line, got %d", p.Line)
	}
	return nil
}

func (*BreakpointReply) Verify() error { return nil }

func (p *DisassemblyRequest) Verify() error {
	if p.InstructionCount == 0 {
		return errors.New("instruction_count must be positive")
	}
	return nil
}

func (p *DisassemblyReply) Verify() error {
	if err := verifyAddressSize(p.AddressWidth); err != nil {
		return err
	}
	for i := 1; i < len(p.Lines); i++ {
		if p.Lines[i].Address <= p.Lines[i-1].Address {
			return fmt.Errorf("line %d address 0x%x is not after 0x%x", i, p.Lines[i].Address, p.Lines[i-1].Address)
		}
	}
	return nil
}

func (u *Unknown) Verify() error {
	if u.Code.Known() {
		return fmt.Errorf("kind %s is known and cannot be carried as unknown", u.Code)
	}
	return nil
}

func verifyAddressSize(size uint8) error {
	switch size {
	case 0, 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("unsupported address size %d", size)
}

// NewPayload returns an empty payload of the given kind, ready to be decoded
// into. It returns nil for KindNone and for kinds this build does not know.
func NewPayload(kind Kind) Payload {
	switch kind {
	case KindFileTargetRequest:
		return &FileTargetRequest{}
	case KindTargetReply:
		return &TargetReply{}
	case KindExceptionLocationRequest:
		return &ExceptionLocationRequest{}
	case KindExceptionLocationReply:
		return &ExceptionLocationReply{}
	case KindMemoryRequest:
		return &MemoryRequest{}
	case KindMemoryReply:
		return &MemoryReply{}
	case KindCustomRequest:
		return &CustomRequest{}
	case KindRegistersRequest:
		return &RegistersRequest{}
	case KindRegistersReply:
		return &RegistersReply{}
	case KindBreakpointRequest:
		return &BreakpointRequest{}
	case KindBreakpointReply:
		return &BreakpointReply{}
	case KindDisassemblyRequest:
		return &DisassemblyRequest{}
	case KindDisassemblyReply:
		return &DisassemblyReply{}
	default:
		return nil
	}
}
