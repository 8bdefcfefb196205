// Package message implements the tagged-union envelope carried in every
// channel frame and the catalog of payloads exchanged with backends.
package message

import "fmt"

// Kind identifies the payload type of an envelope. Values are wire-stable:
// new kinds are appended, existing numbers never change meaning.
type Kind uint8

const (
	KindNone                     Kind = 0
	KindFileTargetRequest        Kind = 1
	KindTargetReply              Kind = 2
	KindExceptionLocationRequest Kind = 3
	KindExceptionLocationReply   Kind = 4
	KindMemoryRequest            Kind = 5
	KindMemoryReply              Kind = 6
	KindCustomRequest            Kind = 7
	KindRegistersRequest         Kind = 8
	KindRegistersReply           Kind = 9
	KindBreakpointRequest        Kind = 10
	KindBreakpointReply          Kind = 11
	KindDisassemblyRequest       Kind = 12
	KindDisassemblyReply         Kind = 13
)

// kindMax is the highest kind this build knows how to decode
const kindMax = KindDisassemblyReply

// tagBase offsets the CBOR tag of each payload table ("PD" in ASCII)
const tagBase uint64 = 0x5044

var kindNames = map[Kind]string{
	KindNone:                     "none",
	KindFileTargetRequest:        "file_target_request",
	KindTargetReply:              "target_reply",
	KindExceptionLocationRequest: "exception_location_request",
	KindExceptionLocationReply:   "exception_location_reply",
	KindMemoryRequest:            "memory_request",
	KindMemoryReply:              "memory_reply",
	KindCustomRequest:            "custom_request",
	KindRegistersRequest:         "registers_request",
	KindRegistersReply:           "registers_reply",
	KindBreakpointRequest:        "breakpoint_request",
	KindBreakpointReply:          "breakpoint_reply",
	KindDisassemblyRequest:       "disassembly_request",
	KindDisassemblyReply:         "disassembly_reply",
}

// String returns the wire name of the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
}

// Known reports whether this build has a payload type for the kind
func (k Kind) Known() bool {
	return k <= kindMax
}

// Tag returns the CBOR tag number that must wrap a payload of this kind
func (k Kind) Tag() uint64 {
	return tagBase + uint64(k)
}

// ParseKind looks a kind up by its wire name
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return KindNone, false
}
