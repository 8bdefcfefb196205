// Package backend defines the contract between the debugger front-end and a
// backend plugin, and the registry the front-end loads plugins into.
package backend

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/machinefabric/prodbg-go/bifaci"
)

// Action is the command the front-end passes to a backend on each update
type Action uint32

const (
	ActionNone Action = iota
	ActionStop
	ActionBreak
	ActionRun
	ActionStep
	ActionStepOut
	ActionStepOver

	// ActionCustom is the first backend-defined action
	ActionCustom Action = 0x1000
)

// CustomAction returns the n-th backend-defined action
func CustomAction(n uint32) Action {
	return ActionCustom + Action(n)
}

// IsCustom reports whether a is a backend-defined action
func (a Action) IsCustom() bool {
	return a >= ActionCustom
}

var actionNames = map[Action]string{
	ActionNone:     "none",
	ActionStop:     "stop",
	ActionBreak:    "break",
	ActionRun:      "run",
	ActionStep:     "step",
	ActionStepOut:  "step_out",
	ActionStepOver: "step_over",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	if a.IsCustom() {
		return fmt.Sprintf("custom+%d", uint32(a-ActionCustom))
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint32(a))
}

// ParseAction accepts the names returned by String, including "custom+N"
func ParseAction(name string) (Action, error) {
	for a, n := range actionNames {
		if n == name {
			return a, nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "custom+"); ok {
		n, err := strconv.ParseUint(rest, 10, 32)
		if err == nil && n <= math.MaxUint32-uint64(ActionCustom) {
			return CustomAction(uint32(n)), nil
		}
	}
	return ActionNone, fmt.Errorf("unknown action %q", name)
}

// DebugState is what a backend reports about its target after an update
type DebugState int

const (
	NoTarget DebugState = iota
	Running
	StopBreakpoint
	StopException
	Trace
)

var stateNames = [...]string{
	NoTarget:       "No target",
	Running:        "Running",
	StopBreakpoint: "Stop (breakpoint)",
	StopException:  "Stop (exception)",
	Trace:          "Trace (stepping)",
}

// short names used by script backends
var stateKeys = [...]string{
	NoTarget:       "no_target",
	Running:        "running",
	StopBreakpoint: "stop_breakpoint",
	StopException:  "stop_exception",
	Trace:          "trace",
}

// String returns the human readable state name shown in the UI
func (s DebugState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Key returns the short identifier of the state
func (s DebugState) Key() string {
	if s >= 0 && int(s) < len(stateKeys) {
		return stateKeys[s]
	}
	return ""
}

// Stopped reports whether the target is halted and can be inspected
func (s DebugState) Stopped() bool {
	return s == StopBreakpoint || s == StopException || s == Trace
}

// ParseDebugState accepts either the short key or the display name
func ParseDebugState(name string) (DebugState, bool) {
	for i := range stateKeys {
		if stateKeys[i] == name || stateNames[i] == name {
			return DebugState(i), true
		}
	}
	return NoTarget, false
}

// ServiceFunc lets a backend look up services the front-end provides, such
// as the log writer. It returns nil when the service is not available.
type ServiceFunc func(name string) any

// Well-known service names
const (
	// io.Writer for backend log lines
	ServiceLog = "prodbg.log"
	// string with the session id
	ServiceSessionID = "prodbg.session_id"
)

// NoServices is a ServiceFunc that provides nothing
func NoServices(string) any { return nil }

// LogWriter resolves the log service, falling back to io.Discard
func LogWriter(services ServiceFunc) io.Writer {
	if services != nil {
		if w, ok := services(ServiceLog).(io.Writer); ok && w != nil {
			return w
		}
	}
	return io.Discard
}

// Plugin is a loadable backend. Name is the self-reported display name the
// registry indexes it by.
type Plugin interface {
	Name() string
	CreateInstance(services ServiceFunc) (Instance, error)
}

// Instance is one running backend. Update is called once per tick with the
// half holding the front-end's requests and the half the backend writes its
// replies into; reader may hold no frames. Destroy is called exactly once.
type Instance interface {
	Update(action Action, reader *bifaci.Reader, writer *bifaci.Writer) DebugState
	Destroy()
}

// StateSaver is implemented by instances that can persist their state
type StateSaver interface {
	SaveState(w io.Writer) error
}

// StateLoader is implemented by instances that can restore saved state
type StateLoader interface {
	LoadState(r io.Reader) error
}
