// Package prodbg drives a debugger backend: it owns the message channel and
// the backend instance, ticks the instance with user actions and folds the
// replies into a View for the front-end.
package prodbg

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/bifaci"
	"github.com/machinefabric/prodbg-go/message"
)

// DefaultRequestExpiry is how many ticks a request may stay unanswered before
// its correlation id is forgotten
const DefaultRequestExpiry = 256

// ReplyHandler is called for every reply after it has been applied to the view
type ReplyHandler func(env message.Envelope)

// Session is one running backend instance and its channel. A Session is
// owned by a single goroutine.
type Session struct {
	id       string
	name     string
	instance backend.Instance
	channel  *bifaci.Channel
	state    backend.DebugState

	pending    backend.Action
	hasPending bool

	// requests awaiting a reply, by correlation id
	outstanding map[string]pendingRequest
	expiry      uint64
	nextBreakID uint32

	view    View
	onReply ReplyHandler
	out     io.Writer
	ticks   uint64
	closed  bool
}

type pendingRequest struct {
	payload message.Payload
	sent    uint64
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLog sets where the session and its backend write log lines
func WithSessionLog(w io.Writer) SessionOption {
	return func(s *Session) {
		s.out = w
	}
}

// WithRequestExpiry sets how many ticks a request may wait for its reply
func WithRequestExpiry(ticks uint64) SessionOption {
	return func(s *Session) {
		if ticks > 0 {
			s.expiry = ticks
		}
	}
}

// WithReplyHandler registers a callback for decoded replies
func WithReplyHandler(h ReplyHandler) SessionOption {
	return func(s *Session) {
		s.onReply = h
	}
}

// NewSession starts the backend cfg.Backend from registry. When cfg.Target is
// set a file_target_request is queued for the first tick.
func NewSession(registry *backend.Registry, cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plugin, ok := registry.FindPlugin(cfg.Backend)
	if !ok {
		return nil, &SessionError{Type: SessionErrorTypeBackendNotFound, Backend: cfg.Backend}
	}

	channel, err := bifaci.NewChannelWithLimits(cfg.Channel)
	if err != nil {
		return nil, transportError(err)
	}

	s := &Session{
		id:          uuid.NewString(),
		name:        plugin.Name(),
		channel:     channel,
		state:       backend.NoTarget,
		outstanding: make(map[string]pendingRequest),
		expiry:      DefaultRequestExpiry,
		nextBreakID: 1,
		out:         os.Stderr,
	}
	for _, opt := range opts {
		opt(s)
	}

	instance, err := plugin.CreateInstance(s.service)
	if err != nil {
		channel.Release()
		return nil, &SessionError{Type: SessionErrorTypeInstance, Backend: s.name, Message: err.Error(), Err: err}
	}
	s.instance = instance
	s.logf("started %s, session %s", s.name, s.id)

	if cfg.Target != "" {
		if _, err := s.RequestFileTarget(cfg.Target); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) logf(format string, args ...any) {
	fmt.Fprintf(s.out, "[Session] "+format+"\n", args...)
}

func (s *Session) service(name string) any {
	switch name {
	case backend.ServiceLog:
		return s.out
	case backend.ServiceSessionID:
		return s.id
	default:
		return nil
	}
}

// ID returns the session id handed to the backend
func (s *Session) ID() string { return s.id }

// Backend returns the display name of the running backend
func (s *Session) Backend() string { return s.name }

// State returns the state reported by the last tick
func (s *Session) State() backend.DebugState { return s.state }

// StateName returns the display name of the current state
func (s *Session) StateName() string { return s.state.String() }

// Ticks returns how many ticks have completed
func (s *Session) Ticks() uint64 { return s.ticks }

// View returns a copy of what the replies so far describe
func (s *Session) View() View { return s.view.clone() }

// Outstanding returns how many requests have not been answered yet
func (s *Session) Outstanding() int { return len(s.outstanding) }

// CanRun reports whether a run or step action makes sense now
func (s *Session) CanRun() bool {
	return s.state != backend.NoTarget && s.state != backend.Running
}

// CanStep reports whether the target can be stepped
func (s *Session) CanStep() bool { return s.CanRun() }

// CanBreak reports whether the target is running and can be interrupted
func (s *Session) CanBreak() bool { return s.state == backend.Running }

// Do queues action for the next tick, replacing one queued earlier
func (s *Session) Do(action backend.Action) {
	s.pending = action
	s.hasPending = true
}

// nextAction consumes the queued action. A running target is handed Run
// again when nothing else was asked for.
func (s *Session) nextAction() backend.Action {
	if s.hasPending {
		s.hasPending = false
		return s.pending
	}
	if s.state == backend.Running {
		return backend.ActionRun
	}
	return backend.ActionNone
}

// Tick runs one update of the backend: the queued requests are handed over,
// the instance updates, and its replies are applied to the view.
func (s *Session) Tick() error {
	if s.closed {
		return ErrSessionClosed
	}

	if err := s.channel.Swap(); err != nil {
		return transportError(err)
	}

	action := s.nextAction()
	state := s.instance.Update(action, s.channel.Reader(), s.channel.Writer())

	if dropped := s.dropUnread(); dropped > 0 {
		s.logf("%s left %d requests unread", s.name, dropped)
	}

	if err := s.channel.Swap(); err != nil {
		return transportError(err)
	}
	s.readReplies()

	if state != s.state {
		s.logf("%s -> %s", s.state, state)
	}
	s.state = state
	s.ticks++
	s.expire()
	return nil
}

// dropUnread discards the requests the backend did not read this tick and
// forgets their correlation ids, since no reply can come for them
func (s *Session) dropUnread() int {
	dropped := 0
	for {
		env, ok, err := message.Next(s.channel.Reader())
		if err != nil || !ok {
			break
		}
		delete(s.outstanding, string(env.UserData))
		dropped++
	}
	n, err := s.channel.Discard()
	if err != nil {
		s.logf("request half corrupted: %v", err)
	}
	return dropped + n
}

// expire forgets requests that have waited longer than the expiry
func (s *Session) expire() {
	expired := 0
	for id, req := range s.outstanding {
		if s.ticks-req.sent >= s.expiry {
			delete(s.outstanding, id)
			expired++
		}
	}
	if expired > 0 {
		s.logf("%d requests expired unanswered", expired)
	}
}

// readReplies applies every reply in the read half. After a decode failure
// the rest of the tick's replies are dropped unread.
func (s *Session) readReplies() {
	for {
		env, ok, err := message.Next(s.channel.Reader())
		if err != nil {
			s.logf("bad reply: %v", err)
			if n, _ := s.channel.Discard(); n > 0 {
				s.logf("%d replies skipped", n)
			}
			return
		}
		if !ok {
			return
		}
		s.apply(env)
	}
}

func (s *Session) apply(env message.Envelope) {
	var req message.Payload
	if len(env.UserData) > 0 {
		key := string(env.UserData)
		req = s.outstanding[key].payload
		delete(s.outstanding, key)
	}

	v := &s.view
	switch reply := env.Payload.(type) {
	case *message.TargetReply:
		v.TargetStatus = reply.Status
		v.TargetError = reply.ErrorMessage
		if ft, ok := req.(*message.FileTargetRequest); ok && reply.Status == message.StatusOK {
			v.Target = ft.Path
		}
		if reply.Status != message.StatusOK {
			v.LastError = reply.ErrorMessage
		}

	case *message.ExceptionLocationReply:
		v.Location = Location{
			Filename:    reply.Filename,
			Line:        reply.Line,
			Address:     reply.Address,
			AddressSize: reply.AddressSize,
		}
		v.HasLocation = true

	case *message.RegistersReply:
		v.Registers = reply.Registers

	case *message.MemoryReply:
		if reply.Status == message.StatusOK {
			v.MemoryStart = reply.StartAddress
			v.Memory = reply.Data
		} else {
			v.LastError = fmt.Sprintf("memory at 0x%x unavailable", reply.StartAddress)
		}

	case *message.DisassemblyReply:
		v.AddressWidth = reply.AddressWidth
		v.Disassembly = reply.Lines

	case *message.BreakpointReply:
		if reply.Status != message.StatusOK {
			v.LastError = reply.ErrorMessage
			break
		}
		if bp, ok := req.(*message.BreakpointRequest); ok && bp.Filename == "" {
			v.setBreakpoint(bp.ID, bp.Address, bp.Remove)
		}

	case *message.Unknown:
		s.logf("reply of unknown kind %d ignored", reply.Code)

	case nil:

	default:
		s.logf("unexpected %s from backend", env.Kind())
	}

	if s.onReply != nil {
		s.onReply(env)
	}
}

// send queues a request tagged with a fresh correlation id and returns the id
func (s *Session) send(p message.Payload) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	id := uuid.NewString()
	if err := message.Send(s.channel.Writer(), p, []byte(id)); err != nil {
		return "", requestError(err)
	}
	s.outstanding[id] = pendingRequest{payload: p, sent: s.ticks}
	return id, nil
}

// RequestFileTarget asks the backend to load path
func (s *Session) RequestFileTarget(path string) (string, error) {
	return s.send(&message.FileTargetRequest{Path: path})
}

// RequestExceptionLocation asks where the target is stopped
func (s *Session) RequestExceptionLocation() (string, error) {
	return s.send(&message.ExceptionLocationRequest{})
}

// RequestRegisters asks for the register file
func (s *Session) RequestRegisters() (string, error) {
	return s.send(&message.RegistersRequest{})
}

// RequestMemory asks for size bytes starting at start
func (s *Session) RequestMemory(start, size uint64) (string, error) {
	return s.send(&message.MemoryRequest{StartAddress: start, Size: size})
}

// RequestDisassembly asks for count instructions starting at start
func (s *Session) RequestDisassembly(start uint64, count uint32) (string, error) {
	return s.send(&message.DisassemblyRequest{AddressStart: start, InstructionCount: count})
}

// ToggleBreakpoint removes the breakpoint at address if the view has one and
// sets it otherwise. The view changes once the backend accepts.
func (s *Session) ToggleBreakpoint(address uint64) (string, error) {
	req := &message.BreakpointRequest{Address: address}
	for _, bp := range s.view.Breakpoints {
		if bp.Address == address {
			req.ID = bp.ID
			req.Remove = true
		}
	}
	if !req.Remove {
		req.ID = s.nextBreakID
		s.nextBreakID++
	}
	return s.send(req)
}

// SetSourceBreakpoint asks for a breakpoint at a source line
func (s *Session) SetSourceBreakpoint(filename string, line int32) (string, error) {
	req := &message.BreakpointRequest{ID: s.nextBreakID, Filename: filename, Line: line}
	s.nextBreakID++
	return s.send(req)
}

// SendCustom sends a backend specific request
func (s *Session) SendCustom(id uint32, data []byte) (string, error) {
	return s.send(&message.CustomRequest{MessageID: id, Data: data})
}

// SaveState asks the backend to write its state to w
func (s *Session) SaveState(w io.Writer) error {
	if s.closed {
		return ErrSessionClosed
	}
	saver, ok := s.instance.(backend.StateSaver)
	if !ok {
		return &SessionError{Type: SessionErrorTypeStateUnsupported, Backend: s.name, Message: "saving state"}
	}
	return saver.SaveState(w)
}

// LoadState restores backend state written by SaveState
func (s *Session) LoadState(r io.Reader) error {
	if s.closed {
		return ErrSessionClosed
	}
	loader, ok := s.instance.(backend.StateLoader)
	if !ok {
		return &SessionError{Type: SessionErrorTypeStateUnsupported, Backend: s.name, Message: "loading state"}
	}
	return loader.LoadState(r)
}

// Run ticks every interval until ctx is done. A positive maxTicks bounds the
// number of ticks. Tick errors end the loop and are returned.
func (s *Session) Run(ctx context.Context, interval time.Duration, maxTicks int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		if err := s.Tick(); err != nil {
			return err
		}
		if maxTicks > 0 && n >= maxTicks {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close destroys the backend instance and frees the channel. Close is
// idempotent.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.instance.Destroy()
	s.channel.Release()
	s.outstanding = nil
	s.logf("closed session %s", s.id)
}
