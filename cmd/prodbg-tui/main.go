// Command prodbg-tui is an interactive terminal front-end for a debugger
// backend. It shows the disassembly around the program counter, the register
// file and the breakpoints, and maps keys to backend actions.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	prodbg "github.com/machinefabric/prodbg-go"
	"github.com/machinefabric/prodbg-go/backend"
)

const (
	disassemblyLines = 32
	memoryBytes      = 128
	logLines         = 4
)

type tickMsg time.Time

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// logBuffer keeps the last lines written by the session and its backend
type logBuffer struct {
	mu    sync.Mutex
	lines []string
	part  bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.part.Write(p)
	for {
		line, err := b.part.ReadString('\n')
		if err != nil {
			// keep the unterminated tail for the next write
			b.part.Reset()
			b.part.WriteString(line)
			break
		}
		b.lines = append(b.lines, strings.TrimRight(line, "\n"))
	}
	if len(b.lines) > logLines {
		b.lines = b.lines[len(b.lines)-logLines:]
	}
	return len(p), nil
}

func (b *logBuffer) tail() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.lines...)
}

type theme struct {
	header   lipgloss.Style
	panel    lipgloss.Style
	title    lipgloss.Style
	current  lipgloss.Style
	brk      lipgloss.Style
	muted    lipgloss.Style
	status   lipgloss.Style
	errorMsg lipgloss.Style
}

func newTheme() theme {
	accent := lipgloss.Color("#01cdfe")
	warn := lipgloss.Color("#ff71ce")
	muted := lipgloss.Color("#9ca3d8")
	return theme{
		header:   lipgloss.NewStyle().Bold(true).Foreground(accent).Padding(0, 1),
		panel:    lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
		title:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		current:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#05ffa1")),
		brk:      lipgloss.NewStyle().Foreground(warn),
		muted:    lipgloss.NewStyle().Foreground(muted),
		status:   lipgloss.NewStyle().Foreground(accent).Bold(true),
		errorMsg: lipgloss.NewStyle().Foreground(warn).Bold(true),
	}
}

type model struct {
	session  *prodbg.Session
	log      *logBuffer
	interval time.Duration
	theme    theme

	disasm  viewport.Model
	side    viewport.Model
	spinner spinner.Model

	width, height int
	lastPC        uint64
	hasPC         bool
	err           error
}

func newModel(s *prodbg.Session, log *logBuffer, interval time.Duration) model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))
	return model{
		session:  s,
		log:      log,
		interval: interval,
		theme:    newTheme(),
		disasm:   viewport.New(0, 0),
		side:     viewport.New(0, 0),
		spinner:  sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickEvery(m.interval))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if err := m.session.Tick(); err != nil {
			m.err = err
			return m, tea.Quit
		}
		m.refresh()
		m.render()
		return m, tickEvery(m.interval)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.render()
		return m, nil

	case tea.KeyMsg:
		return m.key(msg.String())
	}
	return m, nil
}

func (m model) key(k string) (tea.Model, tea.Cmd) {
	s := m.session
	switch k {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "r", "f5":
		s.Do(backend.ActionRun)
	case "b":
		s.Do(backend.ActionBreak)
	case "s", "f11":
		s.Do(backend.ActionStep)
	case "o", "f10":
		s.Do(backend.ActionStepOver)
	case "u":
		s.Do(backend.ActionStepOut)
	case "x":
		s.Do(backend.ActionStop)
	case "R":
		s.Do(backend.ActionCustom)
	case "t", "f9":
		if m.hasPC {
			m.send(s.ToggleBreakpoint(m.lastPC))
		}
	case "up", "k":
		m.disasm.LineUp(1)
	case "down", "j":
		m.disasm.LineDown(1)
	case "pgup":
		m.side.HalfViewUp()
	case "pgdown":
		m.side.HalfViewDown()
	}
	return m, nil
}

func (m *model) send(_ string, err error) {
	if err != nil {
		m.err = err
	}
}

// refresh asks for the panes' contents whenever the target moved
func (m *model) refresh() {
	v := m.session.View()
	if !v.HasLocation || (m.hasPC && v.Location.Address == m.lastPC) {
		return
	}
	m.lastPC, m.hasPC = v.Location.Address, true
	m.send(m.session.RequestDisassembly(v.Location.Address, disassemblyLines))
	m.send(m.session.RequestRegisters())
	m.send(m.session.RequestMemory(0, memoryBytes))
}

func (m *model) resize() {
	bodyHeight := m.height - logLines - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	left := m.width * 3 / 5
	m.disasm.Width, m.disasm.Height = left-4, bodyHeight
	m.side.Width, m.side.Height = m.width-left-4, bodyHeight
}

func (m *model) render() {
	v := m.session.View()
	t := m.theme

	var d strings.Builder
	width := int(v.AddressWidth) * 2
	if width == 0 {
		width = 4
	}
	for _, line := range v.Disassembly {
		marker := "  "
		style := lipgloss.NewStyle()
		if v.HasBreakpoint(line.Address) {
			marker = t.brk.Render("● ")
		}
		if v.HasLocation && line.Address == v.Location.Address {
			style = t.current
			marker = t.current.Render("▶ ")
		}
		fmt.Fprintf(&d, "%s%s\n", marker, style.Render(fmt.Sprintf("%0*x  %s", width, line.Address, line.Text)))
	}
	m.disasm.SetContent(d.String())

	var side strings.Builder
	side.WriteString(t.title.Render("Registers") + "\n")
	for _, r := range v.Registers {
		ro := ""
		if r.ReadOnly {
			ro = t.muted.Render(" ro")
		}
		fmt.Fprintf(&side, "%-6s %s%s\n", r.Name, hexLE(r.Data), ro)
	}
	side.WriteString("\n" + t.title.Render("Breakpoints") + "\n")
	if len(v.Breakpoints) == 0 {
		side.WriteString(t.muted.Render("none") + "\n")
	}
	for _, bp := range v.Breakpoints {
		fmt.Fprintf(&side, "#%-3d %0*x\n", bp.ID, width, bp.Address)
	}
	side.WriteString("\n" + t.title.Render("Memory") + "\n")
	for off := 0; off < len(v.Memory); off += 16 {
		end := off + 16
		if end > len(v.Memory) {
			end = len(v.Memory)
		}
		fmt.Fprintf(&side, "%04x  % x\n", v.MemoryStart+uint64(off), v.Memory[off:end])
	}
	m.side.SetContent(side.String())
}

// hexLE prints a little-endian register value most significant byte first
func hexLE(data []byte) string {
	var b strings.Builder
	for i := len(data) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%02x", data[i])
	}
	return b.String()
}

func (m model) View() string {
	if m.width == 0 {
		return "starting..."
	}
	t := m.theme
	s := m.session
	v := s.View()

	state := t.status.Render(s.StateName())
	if s.CanBreak() {
		state = m.spinner.View() + " " + state
	}
	target := v.Target
	if target == "" {
		target = t.muted.Render("no target")
	}
	header := t.header.Render(fmt.Sprintf("prodbg  %s  %s", s.Backend(), target)) + "  " + state

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		t.panel.Render(m.disasm.View()),
		t.panel.Render(m.side.View()),
	)

	var footer []string
	if m.err != nil {
		footer = append(footer, t.errorMsg.Render(m.err.Error()))
	} else if v.LastError != "" {
		footer = append(footer, t.errorMsg.Render(v.LastError))
	}
	for _, line := range m.log.tail() {
		footer = append(footer, t.muted.Render(line))
	}
	footer = append(footer, t.muted.Render("r run  b break  s step  o over  u out  t breakpoint  x stop  R reset  q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, header, body, strings.Join(footer, "\n"))
}

func main() {
	configPath := flag.String("config", "", "config file")
	backendName := flag.String("backend", "", "backend display name")
	target := flag.String("target", "", "file to load as the debug target")
	interval := flag.Duration("interval", 50*time.Millisecond, "time between backend updates")
	flag.Parse()

	var opts []prodbg.ConfigOption
	if *backendName != "" {
		opts = append(opts, prodbg.WithBackend(*backendName))
	}
	if *target != "" {
		opts = append(opts, prodbg.WithTarget(*target))
	}
	cfg, err := prodbg.LoadConfig(*configPath, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg-tui: %v\n", err)
		os.Exit(1)
	}

	log := &logBuffer{}
	registry, _ := prodbg.LoadPlugins(cfg, log)
	if cfg.Watch {
		if w, _ := prodbg.WatchPlugins(registry, cfg); w != nil {
			defer w.Close()
		}
	}

	session, err := prodbg.NewSession(registry, cfg, prodbg.WithSessionLog(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg-tui: %v\n", err)
		os.Exit(1)
	}
	defer session.Close()

	p := tea.NewProgram(newModel(session, log, *interval), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "prodbg-tui: %v\n", err)
		os.Exit(1)
	}
	if m, ok := final.(model); ok && m.err != nil {
		fmt.Fprintf(os.Stderr, "prodbg-tui: %v\n", m.err)
	}
}
