package main

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	prodbg "github.com/machinefabric/prodbg-go"
	"github.com/machinefabric/prodbg-go/backend"
	"github.com/machinefabric/prodbg-go/bifaci"
)

func TestLogBufferKeepsTail(t *testing.T) {
	var b logBuffer
	for i := 0; i < logLines+2; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	fmt.Fprint(&b, "partial")
	assert.Equal(t, []string{"line 2", "line 3", "line 4", "line 5"}, b.tail())

	fmt.Fprint(&b, " done\n")
	assert.Equal(t, "partial done", b.tail()[logLines-1])
}

func TestHexLE(t *testing.T) {
	assert.Equal(t, "e003", hexLE([]byte{0x03, 0xe0}))
	assert.Equal(t, "", hexLE(nil))
}

func TestModelDrivesSession(t *testing.T) {
	log := &logBuffer{}
	cfg := prodbg.Config{Backend: prodbg.DefaultBackend, Channel: bifaci.Limits{Capacity: 64 * 1024}, Target: "game.prg"}
	registry, errs := prodbg.LoadPlugins(cfg, &bytes.Buffer{})
	require.Empty(t, errs)
	s, err := prodbg.NewSession(registry, cfg, prodbg.WithSessionLog(log))
	require.NoError(t, err)
	defer s.Close()

	var m tea.Model = newModel(s, log, time.Millisecond)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(tickMsg(time.Now()))
	m, _ = m.Update(tickMsg(time.Now()))

	v := s.View()
	assert.Equal(t, uint64(0xe003), v.Location.Address)
	assert.NotEmpty(t, v.Disassembly)
	assert.NotEmpty(t, v.Registers)
	assert.Contains(t, m.View(), "jmp 0xe0c1")

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	m, _ = m.Update(tickMsg(time.Now()))
	assert.True(t, s.View().HasBreakpoint(0xe003))

	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	m.Update(tickMsg(time.Now()))
	assert.Equal(t, backend.Trace, s.State())
	assert.Equal(t, uint64(0xe006), s.View().Location.Address)
}
