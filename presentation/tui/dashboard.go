// Package tui implements the optional bubbletea status dashboard for
// tiddlysyncd: a read-only view of connected peers and active editing
// sessions, refreshed on a timer, grounded in the teacher's own small
// bubbletea models (list cursor plus a single Update/View pair) rather
// than attempting a full TUI configurator.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tiddlysync/domain/peer"
)

const refreshInterval = 500 * time.Millisecond

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Snapshot is the read-only state the dashboard renders each tick.
type Snapshot struct {
	DeviceID string
	Peers    []peer.Connection
	Editing  []string // "<device> editing <title> in <wiki>"
}

// SnapshotFunc is polled once per refreshInterval; the caller owns
// whatever locking is needed to read Manager's state safely from
// outside its event loop (a snapshot method, not direct field access).
type SnapshotFunc func() Snapshot

type tickMsg time.Time

// Model is the bubbletea program for `tiddlysyncd --tui`.
type Model struct {
	snapshot SnapshotFunc
	state    Snapshot
	waiting  spinner.Model
}

// NewModel builds a dashboard polling snapshot on every tick.
func NewModel(snapshot SnapshotFunc) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = dimStyle
	return Model{snapshot: snapshot, state: snapshot(), waiting: s}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waiting.Tick)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		m.state = m.snapshot()
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.waiting, cmd = m.waiting.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("tiddlysync — %s", m.state.DeviceID)))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("peers"))
	b.WriteString("\n")
	if len(m.state.Peers) == 0 {
		fmt.Fprintf(&b, "  %s %s\n", m.waiting.View(), dimStyle.Render("searching for peers..."))
	}
	for _, p := range m.state.Peers {
		fmt.Fprintf(&b, "  %-16s %-10s room=%s\n", p.DeviceName, p.State, p.AuthRoomCode)
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("editing now"))
	b.WriteString("\n")
	if len(m.state.Editing) == 0 {
		b.WriteString(dimStyle.Render("  (nothing)"))
		b.WriteString("\n")
	}
	for _, line := range m.state.Editing {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}
