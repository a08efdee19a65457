// Package tui renders a live bout in the terminal with Bubble Tea.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mcdev12/scoreboard/go/internal/realtime"
	"github.com/mcdev12/scoreboard/go/internal/realtime/clock"
	"github.com/mcdev12/scoreboard/go/internal/realtime/derby"
	"github.com/mcdev12/scoreboard/go/internal/realtime/store"
)

const defaultRefresh = 100 * time.Millisecond

// ClockSource is an interpolated bout timer, typically a realtime.ClockView.
type ClockSource interface {
	Reading() clock.Reading
	Kind() clock.Kind
	Err() error
}

// StatusSource reports connection health, typically a realtime.Client.
type StatusSource interface {
	Status() realtime.Status
}

// BoutSource provides the raw bout data, typically a realtime.ResourceView.
type BoutSource interface {
	Snapshot() store.Snapshot
}

// Options configures the model.
type Options struct {
	BoutID  string
	Status  StatusSource
	Game    ClockSource
	Action  ClockSource
	Bout    BoutSource
	Refresh time.Duration
}

// Model is the watch screen.
type Model struct {
	opts  Options
	width int

	status realtime.Status
	game   panel
	action panel
	bout   *derby.Bout
	stale  bool
}

// panel is one rendered timer.
type panel struct {
	kind    clock.Kind
	reading clock.Reading
	err     error
}

func New(opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = defaultRefresh
	}
	m := Model{opts: opts}
	m.refresh()
	return m
}

type tickMsg time.Time

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd(m.opts.Refresh)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd(m.opts.Refresh)
	}
	return m, nil
}

func (m *Model) refresh() {
	if m.opts.Status != nil {
		m.status = m.opts.Status.Status()
	}
	m.game = readPanel(m.opts.Game)
	m.action = readPanel(m.opts.Action)

	if m.opts.Bout == nil {
		return
	}
	snap := m.opts.Bout.Snapshot()
	m.stale = snap.Stale
	if !snap.HasData {
		return
	}
	// keep the last good decode on malformed data
	if bout, err := derby.DecodeBout(snap.Data); err == nil {
		m.bout = bout
	}
}

func readPanel(src ClockSource) panel {
	if src == nil {
		return panel{}
	}
	return panel{kind: src.Kind(), reading: src.Reading(), err: src.Err()}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#BD93F9"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
	clockStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F8F8F2"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
	dangerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555"))
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#44475A")).
			Padding(0, 2)
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	title := "Bout"
	if m.opts.BoutID != "" {
		title = fmt.Sprintf("Bout %s", m.opts.BoutID)
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n\n")

	clocks := lipgloss.JoinHorizontal(lipgloss.Top,
		boxStyle.Render(renderPanel("Game", m.game)),
		boxStyle.Render(renderPanel("Action", m.action)),
	)
	b.WriteString(clocks)
	b.WriteString("\n")

	if m.bout != nil {
		score := m.bout.Jams.Score
		b.WriteString(labelStyle.Render("Score "))
		b.WriteString(clockStyle.Render(fmt.Sprintf("%d - %d", score.Home, score.Away)))
		b.WriteString("\n")
	}

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("q to quit"))

	if m.width > 0 {
		return lipgloss.NewStyle().MaxWidth(m.width).Render(b.String())
	}
	return b.String()
}

func renderPanel(label string, p panel) string {
	header := labelStyle.Render(label)
	if p.kind != "" {
		header = labelStyle.Render(fmt.Sprintf("%s (%s)", label, p.kind))
	}

	var value string
	switch {
	case p.err != nil:
		value = dangerStyle.Render("unavailable")
	case p.reading.State == clock.StateIdle:
		value = labelStyle.Render("--:--")
	case p.reading.State == clock.StateExpired:
		value = warnStyle.Render(clock.Format(p.reading.Display(), true))
	default:
		value = clockStyle.Render(clock.Format(p.reading.Display(), true))
	}
	return header + "\n" + value
}

func (m Model) renderStatus() string {
	s := m.status
	var conn string
	if s.Online {
		conn = okStyle.Render("online")
	} else {
		conn = dangerStyle.Render("offline")
	}

	lat := fmt.Sprintf("%d ms", s.LatencyMs)
	if !s.LatencyTrusted {
		lat = warnStyle.Render(lat + " (stale)")
	}

	line := fmt.Sprintf("%s  latency %s  pending %d", conn, lat, s.Pending)
	if m.stale {
		line += "  " + warnStyle.Render("data stale")
	}
	return line
}

// Run starts the Bubble Tea program and blocks until the user quits.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
