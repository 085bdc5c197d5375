// Package monitor is a read-only terminal view of the engine's listeners.
package monitor

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/rapidmidiex/rmxsynth/engine"
	"github.com/rapidmidiex/rmxsynth/keymap"
	"github.com/rapidmidiex/rmxsynth/notename"
	"github.com/rapidmidiex/rmxsynth/rmxerr"
	"github.com/rapidmidiex/rmxsynth/styles"
)

// DefaultInterval is how often the engine is ticked and the view refreshed.
const DefaultInterval = 50 * time.Millisecond

var docStyle = styles.DocStyle

type (
	// Source is the part of engine.Controller the monitor drives.
	Source interface {
		Update() int
		Snapshot() []engine.ListenerStatus
		TogglePause(id uuid.UUID) error
		Deactivate(id uuid.UUID) error
		PauseAll()
		ResumeAll()
	}

	TickMsg time.Time

	Model struct {
		src       Source
		title     string
		interval  time.Duration
		listeners []engine.ListenerStatus
		fading    int
		pausedAll bool
		table     table.Model
		help      help.Model
		keys      keymap.Mapping
		err       error
		log       *slog.Logger
	}
)

func New(src Source, title string, interval time.Duration, log *slog.Logger) Model {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return Model{
		src:      src,
		title:    title,
		interval: interval,
		table:    makeListenerTable(),
		help:     help.New(),
		keys:     keymap.DefaultMapping,
		log:      log,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case TickMsg:
		m.fading = m.src.Update()
		m.listeners = m.src.Snapshot()
		m.table.SetRows(listenerRows(m.listeners))
		cmds = append(cmds, m.tick())

	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width - 10)
		m.help.Width = msg.Width

	case rmxerr.ErrMsg:
		m.err = msg

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
		case key.Matches(msg, m.keys.GoBack):
			m.help.ShowAll = false
		case key.Matches(msg, m.keys.PauseAll):
			if m.pausedAll {
				m.src.ResumeAll()
			} else {
				m.src.PauseAll()
			}
			m.pausedAll = !m.pausedAll
		case key.Matches(msg, m.keys.Pause):
			if id, ok := m.selected(); ok {
				cmds = append(cmds, m.do(func() error { return m.src.TogglePause(id) }))
			}
		case key.Matches(msg, m.keys.Deactivate):
			if id, ok := m.selected(); ok {
				cmds = append(cmds, m.do(func() error { return m.src.Deactivate(id) }))
			}
		default:
			// navigation is left to the table
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
		return m, batch(cmds)
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	cmds = append(cmds, cmd)
	return m, batch(cmds)
}

// batch drops nil commands and only wraps when more than one is left, so a
// single command reaches the runtime as is.
func batch(cmds []tea.Cmd) tea.Cmd {
	var valid []tea.Cmd
	for _, c := range cmds {
		if c != nil {
			valid = append(valid, c)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0]
	}
	return tea.Batch(valid...)
}

// do runs fn and reports its error as an rmxerr.ErrMsg.
func (m Model) do(fn func() error) tea.Cmd {
	if err := fn(); err != nil {
		m.log.Warn("monitor action failed", "err", err)
		return func() tea.Msg { return rmxerr.ErrMsg{Err: err} }
	}
	return nil
}

func (m Model) selected() (uuid.UUID, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.listeners) {
		return uuid.Nil, false
	}
	return m.listeners[i].ID, true
}

func (m Model) View() string {
	physicalWidth, _, _ := term.GetSize(int(os.Stdout.Fd()))
	doc := strings.Builder{}

	doc.WriteString(styles.Title.Render(m.title) + "\n")

	// Listener table
	{
		if len(m.listeners) > 0 {
			doc.WriteString(styles.BaseStyle.Render(m.table.View()))
		} else {
			doc.WriteString(styles.MessageText.Render("No listeners."))
		}
		doc.WriteString("\n")
	}

	// Status bar
	{
		doc.WriteString(m.statusBar() + "\n")
	}

	if m.err != nil {
		doc.WriteString(styles.RenderError(m.err.Error()) + "\n")
	}

	// Help menu
	{
		doc.WriteString(styles.HelpMenu.Render(m.help.View(m.keys)))
	}

	if physicalWidth > 0 {
		docStyle = styles.DocStyle.MaxWidth(physicalWidth)
	}
	return docStyle.Render(doc.String())
}

func (m Model) statusBar() string {
	state := "idle"
	drift := "drift -"
	if i := m.table.Cursor(); i >= 0 && i < len(m.listeners) {
		st := m.listeners[i]
		state = stateName(st)
		if st.Drift.Count > 0 {
			drift = fmt.Sprintf("drift %v avg %v", st.Drift.Latest.Round(time.Millisecond), st.Drift.Avg)
		}
	}
	if m.pausedAll {
		state = "paused"
	}

	status := styles.StatusStyle.Render(styles.RenderState(state))
	fading := styles.FadingStyle.Render(fmt.Sprintf("%d fading", m.fading))
	driftCell := styles.DriftStyle.Render(drift)
	textWidth := styles.Width - lipgloss.Width(status) - lipgloss.Width(fading) - lipgloss.Width(driftCell)
	if textWidth < 0 {
		textWidth = 0
	}
	text := styles.StatusText.Copy().Width(textWidth).Render(fmt.Sprintf("%d listeners", len(m.listeners)))

	return styles.StatusBarStyle.Width(styles.Width).Render(
		lipgloss.JoinHorizontal(lipgloss.Top, status, text, fading, driftCell),
	)
}

func makeListenerTable() table.Model {
	columns := []table.Column{
		{Title: "ID", Width: 8},
		{Title: "Instrument", Width: 20},
		{Title: "State", Width: 9},
		{Title: "Time", Width: 13},
		{Title: "Pending", Width: 7},
		{Title: "Resyncs", Width: 7},
		{Title: "Drift", Width: 8},
		{Title: "Notes", Width: 14},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(8),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Grey).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

func listenerRows(listeners []engine.ListenerStatus) []table.Row {
	rows := make([]table.Row, 0, len(listeners))
	for _, st := range listeners {
		row := table.Row{
			st.ID.String()[:8],
			st.Instrument,
			stateName(st),
			"-",
			"-",
			"-",
			"-",
			"",
		}
		if !st.Idle {
			keys := make([]int, 0, len(st.Track.ActiveNotes))
			for _, n := range st.Track.ActiveNotes {
				keys = append(keys, int(n.Key))
			}
			row[3] = fmt.Sprintf("%.2f/%.2f", st.Track.Time, st.Track.Duration)
			row[4] = fmt.Sprint(st.Track.Pending)
			row[5] = fmt.Sprint(st.Track.Resyncs)
			row[7] = notename.FromKeys(keys).String()
		}
		if st.Drift.Count > 0 {
			row[6] = st.Drift.Avg.String()
		}
		rows = append(rows, row)
	}
	return rows
}

func stateName(st engine.ListenerStatus) string {
	if st.Idle {
		return "idle"
	}
	return st.Track.State.String()
}
