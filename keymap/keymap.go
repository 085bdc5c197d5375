package keymap

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type Mapping struct {
	Up         key.Binding
	Down       key.Binding
	Pause      key.Binding
	PauseAll   key.Binding
	Deactivate key.Binding
	Help       key.Binding
	GoBack     key.Binding
	Quit       key.Binding
}

var DefaultMapping = Mapping{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Pause: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "pause listener"),
	),
	PauseAll: key.NewBinding(
		key.WithKeys("p"),
		key.WithHelp("p", "pause all"),
	),
	Deactivate: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "deactivate"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "more"),
	),
	GoBack: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "close help"),
	),
	Quit: key.NewBinding(
		key.WithKeys(tea.KeyCtrlC.String(), "q"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp is shown under the listener table.
func (m Mapping) ShortHelp() []key.Binding {
	return []key.Binding{m.Pause, m.Deactivate, m.Help, m.Quit}
}

func (m Mapping) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.Up, m.Down},
		{m.Pause, m.PauseAll, m.Deactivate},
		{m.Help, m.GoBack, m.Quit},
	}
}
