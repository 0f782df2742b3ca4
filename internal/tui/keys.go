package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all dashboard key bindings with built-in help text.
type KeyMap struct {
	// Global
	Quit      key.Binding
	ForceQuit key.Binding
	Help      key.Binding
	Escape    key.Binding

	// Navigation
	Up       key.Binding
	Down     key.Binding
	Home     key.Binding
	End      key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Enter    key.Binding

	// Tunnel
	StartServeo       key.Binding
	StartLocalhostRun key.Binding
	StopTunnel        key.Binding

	// Filters
	CountryFilter key.Binding
	DateFilter    key.Binding

	// Refresh
	Pause        key.Binding
	IntervalUp   key.Binding
	IntervalDown key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "clear/back"),
		),

		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Home: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("home", "newest visitor"),
		),
		End: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("end", "oldest visitor"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("pgup", "scroll log up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("pgdn", "scroll log down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "visitor details"),
		),

		StartServeo: key.NewBinding(
			key.WithKeys("1"),
			key.WithHelp("1", "start serveo"),
		),
		StartLocalhostRun: key.NewBinding(
			key.WithKeys("2"),
			key.WithHelp("2", "start localhost.run"),
		),
		StopTunnel: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "stop tunnel"),
		),

		CountryFilter: key.NewBinding(
			key.WithKeys("/"),
			key.WithHelp("/", "filter country"),
		),
		DateFilter: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "all/today"),
		),

		Pause: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "pause/resume"),
		),
		IntervalUp: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "faster refresh"),
		),
		IntervalDown: key.NewBinding(
			key.WithKeys("U"),
			key.WithHelp("U", "slower refresh"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.StartServeo, k.StartLocalhostRun, k.StopTunnel, k.CountryFilter, k.Enter, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.StartServeo, k.StartLocalhostRun, k.StopTunnel},
		{k.Up, k.Down, k.Home, k.End, k.Enter},
		{k.PageUp, k.PageDown, k.CountryFilter, k.DateFilter, k.Escape},
		{k.Pause, k.IntervalUp, k.IntervalDown, k.Help, k.Quit},
	}
}
