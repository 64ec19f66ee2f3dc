package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit           key.Binding
	Help           key.Binding
	Refresh        key.Binding
	Clear          key.Binding
	CycleTheme     key.Binding
	ToggleQueryIDs key.Binding
	Up             key.Binding
	Down           key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c", "q"),
			key.WithHelp("q", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "h"),
			key.WithHelp("?", "Toggle help"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Reload every panel"),
		),
		Clear: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Clear the cache and reload"),
		),
		CycleTheme: key.NewBinding(
			key.WithKeys("T"),
			key.WithHelp("T", "Cycle theme"),
		),
		ToggleQueryIDs: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "Show query identities"),
		),
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/up", "Scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/down", "Scroll down"),
		),
	}
}

func (k keyMap) all() []key.Binding {
	return []key.Binding{k.Refresh, k.Clear, k.ToggleQueryIDs, k.CycleTheme, k.Up, k.Down, k.Help, k.Quit}
}
