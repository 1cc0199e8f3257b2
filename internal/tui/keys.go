package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the TUI bindings.
type KeyMap struct {
	NextPane key.Binding
	PrevPane key.Binding
	Up       key.Binding
	Down     key.Binding
	Select   key.Binding
	Toggle   key.Binding
	Clear    key.Binding
	Delete   key.Binding
	Reload   key.Binding
	NextPage key.Binding
	PrevPage key.Binding
	Quit     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		NextPane: key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
		PrevPane: key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "prev pane")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Select:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "select")),
		Toggle:   key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "multi-select")),
		Clear:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "clear")),
		Delete:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		Reload:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		NextPage: key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next page")),
		PrevPage: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "prev page")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextPane, k.Select, k.Toggle, k.Clear, k.Delete, k.Reload, k.NextPage, k.PrevPage, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextPane, k.PrevPane, k.Up, k.Down},
		{k.Select, k.Toggle, k.Clear, k.Delete},
		{k.Reload, k.NextPage, k.PrevPage, k.Quit},
	}
}
