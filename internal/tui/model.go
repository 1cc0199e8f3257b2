// Package tui is the interactive three-pane view. The tree, table and
// graph panes all read from one store; selecting in any pane is visible
// in the other two on the next render.
//
// Backend calls run as tea.Cmd goroutines and go through the store. The
// model itself only tracks focus and cursors.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/systemshift/reqgraph/internal/logging"
	"github.com/systemshift/reqgraph/internal/query"
	"github.com/systemshift/reqgraph/internal/render"
	"github.com/systemshift/reqgraph/internal/store"
)

// Pane identifies one of the three views.
type Pane int

const (
	PaneTree Pane = iota
	PaneTable
	PaneGraph
	paneCount
)

func (p Pane) String() string {
	switch p {
	case PaneTree:
		return "Tree"
	case PaneTable:
		return "Table"
	case PaneGraph:
		return "Graph"
	default:
		return "?"
	}
}

const (
	defaultWidth  = 120
	defaultHeight = 30
)

// Options configures the model.
type Options struct {
	TypeTags []string
	PageSize int
	Renderer *render.Renderer
	Logger   *slog.Logger
}

// Messages produced by backend commands.
type (
	loadedMsg  struct{ err error }
	deletedMsg struct {
		id  string
		err error
	}
	pagedMsg struct {
		moved bool
		err   error
	}
)

var (
	focusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205"))
	blurredBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("241"))
	paneTitle     = lipgloss.NewStyle().Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model is the bubbletea model.
type Model struct {
	ctx      context.Context
	store    *store.Store
	opts     Options
	keys     KeyMap
	help     help.Model
	focus    Pane
	cursor   [paneCount]int
	width    int
	height   int
	notice   string
	quitting bool
}

// New builds a model over s. ctx bounds every backend call the model
// starts.
func New(ctx context.Context, s *store.Store, opts Options) Model {
	if opts.Renderer == nil {
		opts.Renderer = render.New(true)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = query.DefaultPageSize
	}
	return Model{
		ctx:    ctx,
		store:  s,
		opts:   opts,
		keys:   DefaultKeyMap(),
		help:   help.New(),
		width:  defaultWidth,
		height: defaultHeight,
	}
}

// Run starts the program on the alternate screen and blocks until quit.
func Run(ctx context.Context, s *store.Store, opts Options) error {
	p := tea.NewProgram(New(ctx, s, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return m.loadCmd()
}

func (m Model) loadCmd() tea.Cmd {
	s, ctx := m.store, m.ctx
	tags, size := m.opts.TypeTags, m.opts.PageSize
	return func() tea.Msg {
		return loadedMsg{err: s.LoadTypes(ctx, tags, query.Request{PageSize: size})}
	}
}

func (m Model) deleteCmd(id string) tea.Cmd {
	s, ctx := m.store, m.ctx
	return func() tea.Msg {
		return deletedMsg{id: id, err: s.Delete(ctx, id)}
	}
}

func (m Model) pageCmd(next bool) tea.Cmd {
	s, ctx := m.store, m.ctx
	return func() tea.Msg {
		var moved bool
		var err error
		if next {
			moved, err = s.NextPage(ctx)
		} else {
			moved, err = s.PrevPage(ctx)
		}
		return pagedMsg{moved: moved, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		return m, nil

	case loadedMsg:
		m.notice = ""
		if msg.err != nil {
			m.opts.Logger.Warn("load failed", "error", msg.err)
		}
		m.clampCursors()
		return m, nil

	case deletedMsg:
		m.notice = ""
		if msg.err == nil {
			m.notice = "deleted " + msg.id
		}
		m.clampCursors()
		return m, nil

	case pagedMsg:
		m.notice = ""
		if msg.err == nil && !msg.moved {
			m.notice = "no more pages"
		}
		m.clampCursors()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.NextPane):
		m.focus = (m.focus + 1) % paneCount
	case key.Matches(msg, m.keys.PrevPane):
		m.focus = (m.focus + paneCount - 1) % paneCount
	case key.Matches(msg, m.keys.Up):
		if m.cursor[m.focus] > 0 {
			m.cursor[m.focus]--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor[m.focus] < len(m.items(m.focus))-1 {
			m.cursor[m.focus]++
		}
	case key.Matches(msg, m.keys.Select):
		if id, ok := m.current(); ok {
			m.store.Select(id, true)
		}
	case key.Matches(msg, m.keys.Toggle):
		if id, ok := m.current(); ok {
			m.store.Select(id, false)
		}
	case key.Matches(msg, m.keys.Clear):
		m.store.ClearSelection()
	case key.Matches(msg, m.keys.Delete):
		if id, ok := m.current(); ok {
			m.notice = "deleting " + id
			return m, m.deleteCmd(id)
		}
	case key.Matches(msg, m.keys.Reload):
		m.notice = "reloading"
		return m, m.loadCmd()
	case key.Matches(msg, m.keys.NextPage):
		return m, m.pageCmd(true)
	case key.Matches(msg, m.keys.PrevPage):
		return m, m.pageCmd(false)
	}
	return m, nil
}

// items returns the element ids of pane p in display order.
func (m Model) items(p Pane) []string {
	switch p {
	case PaneTree:
		flat := m.store.TreeModel().Flatten()
		ids := make([]string, len(flat))
		for i, f := range flat {
			ids[i] = f.Node.ID
		}
		return ids
	case PaneTable:
		rows := m.store.TableModel().Rows
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		return ids
	case PaneGraph:
		nodes := m.store.GraphModel().Nodes
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = n.ID
		}
		return ids
	}
	return nil
}

func (m Model) current() (string, bool) {
	ids := m.items(m.focus)
	c := m.cursor[m.focus]
	if c < 0 || c >= len(ids) {
		return "", false
	}
	return ids[c], true
}

func (m *Model) clampCursors() {
	for p := Pane(0); p < paneCount; p++ {
		n := len(m.items(p))
		if m.cursor[p] >= n {
			m.cursor[p] = n - 1
		}
		if m.cursor[p] < 0 {
			m.cursor[p] = 0
		}
	}
}

// Focus reports the focused pane.
func (m Model) Focus() Pane { return m.focus }

// Cursor reports the cursor position in pane p.
func (m Model) Cursor(p Pane) int { return m.cursor[p] }

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Border and title take four columns and three rows per pane.
	paneWidth := m.width/int(paneCount) - 4
	if paneWidth < 10 {
		paneWidth = 10
	}
	bodyHeight := m.height - 6
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	panes := make([]string, paneCount)
	for p := Pane(0); p < paneCount; p++ {
		panes[p] = m.viewPane(p, paneWidth, bodyHeight)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, panes...),
		m.statusLine(),
		m.help.View(m.keys),
	)
}

// PaneText renders pane p without borders, one element per line after
// any header lines, with the cursor marked.
func (m Model) PaneText(p Pane) string {
	lines, first := m.paneLines(p)
	c := m.cursor[p]
	out := make([]string, len(lines))
	for i, line := range lines {
		prefix := "  "
		if p == m.focus && i == first+c && c < len(m.items(p)) {
			prefix = "> "
		}
		out[i] = prefix + line
	}
	return strings.Join(out, "\n")
}

// paneLines returns the rendered lines of p and the index of the line
// showing the first element.
func (m Model) paneLines(p Pane) ([]string, int) {
	r := m.opts.Renderer
	var text string
	first := 0
	switch p {
	case PaneTree:
		text = r.Tree(m.store.TreeModel())
	case PaneTable:
		text = r.Table(m.store.TableModel())
		first = 2
	case PaneGraph:
		text = r.Graph(m.store.GraphModel())
		first = 1
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n"), first
}

func (m Model) viewPane(p Pane, width, height int) string {
	lines := strings.Split(m.PaneText(p), "\n")
	_, first := m.paneLines(p)

	// Keep the cursor line in view.
	start := first + m.cursor[p] - height + 1
	if start < 0 {
		start = 0
	}
	end := start + height
	if end > len(lines) {
		end = len(lines)
	}
	visible := lines[start:end]

	clip := lipgloss.NewStyle().MaxWidth(width)
	for i, line := range visible {
		visible[i] = clip.Render(line)
	}

	border := blurredBorder
	if p == m.focus {
		border = focusedBorder
	}
	title := paneTitle.Render(p.String())
	body := lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(visible, "\n"))
	return border.Render(title + "\n" + body)
}

func (m Model) statusLine() string {
	parts := []string{render.PageLine(m.store.PageState())}
	if n := m.store.Selection().Len(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d selected", n))
	}
	if m.store.Loading() {
		parts = append(parts, "loading…")
	}
	if m.notice != "" {
		parts = append(parts, m.notice)
	}
	line := statusStyle.Render(strings.Join(parts, " · "))
	if err := m.store.LastError(); err != nil {
		line += "  " + m.opts.Renderer.Error(err)
	}
	return line
}
