// Package render turns projection models into terminal text. The same
// functions back the one-shot CLI commands and the TUI panes.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/systemshift/reqgraph/internal/element"
	"github.com/systemshift/reqgraph/internal/projection"
	"github.com/systemshift/reqgraph/internal/query"
)

// DefaultMaxCellWidth bounds table cells.
const DefaultMaxCellWidth = 40

// Styles used when colour is on.
type Styles struct {
	Title    lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style
	Muted    lipgloss.Style
	Orphan   lipgloss.Style
	Edge     lipgloss.Style
	Error    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Selected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		Muted:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		Orphan:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		Edge:     lipgloss.NewStyle().Foreground(lipgloss.Color("111")),
		Error:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

// Renderer formats models. Without colour the output is plain text and
// byte-for-byte stable.
type Renderer struct {
	Styles       Styles
	Color        bool
	MaxCellWidth int
}

// New returns a renderer with the default styles.
func New(color bool) *Renderer {
	return &Renderer{Styles: DefaultStyles(), Color: color, MaxCellWidth: DefaultMaxCellWidth}
}

// ForWriter enables colour only when w is a terminal and NO_COLOR is unset.
func ForWriter(w io.Writer) *Renderer {
	return New(IsTerminal(w) && os.Getenv("NO_COLOR") == "")
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *Renderer) paint(st lipgloss.Style, s string) string {
	if !r.Color || s == "" {
		return s
	}
	return st.Render(s)
}

func mark(selected bool) string {
	if selected {
		return "[x]"
	}
	return "[ ]"
}

// item is one element line. Views index elements by line, so line breaks
// in any part are flattened.
func (r *Renderer) item(selected bool, label, typeTag, id string) string {
	line := mark(selected) + " " + flatten(label)
	if selected {
		line = r.paint(r.Styles.Selected, line)
	}
	return line + "  " + r.paint(r.Styles.Muted, flatten(typeTag+":"+id))
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func flatten(s string) string {
	return lineBreaks.Replace(s)
}

// Tree draws the containment tree with box-drawing connectors.
func (r *Renderer) Tree(m projection.TreeModel) string {
	if len(m.Roots) == 0 {
		return r.paint(r.Styles.Muted, "(no elements)") + "\n"
	}
	var b strings.Builder
	var walk func(nodes []*projection.TreeNode, prefix string, root bool)
	walk = func(nodes []*projection.TreeNode, prefix string, root bool) {
		for i, n := range nodes {
			last := i == len(nodes)-1
			connector, childPrefix := "", prefix
			if !root {
				connector, childPrefix = "├── ", prefix+"│   "
				if last {
					connector, childPrefix = "└── ", prefix+"    "
				}
			}
			b.WriteString(prefix + connector + r.TreeLine(n))
			b.WriteByte('\n')
			walk(n.Children, childPrefix, false)
		}
	}
	walk(m.Roots, "", true)
	return b.String()
}

// TreeLine formats a single node without connectors.
func (r *Renderer) TreeLine(n *projection.TreeNode) string {
	line := r.item(n.Selected, n.Label, n.TypeTag, n.ID)
	if n.Orphan {
		line += "  " + r.paint(r.Styles.Orphan, "(orphan)")
	}
	return line
}

// TableColumns are the fixed leading columns before the attribute union.
var TableColumns = []string{"", "id", "typeTag"}

// Table draws rows as aligned columns: a selection marker, id, type tag,
// then every attribute name in sorted order.
func (r *Renderer) Table(m projection.TableModel) string {
	if len(m.Rows) == 0 {
		return r.paint(r.Styles.Muted, "(no elements)") + "\n"
	}
	attrs := m.Columns()
	header := append(append([]string{}, TableColumns...), attrs...)

	cells := make([][]string, 0, len(m.Rows))
	for _, row := range m.Rows {
		sel := ""
		if row.Selected {
			sel = "*"
		}
		line := []string{sel, row.ID, row.TypeTag}
		for _, a := range attrs {
			line = append(line, r.cell(row.Attributes[a]))
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, line := range cells {
		for i, c := range line {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(r.paint(r.Styles.Header, joinRow(header, widths)))
	b.WriteByte('\n')
	rule := make([]string, len(widths))
	for i, w := range widths {
		rule[i] = strings.Repeat("-", w)
	}
	b.WriteString(r.paint(r.Styles.Muted, joinRow(rule, widths)))
	b.WriteByte('\n')
	for i, line := range cells {
		text := joinRow(line, widths)
		if m.Rows[i].Selected {
			text = r.paint(r.Styles.Selected, text)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String()
}

func joinRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = c + strings.Repeat(" ", widths[i]-lipgloss.Width(c))
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

func (r *Renderer) cell(v any) string {
	s := flatten(FormatValue(v))
	limit := r.MaxCellWidth
	if limit <= 0 || lipgloss.Width(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) > limit-1 {
		runes = runes[:limit-1]
	}
	return string(runes) + "…"
}

// FormatValue renders an attribute value for display. Missing and null
// values are empty; composite values are shown as JSON.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int, int64, int32:
		return fmt.Sprint(t)
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}

// Graph lists nodes then edges.
func (r *Renderer) Graph(m projection.GraphModel) string {
	var b strings.Builder
	b.WriteString(r.paint(r.Styles.Title, fmt.Sprintf("Nodes (%d)", len(m.Nodes))))
	b.WriteByte('\n')
	if len(m.Nodes) == 0 {
		b.WriteString(r.paint(r.Styles.Muted, "(none)") + "\n")
	}
	for _, n := range m.Nodes {
		b.WriteString(r.item(n.Selected, n.Label, n.TypeTag, n.ID) + "\n")
	}
	b.WriteString(r.paint(r.Styles.Title, fmt.Sprintf("Edges (%d)", len(m.Edges))))
	b.WriteByte('\n')
	if len(m.Edges) == 0 {
		b.WriteString(r.paint(r.Styles.Muted, "(none)") + "\n")
	}
	for _, e := range m.Edges {
		b.WriteString(r.EdgeLine(e) + "\n")
	}
	return b.String()
}

// EdgeLine formats one edge. Relationship edges name the element that
// carries them.
func (r *Renderer) EdgeLine(e projection.Edge) string {
	line := e.Source + " " + r.paint(r.Styles.Edge, "--"+e.Kind+"-->") + " " + e.Target
	if e.Kind != projection.EdgeDefinition {
		line += "  " + r.paint(r.Styles.Muted, "via "+e.ElementID)
	}
	return line
}

// Record prints one element as a header line followed by its sorted
// attributes.
func (r *Renderer) Record(rec element.Record) string {
	var b strings.Builder
	b.WriteString(r.paint(r.Styles.Title, rec.TypeTag+":"+rec.ID))
	b.WriteByte('\n')
	keys := make([]string, 0, len(rec.Attributes))
	width := 0
	for k := range rec.Attributes {
		keys = append(keys, k)
		if w := lipgloss.Width(k); w > width {
			width = w
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		pad := strings.Repeat(" ", width-lipgloss.Width(k))
		b.WriteString("  " + r.paint(r.Styles.Header, k) + pad + "  " + FormatValue(rec.Attributes[k]) + "\n")
	}
	return b.String()
}

// PageLine summarises the current page, e.g. "page 1/3 · 120 elements".
func PageLine(st query.State) string {
	if !st.Loaded {
		return "not loaded"
	}
	info := st.Info
	pages := info.TotalPages
	if pages == 0 {
		pages = 1
	}
	noun := "elements"
	if info.TotalCount == 1 {
		noun = "element"
	}
	line := fmt.Sprintf("page %d/%d · %d %s", info.Page+1, pages, info.TotalCount, noun)
	if st.Request.TypeTag != "" {
		line += " · " + st.Request.TypeTag
	}
	return line
}
