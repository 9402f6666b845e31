package trigger

import (
	"strings"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
)

// Option is one row of the slash menu.
type Option struct {
	Type        blocks.Type
	Label       string
	Description string
	Keywords    []string
}

var options = []Option{
	{Type: blocks.TypeParagraph, Label: "Text", Description: "Just start writing with plain text.", Keywords: []string{"text", "paragraph", "p"}},
	{Type: blocks.TypeHeading1, Label: "Heading 1", Description: "Big section heading.", Keywords: []string{"heading", "h1", "title"}},
	{Type: blocks.TypeHeading2, Label: "Heading 2", Description: "Medium section heading.", Keywords: []string{"heading", "h2", "subtitle"}},
	{Type: blocks.TypeHeading3, Label: "Heading 3", Description: "Small section heading.", Keywords: []string{"heading", "h3"}},
	{Type: blocks.TypeTodo, Label: "To-do List", Description: "Track tasks with a todo list.", Keywords: []string{"todo", "task", "checkbox", "check"}},
	{Type: blocks.TypeBullet, Label: "Bulleted List", Description: "Create a simple bulleted list.", Keywords: []string{"bullet", "list", "ul"}},
	{Type: blocks.TypeNumbered, Label: "Numbered List", Description: "Create a list with numbering.", Keywords: []string{"numbered", "number", "list", "ol"}},
	{Type: blocks.TypeToggle, Label: "Toggle List", Description: "Toggles can hide and show content inside.", Keywords: []string{"toggle", "collapse", "dropdown"}},
	{Type: blocks.TypeQuote, Label: "Quote", Description: "Capture a quote.", Keywords: []string{"quote", "blockquote", "cite"}},
	{Type: blocks.TypeDivider, Label: "Divider", Description: "Visually divide blocks.", Keywords: []string{"divider", "hr", "separator", "line"}},
}

// Options returns every slash menu row in menu order.
func Options() []Option {
	return append([]Option(nil), options...)
}

// Filter keeps the options whose label, description or any keyword contains
// the query, ignoring case. An empty query keeps everything.
func Filter(query string) []Option {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return Options()
	}
	filtered := make([]Option, 0, len(options))
	for _, option := range options {
		if option.matches(needle) {
			filtered = append(filtered, option)
		}
	}
	return filtered
}

func (o Option) matches(needle string) bool {
	if strings.Contains(strings.ToLower(o.Label), needle) || strings.Contains(strings.ToLower(o.Description), needle) {
		return true
	}
	for _, keyword := range o.Keywords {
		if strings.Contains(strings.ToLower(keyword), needle) {
			return true
		}
	}
	return false
}

// SlashMenu is the open slash menu of one block.
type SlashMenu struct {
	start    int
	query    string
	options  []Option
	selected int
}

// NewSlashMenu opens a menu for the "/" at start.
func NewSlashMenu(start int, query string) *SlashMenu {
	return &SlashMenu{start: start, query: query, options: Filter(query)}
}

// Update refilters the menu. The selection resets whenever the query changes.
func (m *SlashMenu) Update(start int, query string) {
	if start == m.start && query == m.query {
		return
	}
	m.start = start
	m.query = query
	m.options = Filter(query)
	m.selected = 0
}

func (m *SlashMenu) Start() int    { return m.start }
func (m *SlashMenu) Query() string { return m.query }

// Options returns the filtered rows.
func (m *SlashMenu) Options() []Option {
	return append([]Option(nil), m.options...)
}

// SelectedIndex returns the cursor row.
func (m *SlashMenu) SelectedIndex() int {
	return m.selected
}

// Selected returns the option under the cursor, if any row is left.
func (m *SlashMenu) Selected() (Option, bool) {
	if len(m.options) == 0 {
		return Option{}, false
	}
	return m.options[m.selected], true
}

func (m *SlashMenu) MoveUp() {
	if m.selected > 0 {
		m.selected--
	}
}

func (m *SlashMenu) MoveDown() {
	if m.selected < len(m.options)-1 {
		m.selected++
	}
}

// Commit is the outcome of choosing a menu row.
type Commit struct {
	Type   blocks.Type
	Text   string
	Cursor int
}

// Commit deletes the "/query" span from text and returns the chosen type.
// It reports false when nothing is selected or the sigil is gone.
func (m *SlashMenu) Commit(text string) (Commit, bool) {
	option, ok := m.Selected()
	if !ok || !SigilPresent(text, KindSlash, m.start) {
		return Commit{}, false
	}
	end := min(m.start+len(SlashSigil)+len(m.query), len(text))
	return Commit{
		Type:   option.Type,
		Text:   text[:m.start] + text[end:],
		Cursor: m.start,
	}, true
}
