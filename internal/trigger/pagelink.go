package trigger

import "strings"

// DefaultPageTitle is used when a page is created from an empty query.
const DefaultPageTitle = "Untitled"

// PageEntry is one search result shown by the page-link picker.
type PageEntry struct {
	ID    string
	Title string
	Icon  string
}

// PageLinkPicker is the open "[[" picker of one block. Besides the search
// results it always offers a final row that creates a page named after the
// query. It only edits text and never navigates.
type PageLinkPicker struct {
	start    int
	query    string
	results  []PageEntry
	selected int
}

// NewPageLinkPicker opens a picker for the "[[" at start.
func NewPageLinkPicker(start int, query string) *PageLinkPicker {
	return &PageLinkPicker{start: start, query: query}
}

// Update moves the picker to a new query and reports whether the query
// changed, in which case results must be fetched again.
func (p *PageLinkPicker) Update(start int, query string) bool {
	p.start = start
	if query == p.query {
		return false
	}
	p.query = query
	p.selected = 0
	return true
}

func (p *PageLinkPicker) Start() int    { return p.start }
func (p *PageLinkPicker) Query() string { return p.query }

// SetResults replaces the search results and resets the selection.
func (p *PageLinkPicker) SetResults(results []PageEntry) {
	p.results = append([]PageEntry(nil), results...)
	p.selected = 0
}

// Results returns the current search results.
func (p *PageLinkPicker) Results() []PageEntry {
	return append([]PageEntry(nil), p.results...)
}

// SelectedIndex returns the cursor row; len(Results()) is the create row.
func (p *PageLinkPicker) SelectedIndex() int {
	return p.selected
}

func (p *PageLinkPicker) MoveUp() {
	if p.selected > 0 {
		p.selected--
	}
}

func (p *PageLinkPicker) MoveDown() {
	if p.selected < len(p.results) {
		p.selected++
	}
}

// Choice returns the selected result, or create=true for the create row.
func (p *PageLinkPicker) Choice() (entry PageEntry, create bool) {
	if p.selected >= len(p.results) {
		return PageEntry{}, true
	}
	return p.results[p.selected], false
}

// CreateTitle is the title used when the create row is chosen.
func (p *PageLinkPicker) CreateTitle() string {
	title := strings.TrimSpace(p.query)
	if title == "" {
		return DefaultPageTitle
	}
	return title
}

// Replace swaps the "[[query" span for "[[title]]" and returns the new text
// with the cursor placed after the closing brackets.
func (p *PageLinkPicker) Replace(text string, title string) (string, int, bool) {
	if !SigilPresent(text, KindPageLink, p.start) {
		return text, 0, false
	}
	end := min(p.start+len(PageLinkSigil)+len(p.query), len(text))
	link := PageLinkSigil + title + PageLinkTerminator
	return text[:p.start] + link + text[end:], p.start + len(link), true
}
