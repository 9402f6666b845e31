// Package sanitize guards every block text before it is rendered as markup and
// derives the plain-text projection used for search.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer renders untrusted block markup safe and strips it to plain text.
type Sanitizer interface {
	Sanitize(rawHTML string) string
	PlainText(rawHTML string) string
}

// Policy is the bluemonday-backed Sanitizer. Inline formatting survives
// Sanitize; PlainText drops every tag.
type Policy struct {
	inline *bluemonday.Policy
	strict *bluemonday.Policy
}

var _ Sanitizer = (*Policy)(nil)

// NewPolicy builds the inline formatting policy used for block text.
func NewPolicy() *Policy {
	inline := bluemonday.NewPolicy()
	inline.AllowElements("b", "strong", "i", "em", "u", "s", "strike", "code", "br", "span")
	inline.AllowAttrs("href").OnElements("a")
	inline.AllowStandardURLs()
	inline.RequireNoFollowOnLinks(true)
	inline.AddTargetBlankToFullyQualifiedLinks(true)

	return &Policy{
		inline: inline,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize removes every element and attribute outside the inline policy.
func (p *Policy) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return p.inline.Sanitize(rawHTML)
}

// PlainText strips all markup and decodes entities.
func (p *Policy) PlainText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	stripped := p.strict.Sanitize(rawHTML)
	if !strings.Contains(stripped, "&") {
		return stripped
	}
	return html.UnescapeString(stripped)
}
