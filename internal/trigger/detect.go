// Package trigger inspects the text of a block being edited and decides
// whether a markdown shortcut, the slash menu or the page-link picker fires.
// Every function works on plain strings and byte offsets.
package trigger

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
)

// Kind names the pending action found in the text.
type Kind int

const (
	KindNone Kind = iota
	KindMarkdown
	KindSlash
	KindPageLink
)

func (k Kind) String() string {
	switch k {
	case KindMarkdown:
		return "markdown"
	case KindSlash:
		return "slash"
	case KindPageLink:
		return "page_link"
	default:
		return "none"
	}
}

const (
	SlashSigil         = "/"
	PageLinkSigil      = "[["
	PageLinkTerminator = "]]"
)

// Detection is the result of inspecting a text after one insertion.
type Detection struct {
	Kind Kind
	// Type and Text are set for markdown conversions.
	Type blocks.Type
	Text string
	// Start is the byte offset of the sigil for slash and page-link triggers.
	Start int
	// Query is the text typed after the sigil up to the cursor.
	Query string
}

type shortcut struct {
	marker    string
	blockType blocks.Type
}

// Longer markers come first so "###" wins over "#".
var shortcuts = []shortcut{
	{marker: "###", blockType: blocks.TypeHeading3},
	{marker: "##", blockType: blocks.TypeHeading2},
	{marker: "#", blockType: blocks.TypeHeading1},
	{marker: "---", blockType: blocks.TypeDivider},
	{marker: "-", blockType: blocks.TypeBullet},
	{marker: "*", blockType: blocks.TypeBullet},
	{marker: "[ ]", blockType: blocks.TypeTodo},
	{marker: "[]", blockType: blocks.TypeTodo},
	{marker: ">", blockType: blocks.TypeQuote},
	{marker: `"`, blockType: blocks.TypeQuote},
}

// Shortcut reports the block type a bare marker such as "##" converts to.
func Shortcut(marker string) (blocks.Type, bool) {
	for _, candidate := range shortcuts {
		if candidate.marker == marker {
			return candidate.blockType, true
		}
	}
	return "", false
}

// Detect evaluates the triggers in priority order: markdown shortcut, slash
// command, page link. cursor is the byte offset just after the inserted
// character and is clamped to the text.
func Detect(text string, cursor int) Detection {
	cursor = clampCursor(text, cursor)
	if detection, ok := detectMarkdown(text, cursor); ok {
		return detection
	}
	if detection, ok := detectSlash(text, cursor); ok {
		return detection
	}
	if detection, ok := detectPageLink(text, cursor); ok {
		return detection
	}
	return Detection{Kind: KindNone}
}

// detectMarkdown fires when the character just typed is a space and the text
// before it is a marker, or a marker followed by a space and more text. The
// triggering space is consumed.
func detectMarkdown(text string, cursor int) (Detection, bool) {
	if cursor == 0 || text[cursor-1] != ' ' {
		return Detection{}, false
	}
	before := text[:cursor-1]
	after := text[cursor:]
	for _, candidate := range shortcuts {
		var remainder string
		switch {
		case before == candidate.marker:
			remainder = after
		case strings.HasPrefix(before, candidate.marker+" "):
			remainder = before[len(candidate.marker)+1:] + after
		default:
			continue
		}
		remainder = strings.TrimSpace(remainder)
		if candidate.blockType == blocks.TypeDivider {
			remainder = ""
		}
		return Detection{Kind: KindMarkdown, Type: candidate.blockType, Text: remainder}, true
	}
	return Detection{}, false
}

// detectSlash finds the last "/" before the cursor that starts a word. The
// query runs from the sigil to the cursor and may contain spaces, so labels
// such as "Heading 1" can be typed in full.
func detectSlash(text string, cursor int) (Detection, bool) {
	start := strings.LastIndex(text[:cursor], SlashSigil)
	if start < 0 {
		return Detection{}, false
	}
	if start > 0 && !isSpaceBefore(text, start) {
		return Detection{}, false
	}
	return Detection{Kind: KindSlash, Start: start, Query: text[start+len(SlashSigil) : cursor]}, true
}

// detectPageLink finds the last "[[" before the cursor that has no closing
// "]]" anywhere after it.
func detectPageLink(text string, cursor int) (Detection, bool) {
	start := strings.LastIndex(text[:cursor], PageLinkSigil)
	if start < 0 {
		return Detection{}, false
	}
	if strings.Contains(text[start+len(PageLinkSigil):], PageLinkTerminator) {
		return Detection{}, false
	}
	return Detection{Kind: KindPageLink, Start: start, Query: text[start+len(PageLinkSigil) : cursor]}, true
}

// SigilPresent reports whether the sigil of kind still sits at start.
func SigilPresent(text string, kind Kind, start int) bool {
	var sigil string
	switch kind {
	case KindSlash:
		sigil = SlashSigil
	case KindPageLink:
		sigil = PageLinkSigil
	default:
		return false
	}
	return start >= 0 && start+len(sigil) <= len(text) && text[start:start+len(sigil)] == sigil
}

func isSpaceBefore(text string, index int) bool {
	previous, _ := utf8.DecodeLastRuneInString(text[:index])
	return unicode.IsSpace(previous)
}

func clampCursor(text string, cursor int) int {
	if cursor < 0 {
		return 0
	}
	if cursor > len(text) {
		return len(text)
	}
	return cursor
}
