package pages

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
)

const (
	// DefaultTitle names pages created without a title.
	DefaultTitle = "Untitled"
	// DefaultIcon decorates pages created without an icon.
	DefaultIcon = "📄"
)

// Directory is the page-link collaborator consumed by the editor.
type Directory interface {
	SearchPages(ctx context.Context, query string) ([]PageSummary, error)
	CreatePage(ctx context.Context, request NewPage) (PageSummary, error)
}

// PageSummary is the search and creation result shape.
type PageSummary struct {
	ID        blocks.PageID `json:"id"`
	Title     string        `json:"title"`
	Icon      string        `json:"icon"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewPage describes a page to be created.
type NewPage struct {
	Title string `json:"title"`
	Icon  string `json:"icon"`
}

// normalized fills in the default title and icon.
func (n NewPage) normalized() NewPage {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	n.Icon = strings.TrimSpace(n.Icon)
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	return n
}

// PageRecord is the persisted row of a page.
type PageRecord struct {
	PageID           string `gorm:"column:page_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:500;not null"`
	Icon             string `gorm:"column:icon;size:32;not null;default:''"`
	Archived         bool   `gorm:"column:archived;not null;default:false;index:idx_pages_archived_updated,priority:1"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_pages_archived_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (PageRecord) TableName() string {
	return "pages"
}

func (r PageRecord) summary() PageSummary {
	return PageSummary{
		ID:        blocks.PageID(r.PageID),
		Title:     r.Title,
		Icon:      r.Icon,
		UpdatedAt: time.Unix(r.UpdatedAtSeconds, 0).UTC(),
	}
}

// Link is one outgoing [[Title]] reference, resolved to a page when a
// non-archived page carries that title.
type Link struct {
	Title  string        `json:"title"`
	PageID blocks.PageID `json:"pageId,omitempty"`
}

var linkPattern = regexp.MustCompile(`\[\[([^\]]+)\]\]`)

// ExtractLinks returns every distinct [[Title]] target in order of appearance.
func ExtractLinks(text string) []string {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	titles := make([]string, 0, len(matches))
	for _, match := range matches {
		title := strings.TrimSpace(match[1])
		if title == "" {
			continue
		}
		if _, duplicate := seen[title]; duplicate {
			continue
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
	}
	return titles
}
