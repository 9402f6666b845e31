package blocks

import (
	"fmt"
	"strings"
	"time"
)

// Type enumerates the closed set of block variants.
type Type string

const (
	TypeParagraph Type = "paragraph"
	TypeHeading1  Type = "heading1"
	TypeHeading2  Type = "heading2"
	TypeHeading3  Type = "heading3"
	TypeTodo      Type = "todo"
	TypeToggle    Type = "toggle"
	TypeBullet    Type = "bullet"
	TypeNumbered  Type = "numbered"
	TypeQuote     Type = "quote"
	TypeDivider   Type = "divider"
)

var knownTypes = []Type{
	TypeParagraph,
	TypeHeading1,
	TypeHeading2,
	TypeHeading3,
	TypeTodo,
	TypeBullet,
	TypeNumbered,
	TypeToggle,
	TypeQuote,
	TypeDivider,
}

// Types returns every block type in menu order.
func Types() []Type {
	return append([]Type(nil), knownTypes...)
}

// ParseType validates raw input and returns the matching Type.
func ParseType(rawInput string) (Type, error) {
	candidate := Type(strings.TrimSpace(rawInput))
	if !candidate.Valid() {
		return "", fmt.Errorf("%w: unknown block type %q", ErrValidation, rawInput)
	}
	return candidate, nil
}

// Valid reports whether t belongs to the closed type set.
func (t Type) Valid() bool {
	for _, known := range knownTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AcceptsTextTriggers reports whether edited text of this type is inspected
// for slash, page-link and markdown triggers. Dividers carry no text.
func (t Type) AcceptsTextTriggers() bool {
	return t.Valid() && t != TypeDivider
}

// String returns the wire name of the type.
func (t Type) String() string {
	return string(t)
}

const (
	MinLevel = 0
	MaxLevel = 3
)

// ClampLevel bounds an indentation level to [MinLevel, MaxLevel].
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// Payload is the variant-shaped content of a block.
type Payload struct {
	Text     string `json:"text"`
	Checked  bool   `json:"checked"`
	Expanded bool   `json:"expanded"`
	Level    int    `json:"level"`
}

// Normalize clamps the level and drops text the given type cannot carry.
func (p Payload) Normalize(blockType Type) Payload {
	p.Level = ClampLevel(p.Level)
	if blockType == TypeDivider {
		p.Text = ""
	}
	return p
}

// PayloadPatch carries a partial payload update. Nil fields are left untouched.
type PayloadPatch struct {
	Text     *string `json:"text,omitempty"`
	Checked  *bool   `json:"checked,omitempty"`
	Expanded *bool   `json:"expanded,omitempty"`
	Level    *int    `json:"level,omitempty"`
}

// IsZero reports whether the patch changes nothing.
func (p PayloadPatch) IsZero() bool {
	return p.Text == nil && p.Checked == nil && p.Expanded == nil && p.Level == nil
}

// Apply merges the patch over base and returns the result.
func (p PayloadPatch) Apply(base Payload) Payload {
	if p.Text != nil {
		base.Text = *p.Text
	}
	if p.Checked != nil {
		base.Checked = *p.Checked
	}
	if p.Expanded != nil {
		base.Expanded = *p.Expanded
	}
	if p.Level != nil {
		base.Level = ClampLevel(*p.Level)
	}
	return base
}

// Block is the atomic unit of page content.
type Block struct {
	ID            BlockID   `json:"id"`
	PageID        PageID    `json:"pageId"`
	ParentBlockID BlockID   `json:"parentBlockId,omitempty"`
	Type          Type      `json:"type"`
	Payload       Payload   `json:"payload"`
	Position      int       `json:"position"`
	PlainText     string    `json:"plainText"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Siblings identifies the sibling group over which positions are ordered.
type Siblings struct {
	PageID        PageID
	ParentBlockID BlockID
}

// Siblings returns the sibling group the block belongs to.
func (b Block) Siblings() Siblings {
	return Siblings{PageID: b.PageID, ParentBlockID: b.ParentBlockID}
}

// IsTextTarget reports whether the block may be edited as text.
func (b Block) IsTextTarget() bool {
	return b.Type.AcceptsTextTriggers()
}

// NewBlock describes a block to be created. A nil Position appends the block
// after its last sibling.
type NewBlock struct {
	PageID        PageID  `json:"pageId"`
	ParentBlockID BlockID `json:"parentBlockId,omitempty"`
	Type          Type    `json:"type"`
	Payload       Payload `json:"payload"`
	Position      *int    `json:"position,omitempty"`
}

// Validate rejects malformed creation requests.
func (n NewBlock) Validate() error {
	if _, err := NewPageID(n.PageID.String()); err != nil {
		return err
	}
	if n.ParentBlockID != "" {
		if _, err := NewBlockID(n.ParentBlockID.String()); err != nil {
			return err
		}
	}
	if !n.Type.Valid() {
		return fmt.Errorf("%w: unknown block type %q", ErrValidation, n.Type)
	}
	if n.Position != nil && *n.Position < 0 {
		return fmt.Errorf("%w: position %d is negative", ErrValidation, *n.Position)
	}
	return nil
}

// BlockPatch describes a partial update. Nil fields are left untouched.
type BlockPatch struct {
	Type     *Type         `json:"type,omitempty"`
	Payload  *PayloadPatch `json:"payload,omitempty"`
	Position *int          `json:"position,omitempty"`
}

// Validate rejects malformed patches.
func (p BlockPatch) Validate() error {
	if p.Type != nil && !p.Type.Valid() {
		return fmt.Errorf("%w: unknown block type %q", ErrValidation, *p.Type)
	}
	if p.Position != nil && *p.Position < 0 {
		return fmt.Errorf("%w: position %d is negative", ErrValidation, *p.Position)
	}
	return nil
}

// TouchesText reports whether the patch replaces the block text.
func (p BlockPatch) TouchesText() bool {
	return p.Payload != nil && p.Payload.Text != nil
}

// PositionUpdate assigns a new position to one block in a batched reorder.
type PositionUpdate struct {
	ID       BlockID `json:"id"`
	Position int     `json:"position"`
}

// ValidatePositionUpdates rejects empty batches, unknown ids, duplicate ids
// and negative positions.
func ValidatePositionUpdates(updates []PositionUpdate) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: reorder batch is empty", ErrValidation)
	}
	seen := make(map[BlockID]struct{}, len(updates))
	for _, update := range updates {
		if _, err := NewBlockID(update.ID.String()); err != nil {
			return err
		}
		if update.Position < 0 {
			return fmt.Errorf("%w: position %d is negative", ErrValidation, update.Position)
		}
		if _, duplicate := seen[update.ID]; duplicate {
			return fmt.Errorf("%w: block %s appears twice in reorder batch", ErrValidation, update.ID)
		}
		seen[update.ID] = struct{}{}
	}
	return nil
}
