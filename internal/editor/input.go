package editor

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/trigger"
	"go.uber.org/zap"
)

// Key names understood by HandleKey.
const (
	KeyEnter     = "Enter"
	KeyBackspace = "Backspace"
	KeyTab       = "Tab"
	KeyEscape    = "Escape"
	KeyArrowUp   = "ArrowUp"
	KeyArrowDown = "ArrowDown"
)

// Key is one key press with its modifiers.
type Key struct {
	Name  string
	Shift bool
	Alt   bool
}

// EffectKind tells the view what an input changed.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectTextChanged
	EffectConverted
	EffectMenuOpened
	EffectMenuUpdated
	EffectMenuClosed
	EffectLinkInserted
	EffectCreated
	EffectDeleted
	EffectIndented
	EffectOutdented
	EffectMoved
	EffectBlurred
)

func (k EffectKind) String() string {
	switch k {
	case EffectTextChanged:
		return "text_changed"
	case EffectConverted:
		return "converted"
	case EffectMenuOpened:
		return "menu_opened"
	case EffectMenuUpdated:
		return "menu_updated"
	case EffectMenuClosed:
		return "menu_closed"
	case EffectLinkInserted:
		return "link_inserted"
	case EffectCreated:
		return "created"
	case EffectDeleted:
		return "deleted"
	case EffectIndented:
		return "indented"
	case EffectOutdented:
		return "outdented"
	case EffectMoved:
		return "moved"
	case EffectBlurred:
		return "blurred"
	default:
		return "none"
	}
}

// Effect is the outcome of one input event. Text and Cursor are set whenever
// the controller rewrote the block's text.
type Effect struct {
	Kind   EffectKind
	Block  blocks.Block
	Focus  blocks.BlockID
	Text   string
	Cursor int
	Menu   MenuView
}

// MenuView is a snapshot of the open menu, if any. Start is the byte offset
// of the menu's sigil in the block text.
type MenuView struct {
	Kind     trigger.Kind
	BlockID  blocks.BlockID
	Start    int
	Query    string
	Options  []trigger.Option
	Pages    []trigger.PageEntry
	Selected int
}

// Open reports whether a menu is showing.
func (v MenuView) Open() bool {
	return v.Kind != trigger.KindNone
}

// At most one menu is open at a time.
type menuState struct {
	blockID blocks.BlockID
	slash   *trigger.SlashMenu
	picker  *trigger.PageLinkPicker

	dismissedBlock blocks.BlockID
	dismissedKind  trigger.Kind
	dismissedStart int
}

func (m *menuState) kind() trigger.Kind {
	switch {
	case m.slash != nil:
		return trigger.KindSlash
	case m.picker != nil:
		return trigger.KindPageLink
	default:
		return trigger.KindNone
	}
}

func (m *menuState) start() int {
	switch {
	case m.slash != nil:
		return m.slash.Start()
	case m.picker != nil:
		return m.picker.Start()
	default:
		return -1
	}
}

func (m *menuState) close() {
	m.blockID = ""
	m.slash = nil
	m.picker = nil
}

func (m *menuState) clearDismissal() {
	m.dismissedBlock = ""
	m.dismissedKind = trigger.KindNone
	m.dismissedStart = 0
}

func (m *menuState) dismissed(id blocks.BlockID, detection trigger.Detection) bool {
	return m.dismissedKind == detection.Kind && m.dismissedBlock == id && m.dismissedStart == detection.Start
}

func (m *menuState) view() MenuView {
	view := MenuView{Kind: m.kind(), BlockID: m.blockID, Start: m.start()}
	switch {
	case m.slash != nil:
		view.Query = m.slash.Query()
		view.Options = m.slash.Options()
		view.Selected = m.slash.SelectedIndex()
	case m.picker != nil:
		view.Query = m.picker.Query()
		view.Pages = m.picker.Results()
		view.Selected = m.picker.SelectedIndex()
	}
	return view
}

// InputText applies the text of a block after one keystroke. cursor is the
// byte offset just after the inserted character. A markdown shortcut converts
// the block at once; otherwise the text is buffered for a debounced write and
// the slash menu or page-link picker is opened, updated or closed.
func (c *Controller) InputText(ctx context.Context, id blocks.BlockID, text string, cursor int) (Effect, error) {
	c.mu.Lock()
	focused := c.focused
	c.mu.Unlock()
	if focused != id {
		if err := c.Focus(ctx, id); err != nil {
			return Effect{}, err
		}
	}

	detection := trigger.Detect(text, cursor)
	if detection.Kind == trigger.KindMarkdown {
		remainder := detection.Text
		block, err := c.ChangeType(ctx, id, detection.Type, blocks.PayloadPatch{Text: &remainder})
		if err != nil {
			return Effect{}, err
		}
		effect := Effect{Kind: EffectConverted, Block: block, Text: block.Payload.Text, Cursor: 0}
		if !block.IsTextTarget() {
			effect.Focus = ""
		} else {
			effect.Focus = id
		}
		return effect, nil
	}

	c.mu.Lock()
	item, err := c.editableLocked(id, true)
	if err != nil {
		c.mu.Unlock()
		return Effect{}, err
	}
	item.Payload.Text = text
	item.PlainText = c.sanitizer.PlainText(text)
	c.items[id] = item

	effect := Effect{Kind: EffectTextChanged, Block: item, Focus: id, Text: text, Cursor: cursor}
	search := false
	switch detection.Kind {
	case trigger.KindSlash:
		if c.menu.dismissed(id, detection) {
			break
		}
		if c.menu.slash != nil && c.menu.blockID == id {
			c.menu.slash.Update(detection.Start, detection.Query)
			effect.Kind = EffectMenuUpdated
		} else {
			c.menu.close()
			c.menu.blockID = id
			c.menu.slash = trigger.NewSlashMenu(detection.Start, detection.Query)
			effect.Kind = EffectMenuOpened
		}
	case trigger.KindPageLink:
		if c.menu.dismissed(id, detection) {
			break
		}
		if c.menu.picker != nil && c.menu.blockID == id {
			search = c.menu.picker.Update(detection.Start, detection.Query)
			effect.Kind = EffectMenuUpdated
		} else {
			c.menu.close()
			c.menu.blockID = id
			c.menu.picker = trigger.NewPageLinkPicker(detection.Start, detection.Query)
			search = true
			effect.Kind = EffectMenuOpened
		}
	default:
		c.menu.clearDismissal()
		if c.menu.kind() != trigger.KindNone {
			c.menu.close()
			effect.Kind = EffectMenuClosed
		}
	}
	effect.Menu = c.menu.view()
	c.mu.Unlock()

	if err := c.engine.Edit(id, text); err != nil {
		return effect, err
	}

	if search && c.pages != nil {
		effect.Menu = c.searchPages(ctx, id, detection.Query)
	}
	return effect, nil
}

func (c *Controller) searchPages(ctx context.Context, id blocks.BlockID, query string) MenuView {
	summaries, err := c.pages.SearchPages(ctx, query)
	if err != nil {
		c.logger.Warn("page search failed", zap.String("query", query), zap.Error(err))
		summaries = nil
	}
	entries := make([]trigger.PageEntry, 0, len(summaries))
	for _, summary := range summaries {
		entries = append(entries, trigger.PageEntry{ID: summary.ID.String(), Title: summary.Title, Icon: summary.Icon})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Results for a query the user already typed past are dropped.
	if c.menu.picker != nil && c.menu.blockID == id && c.menu.picker.Query() == query {
		c.menu.picker.SetResults(entries)
	}
	return c.menu.view()
}

// Menu returns the open menu.
func (c *Controller) Menu() MenuView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.menu.view()
}

// MenuUp moves the menu selection up one row.
func (c *Controller) MenuUp() MenuView {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.menu.slash != nil:
		c.menu.slash.MoveUp()
	case c.menu.picker != nil:
		c.menu.picker.MoveUp()
	}
	return c.menu.view()
}

// MenuDown moves the menu selection down one row.
func (c *Controller) MenuDown() MenuView {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.menu.slash != nil:
		c.menu.slash.MoveDown()
	case c.menu.picker != nil:
		c.menu.picker.MoveDown()
	}
	return c.menu.view()
}

// MenuClose dismisses the open menu. The same sigil does not reopen it until
// the text stops matching.
func (c *Controller) MenuClose() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	kind := c.menu.kind()
	if kind == trigger.KindNone {
		return false
	}
	c.menu.dismissedBlock = c.menu.blockID
	c.menu.dismissedKind = kind
	c.menu.dismissedStart = c.menu.start()
	c.menu.close()
	return true
}

// MenuCommit applies the selected row. A slash option converts the block
// with the "/query" span removed. A page-link row replaces "[[query" with a
// "[[Title]]" link, creating the page first when the create row is chosen.
func (c *Controller) MenuCommit(ctx context.Context) (Effect, error) {
	c.mu.Lock()
	id := c.menu.blockID
	item, ok := c.items[id]
	if c.menu.kind() == trigger.KindNone || !ok {
		c.menu.close()
		c.mu.Unlock()
		return Effect{Kind: EffectNone}, nil
	}

	if slash := c.menu.slash; slash != nil {
		commit, ok := slash.Commit(item.Payload.Text)
		c.menu.close()
		c.mu.Unlock()
		if !ok {
			return Effect{Kind: EffectMenuClosed, Block: item}, nil
		}
		block, err := c.ChangeType(ctx, id, commit.Type, blocks.PayloadPatch{Text: &commit.Text})
		if err != nil {
			return Effect{}, err
		}
		effect := Effect{Kind: EffectConverted, Block: block, Text: block.Payload.Text, Cursor: commit.Cursor}
		if block.IsTextTarget() {
			effect.Focus = id
		}
		return effect, nil
	}

	picker := c.menu.picker
	entry, create := picker.Choice()
	createTitle := picker.CreateTitle()
	c.mu.Unlock()

	title := entry.Title
	if create {
		if c.pages == nil {
			return Effect{}, errNoDirectory
		}
		page, err := c.pages.CreatePage(ctx, pages.NewPage{Title: createTitle})
		if err != nil {
			c.logger.Warn("page create from link failed", zap.String("title", createTitle), zap.Error(err))
			return Effect{}, err
		}
		title = page.Title
	}

	c.mu.Lock()
	item, ok = c.items[id]
	if !ok {
		c.menu.close()
		c.mu.Unlock()
		return Effect{}, notFound(id)
	}
	text, cursor, replaced := picker.Replace(item.Payload.Text, title)
	if c.menu.picker == picker {
		c.menu.close()
	}
	if !replaced {
		c.mu.Unlock()
		return Effect{Kind: EffectMenuClosed, Block: item}, nil
	}
	item.Payload.Text = text
	item.PlainText = c.sanitizer.PlainText(text)
	c.items[id] = item
	c.mu.Unlock()

	if err := c.engine.Edit(id, text); err != nil {
		return Effect{}, err
	}
	return Effect{Kind: EffectLinkInserted, Block: item, Focus: id, Text: text, Cursor: cursor}, nil
}

// HandleKey routes a key press. While a menu is open the arrows, Enter and
// Escape belong to it.
func (c *Controller) HandleKey(ctx context.Context, id blocks.BlockID, key Key) (Effect, error) {
	c.mu.Lock()
	item, ok := c.items[id]
	menuOpen := c.menu.kind() != trigger.KindNone && c.menu.blockID == id
	c.mu.Unlock()
	if !ok {
		return Effect{}, notFound(id)
	}

	if menuOpen {
		switch key.Name {
		case KeyArrowUp:
			return Effect{Kind: EffectMenuUpdated, Block: item, Menu: c.MenuUp()}, nil
		case KeyArrowDown:
			return Effect{Kind: EffectMenuUpdated, Block: item, Menu: c.MenuDown()}, nil
		case KeyEnter:
			return c.MenuCommit(ctx)
		case KeyEscape:
			c.MenuClose()
			return Effect{Kind: EffectMenuClosed, Block: item}, nil
		}
	}

	switch {
	case key.Name == KeyEnter && !key.Shift:
		if item.Payload.Text == "" || !item.IsTextTarget() {
			return Effect{Kind: EffectNone, Block: item}, nil
		}
		created, err := c.SplitAtCursor(ctx, id)
		if err != nil {
			return Effect{}, err
		}
		return Effect{Kind: EffectCreated, Block: created, Focus: created.ID}, nil
	case key.Name == KeyBackspace:
		if item.Payload.Text != "" {
			return Effect{Kind: EffectNone, Block: item}, nil
		}
		return c.MergeOrDeleteOnBackspace(ctx, id)
	case key.Name == KeyTab && key.Shift:
		block, err := c.Outdent(ctx, id)
		return Effect{Kind: EffectOutdented, Block: block, Focus: id}, err
	case key.Name == KeyTab:
		block, err := c.Indent(ctx, id)
		return Effect{Kind: EffectIndented, Block: block, Focus: id}, err
	case key.Name == KeyArrowUp && key.Alt:
		if err := c.MoveUp(ctx, id); err != nil {
			return Effect{}, err
		}
		return c.movedEffect(id), nil
	case key.Name == KeyArrowDown && key.Alt:
		if err := c.MoveDown(ctx, id); err != nil {
			return Effect{}, err
		}
		return c.movedEffect(id), nil
	case key.Name == KeyEscape:
		c.Blur(ctx)
		return Effect{Kind: EffectBlurred, Block: item}, nil
	}
	return Effect{Kind: EffectNone, Block: item}, nil
}

func (c *Controller) movedEffect(id blocks.BlockID) Effect {
	block, _ := c.Block(id)
	return Effect{Kind: EffectMoved, Block: block, Focus: id}
}

// String renders the view for logs.
func (v MenuView) String() string {
	return fmt.Sprintf("%s(%q, %d rows, selected %d)", v.Kind, v.Query, len(v.Options)+len(v.Pages), v.Selected)
}
