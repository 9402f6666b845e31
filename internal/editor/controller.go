package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/MarcoPoloResearchLab/blockpad/internal/sanitize"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const provisionalPrefix = "local-"

var (
	errControllerClosed = errors.New("editor: controller closed")
	errNoDirectory      = errors.New("editor: page directory not configured")
)

// IsProvisional reports whether id was assigned locally to a block whose
// create write has not completed.
func IsProvisional(id blocks.BlockID) bool {
	return strings.HasPrefix(id.String(), provisionalPrefix)
}

// ControllerConfig wires a Controller for one page.
type ControllerConfig struct {
	PageID     blocks.PageID
	Store      blocks.Store
	Pages      pages.Directory
	Sanitizer  sanitize.Sanitizer
	Delay      time.Duration
	MaxRetries int
	Scheduler  Scheduler
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateOptions describes a block to insert. A nil AfterPosition appends the
// block; -1 inserts it before every sibling.
type CreateOptions struct {
	ParentBlockID blocks.BlockID
	AfterPosition *int
	Type          blocks.Type
	Payload       blocks.Payload
}

type dragState struct {
	active  bool
	dragged blocks.BlockID
	over    blocks.BlockID
}

// Controller owns the in-memory block list of one open page together with
// its focus, menu and drag state. It never holds its lock across a store
// call. Failed structural writes are not rolled back; the error is returned
// and the caller may Reload.
type Controller struct {
	pageID    blocks.PageID
	engine    *SyncEngine
	pages     pages.Directory
	sanitizer sanitize.Sanitizer
	logger    *zap.Logger
	clock     func() time.Time

	mu      sync.Mutex
	items   map[blocks.BlockID]blocks.Block
	pending map[blocks.BlockID]struct{}
	focused blocks.BlockID
	menu    menuState
	drag    dragState
	stale   bool
	closed  bool
}

// NewController validates the configuration and returns an empty controller.
// Call Load to fetch the page.
func NewController(cfg ControllerConfig) (*Controller, error) {
	pageID, err := blocks.NewPageID(cfg.PageID.String())
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = sanitize.NewPolicy()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	controller := &Controller{
		pageID:    pageID,
		pages:     cfg.Pages,
		sanitizer: sanitizer,
		logger:    logger.With(zap.String("page_id", pageID.String())),
		clock:     clock,
		items:     make(map[blocks.BlockID]blocks.Block),
		pending:   make(map[blocks.BlockID]struct{}),
	}
	engine, err := NewSyncEngine(EngineConfig{
		Store:      cfg.Store,
		Delay:      cfg.Delay,
		MaxRetries: cfg.MaxRetries,
		Scheduler:  cfg.Scheduler,
		Logger:     controller.logger,
		OnStale:    controller.markStale,
	})
	if err != nil {
		return nil, err
	}
	controller.engine = engine
	return controller, nil
}

// PageID returns the page this controller edits.
func (c *Controller) PageID() blocks.PageID {
	return c.pageID
}

// Engine exposes the sync engine, e.g. to register FlushOnSignal.
func (c *Controller) Engine() *SyncEngine {
	return c.engine
}

// Load replaces the in-memory list with the stored blocks. Text of blocks
// with unconfirmed local edits is kept, as are blocks whose create is still in
// flight.
func (c *Controller) Load(ctx context.Context) error {
	list, err := c.engine.List(ctx, c.pageID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errControllerClosed
	}
	next := make(map[blocks.BlockID]blocks.Block, len(list)+len(c.pending))
	for _, block := range list {
		if block.PageID != c.pageID {
			continue
		}
		if !c.engine.ApplyRemote(block) {
			if local, ok := c.items[block.ID]; ok {
				block.Payload.Text = local.Payload.Text
				block.PlainText = local.PlainText
			}
		}
		next[block.ID] = block
	}
	for id := range c.pending {
		if item, ok := c.items[id]; ok {
			next[id] = item
		}
	}
	c.items = next
	c.stale = false
	if _, ok := c.items[c.focused]; !ok {
		c.focused = ""
		c.menu.close()
	}
	return nil
}

// Reload is Load under the name callers use after a failed structural write.
func (c *Controller) Reload(ctx context.Context) error {
	return c.Load(ctx)
}

// NeedsReload reports whether a text write found its block deleted remotely.
func (c *Controller) NeedsReload() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Blocks returns the blocks in display order: siblings by position, each
// followed by its children.
func (c *Controller) Blocks() []blocks.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderedLocked()
}

// Block returns one block.
func (c *Controller) Block(id blocks.BlockID) (blocks.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	block, ok := c.items[id]
	return block, ok
}

// Render returns the block text sanitized for display.
func (c *Controller) Render(id blocks.BlockID) (string, bool) {
	block, ok := c.Block(id)
	if !ok {
		return "", false
	}
	return c.sanitizer.Sanitize(block.Payload.Text), true
}

// Focused returns the block being edited, if any.
func (c *Controller) Focused() blocks.BlockID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focused
}

// CreateBlock inserts a block optimistically under a provisional id, shifts
// the displaced siblings with one batched reorder and then writes the block.
// The stored block replaces the provisional entry.
func (c *Controller) CreateBlock(ctx context.Context, opts CreateOptions) (blocks.Block, error) {
	blockType := opts.Type
	if blockType == "" {
		blockType = blocks.TypeParagraph
	}
	if !blockType.Valid() {
		return blocks.Block{}, fmt.Errorf("%w: unknown block type %q", blocks.ErrValidation, blockType)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return blocks.Block{}, errControllerClosed
	}
	if opts.ParentBlockID != "" {
		if _, ok := c.items[opts.ParentBlockID]; !ok || IsProvisional(opts.ParentBlockID) {
			c.mu.Unlock()
			return blocks.Block{}, fmt.Errorf("%w: parent block %s is not available", blocks.ErrValidation, opts.ParentBlockID)
		}
	}
	siblings := c.siblingsLocked(opts.ParentBlockID)
	position, shifts, err := InsertAt(siblings, opts.AfterPosition)
	if err != nil {
		c.mu.Unlock()
		return blocks.Block{}, err
	}

	now := c.clock().UTC()
	payload := opts.Payload.Normalize(blockType)
	provisional := blocks.Block{
		ID:            blocks.BlockID(provisionalPrefix + ulid.Make().String()),
		PageID:        c.pageID,
		ParentBlockID: opts.ParentBlockID,
		Type:          blockType,
		Payload:       payload,
		Position:      position,
		PlainText:     c.sanitizer.PlainText(payload.Text),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	remoteShifts := make([]blocks.PositionUpdate, 0, len(shifts))
	for _, shift := range shifts {
		item := c.items[shift.ID]
		item.Position = shift.Position
		c.items[shift.ID] = item
		if !IsProvisional(shift.ID) {
			remoteShifts = append(remoteShifts, shift)
		}
	}
	c.items[provisional.ID] = provisional
	c.pending[provisional.ID] = struct{}{}
	c.mu.Unlock()

	if len(remoteShifts) > 0 {
		if err := c.engine.Reorder(ctx, c.pageID, remoteShifts); err != nil {
			c.settleCreate(provisional.ID)
			c.logger.Warn("sibling shift failed", zap.Error(err))
			return blocks.Block{}, err
		}
	}

	created, err := c.engine.Create(ctx, blocks.NewBlock{
		PageID:        c.pageID,
		ParentBlockID: opts.ParentBlockID,
		Type:          blockType,
		Payload:       payload,
		Position:      &position,
	})
	if err != nil {
		c.settleCreate(provisional.ID)
		c.logger.Warn("block create failed", zap.Error(err))
		return blocks.Block{}, err
	}

	c.mu.Lock()
	delete(c.pending, provisional.ID)
	_, stillPresent := c.items[provisional.ID]
	if stillPresent {
		delete(c.items, provisional.ID)
		c.items[created.ID] = created
		if c.focused == provisional.ID {
			c.focused = created.ID
		}
	}
	c.mu.Unlock()

	if !stillPresent {
		// Deleted locally while the create was in flight.
		if err := c.engine.Delete(ctx, created.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// DeleteBlock removes the block locally, then remotely. Deleting an unknown or
// already deleted block succeeds.
func (c *Controller) DeleteBlock(ctx context.Context, id blocks.BlockID) error {
	if _, err := blocks.NewBlockID(id.String()); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.items, id)
	if c.focused == id {
		c.focused = ""
	}
	if c.menu.blockID == id {
		c.menu.close()
	}
	if c.drag.dragged == id || c.drag.over == id {
		c.drag = dragState{}
	}
	c.mu.Unlock()

	if IsProvisional(id) {
		return nil
	}
	return c.engine.Delete(ctx, id)
}

// ChangeType converts a block and writes the conversion immediately.
// Converting to todo unchecks it and converting to toggle expands it unless
// overrides say otherwise.
func (c *Controller) ChangeType(ctx context.Context, id blocks.BlockID, newType blocks.Type, overrides blocks.PayloadPatch) (blocks.Block, error) {
	if !newType.Valid() {
		return blocks.Block{}, fmt.Errorf("%w: unknown block type %q", blocks.ErrValidation, newType)
	}

	c.mu.Lock()
	item, err := c.editableLocked(id, false)
	if err != nil {
		c.mu.Unlock()
		return blocks.Block{}, err
	}
	payload := overrides.Apply(item.Payload)
	if newType != item.Type {
		if newType == blocks.TypeTodo && overrides.Checked == nil {
			payload.Checked = false
		}
		if newType == blocks.TypeToggle && overrides.Expanded == nil {
			payload.Expanded = true
		}
	}
	payload = payload.Normalize(newType)
	item.Type = newType
	item.Payload = payload
	item.PlainText = c.sanitizer.PlainText(payload.Text)
	c.items[id] = item
	leaveFocus := c.focused == id && !newType.AcceptsTextTriggers()
	if leaveFocus {
		c.focused = ""
	}
	if c.menu.blockID == id {
		c.menu.close()
	}
	c.mu.Unlock()

	patch := blocks.BlockPatch{
		Type: &newType,
		Payload: &blocks.PayloadPatch{
			Text:     &payload.Text,
			Checked:  &payload.Checked,
			Expanded: &payload.Expanded,
			Level:    &payload.Level,
		},
	}
	stored, err := c.engine.Update(ctx, id, patch)
	if leaveFocus {
		c.engine.Forget(id)
	}
	if err != nil {
		c.logger.Warn("type change failed", zap.String("block_id", id.String()), zap.Error(err))
		return item, err
	}
	return c.absorb(stored), nil
}

// SplitAtCursor flushes the block's pending text, creates an empty paragraph
// right after it at the same level and focuses the new block.
func (c *Controller) SplitAtCursor(ctx context.Context, id blocks.BlockID) (blocks.Block, error) {
	c.mu.Lock()
	item, err := c.editableLocked(id, true)
	c.mu.Unlock()
	if err != nil {
		return blocks.Block{}, err
	}

	if err := c.engine.Flush(ctx, id); err != nil {
		c.logger.Warn("flush before split failed", zap.String("block_id", id.String()), zap.Error(err))
	}

	after := item.Position
	created, err := c.CreateBlock(ctx, CreateOptions{
		ParentBlockID: item.ParentBlockID,
		AfterPosition: &after,
		Type:          blocks.TypeParagraph,
		Payload:       blocks.Payload{Level: item.Payload.Level},
	})
	if err != nil {
		return blocks.Block{}, err
	}
	if err := c.Focus(ctx, created.ID); err != nil {
		return created, err
	}
	return created, nil
}

// MergeOrDeleteOnBackspace handles backspace on an empty block: an indented
// block is outdented one level, otherwise it is deleted and focus moves to
// the previous editable block.
func (c *Controller) MergeOrDeleteOnBackspace(ctx context.Context, id blocks.BlockID) (Effect, error) {
	c.mu.Lock()
	item, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return Effect{}, notFound(id)
	}
	if item.Payload.Text != "" {
		c.mu.Unlock()
		return Effect{Kind: EffectNone, Block: item}, nil
	}
	if item.Payload.Level > blocks.MinLevel {
		c.mu.Unlock()
		block, err := c.setLevel(ctx, id, Outdent(item.Payload.Level))
		return Effect{Kind: EffectOutdented, Block: block, Focus: id}, err
	}
	previous := c.previousTextTargetLocked(id)
	c.mu.Unlock()

	if err := c.DeleteBlock(ctx, id); err != nil {
		return Effect{Kind: EffectDeleted, Block: item}, err
	}
	if previous != "" {
		if err := c.Focus(ctx, previous); err != nil {
			c.logger.Debug("focus after delete failed", zap.String("block_id", previous.String()), zap.Error(err))
			previous = ""
		}
	}
	return Effect{Kind: EffectDeleted, Block: item, Focus: previous}, nil
}

// ToggleChecked flips a todo's checkbox and writes it immediately.
func (c *Controller) ToggleChecked(ctx context.Context, id blocks.BlockID) (blocks.Block, error) {
	return c.togglePayload(ctx, id, blocks.TypeTodo, func(payload *blocks.Payload) blocks.PayloadPatch {
		payload.Checked = !payload.Checked
		return blocks.PayloadPatch{Checked: &payload.Checked}
	})
}

// ToggleExpanded opens or collapses a toggle and writes it immediately.
func (c *Controller) ToggleExpanded(ctx context.Context, id blocks.BlockID) (blocks.Block, error) {
	return c.togglePayload(ctx, id, blocks.TypeToggle, func(payload *blocks.Payload) blocks.PayloadPatch {
		payload.Expanded = !payload.Expanded
		return blocks.PayloadPatch{Expanded: &payload.Expanded}
	})
}

func (c *Controller) togglePayload(ctx context.Context, id blocks.BlockID, required blocks.Type, flip func(*blocks.Payload) blocks.PayloadPatch) (blocks.Block, error) {
	c.mu.Lock()
	item, err := c.editableLocked(id, false)
	if err != nil {
		c.mu.Unlock()
		return blocks.Block{}, err
	}
	if item.Type != required {
		c.mu.Unlock()
		return blocks.Block{}, fmt.Errorf("%w: block %s is a %s, not a %s", blocks.ErrValidation, id, item.Type, required)
	}
	patch := flip(&item.Payload)
	c.items[id] = item
	c.mu.Unlock()

	stored, err := c.engine.Update(ctx, id, blocks.BlockPatch{Payload: &patch})
	if err != nil {
		return item, err
	}
	return c.absorb(stored), nil
}

// Indent nests the block one level deeper. Position is unchanged.
func (c *Controller) Indent(ctx context.Context, id blocks.BlockID) (blocks.Block, error) {
	return c.shiftLevel(ctx, id, Indent)
}

// Outdent moves the block one level shallower. Position is unchanged.
func (c *Controller) Outdent(ctx context.Context, id blocks.BlockID) (blocks.Block, error) {
	return c.shiftLevel(ctx, id, Outdent)
}

func (c *Controller) shiftLevel(ctx context.Context, id blocks.BlockID, next func(int) int) (blocks.Block, error) {
	c.mu.Lock()
	item, ok := c.items[id]
	c.mu.Unlock()
	if !ok {
		return blocks.Block{}, notFound(id)
	}
	return c.setLevel(ctx, id, next(item.Payload.Level))
}

func (c *Controller) setLevel(ctx context.Context, id blocks.BlockID, level int) (blocks.Block, error) {
	level = blocks.ClampLevel(level)
	c.mu.Lock()
	item, err := c.editableLocked(id, false)
	if err != nil {
		c.mu.Unlock()
		return blocks.Block{}, err
	}
	if item.Payload.Level == level {
		c.mu.Unlock()
		return item, nil
	}
	item.Payload.Level = level
	c.items[id] = item
	c.mu.Unlock()

	stored, err := c.engine.Update(ctx, id, blocks.BlockPatch{Payload: &blocks.PayloadPatch{Level: &level}})
	if err != nil {
		return item, err
	}
	return c.absorb(stored), nil
}

// MoveBlock moves the block to index toIndex among its siblings and writes
// the whole sibling group's positions in one batch.
func (c *Controller) MoveBlock(ctx context.Context, id blocks.BlockID, toIndex int) error {
	c.mu.Lock()
	item, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return notFound(id)
	}
	siblings := c.siblingsLocked(item.ParentBlockID)
	from := indexOf(siblings, id)
	if from == toIndex {
		c.mu.Unlock()
		return nil
	}
	reordered, err := Move(siblings, from, toIndex)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	return c.applyOrderUnlock(ctx, reordered)
}

// MoveUp swaps the block with its previous sibling.
func (c *Controller) MoveUp(ctx context.Context, id blocks.BlockID) error {
	return c.moveBy(ctx, id, -1)
}

// MoveDown swaps the block with its next sibling.
func (c *Controller) MoveDown(ctx context.Context, id blocks.BlockID) error {
	return c.moveBy(ctx, id, 1)
}

func (c *Controller) moveBy(ctx context.Context, id blocks.BlockID, delta int) error {
	c.mu.Lock()
	item, ok := c.items[id]
	if !ok {
		c.mu.Unlock()
		return notFound(id)
	}
	siblings := c.siblingsLocked(item.ParentBlockID)
	c.mu.Unlock()
	target := indexOf(siblings, id) + delta
	if target < 0 || target >= len(siblings) {
		return nil
	}
	return c.MoveBlock(ctx, id, target)
}

// ReorderSiblings applies a complete new ordering of one sibling group.
func (c *Controller) ReorderSiblings(ctx context.Context, parent blocks.BlockID, ordering []blocks.BlockID) error {
	c.mu.Lock()
	reordered, err := Permute(c.siblingsLocked(parent), ordering)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	return c.applyOrderUnlock(ctx, reordered)
}

// applyOrderUnlock ranks ordered locally, releases the lock and submits the
// batch. The caller must hold c.mu.
func (c *Controller) applyOrderUnlock(ctx context.Context, ordered []blocks.Block) error {
	for _, block := range ordered {
		if IsProvisional(block.ID) {
			c.mu.Unlock()
			return fmt.Errorf("%w: block %s is still being created", blocks.ErrValidation, block.ID)
		}
	}
	updates := Rank(ordered)
	for _, update := range updates {
		item := c.items[update.ID]
		item.Position = update.Position
		c.items[update.ID] = item
	}
	c.mu.Unlock()

	if err := c.engine.Reorder(ctx, c.pageID, updates); err != nil {
		c.logger.Warn("reorder failed", zap.Int("blocks", len(updates)), zap.Error(err))
		return err
	}
	return nil
}

// BeginDrag starts dragging a block.
func (c *Controller) BeginDrag(id blocks.BlockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return notFound(id)
	}
	c.drag = dragState{active: true, dragged: id}
	return nil
}

// DragOver records the sibling the dragged block hovers over.
func (c *Controller) DragOver(target blocks.BlockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drag.active {
		return fmt.Errorf("%w: no drag in progress", blocks.ErrValidation)
	}
	dragged := c.items[c.drag.dragged]
	over, ok := c.items[target]
	if !ok {
		return notFound(target)
	}
	if over.Siblings() != dragged.Siblings() {
		return fmt.Errorf("%w: block %s is not a sibling of %s", blocks.ErrValidation, target, c.drag.dragged)
	}
	c.drag.over = target
	return nil
}

// Drop moves the dragged block to the hovered sibling's index.
func (c *Controller) Drop(ctx context.Context) error {
	c.mu.Lock()
	state := c.drag
	c.drag = dragState{}
	if !state.active || state.over == "" {
		c.mu.Unlock()
		return nil
	}
	dragged, ok := c.items[state.dragged]
	if !ok {
		c.mu.Unlock()
		return notFound(state.dragged)
	}
	target := indexOf(c.siblingsLocked(dragged.ParentBlockID), state.over)
	c.mu.Unlock()
	if target < 0 {
		return notFound(state.over)
	}
	return c.MoveBlock(ctx, state.dragged, target)
}

// CancelDrag abandons the drag without writing.
func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drag = dragState{}
}

// Dragging reports the dragged and hovered blocks.
func (c *Controller) Dragging() (dragged, over blocks.BlockID, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drag.dragged, c.drag.over, c.drag.active
}

// Focus starts editing a block. The previously focused block is flushed and
// its buffer released. Dividers and blocks still being created cannot be
// focused.
func (c *Controller) Focus(ctx context.Context, id blocks.BlockID) error {
	c.mu.Lock()
	item, err := c.editableLocked(id, true)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	previous := c.focused
	if previous == id {
		c.mu.Unlock()
		return nil
	}
	c.focused = id
	c.menu.close()
	c.menu.clearDismissal()
	c.mu.Unlock()

	if err := c.engine.Track(item); err != nil {
		return err
	}
	if previous != "" {
		if err := c.engine.Release(ctx, previous); err != nil {
			c.logger.Warn("flush on focus change failed", zap.String("block_id", previous.String()), zap.Error(err))
		}
	}
	return nil
}

// Blur ends editing and force-flushes the block's text. A failed flush is
// logged; the text stays buffered and is retried.
func (c *Controller) Blur(ctx context.Context) {
	c.mu.Lock()
	id := c.focused
	c.focused = ""
	c.menu.close()
	c.mu.Unlock()
	if id == "" {
		return
	}
	if err := c.engine.Release(ctx, id); err != nil {
		c.logger.Warn("flush on blur failed", zap.String("block_id", id.String()), zap.Error(err))
	}
}

// ApplyRemote folds a block fetched in the background into the list. Its text
// is ignored while the block has unconfirmed local edits.
func (c *Controller) ApplyRemote(block blocks.Block) bool {
	if block.PageID != c.pageID {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	applied := c.engine.ApplyRemote(block)
	if !applied {
		if local, ok := c.items[block.ID]; ok {
			block.Payload.Text = local.Payload.Text
			block.PlainText = local.PlainText
		}
	}
	c.items[block.ID] = block
	return applied
}

// Close tears the controller down, force-flushing every buffered text.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.focused = ""
	c.menu.close()
	c.drag = dragState{}
	c.mu.Unlock()
	return c.engine.Close(ctx)
}

func (c *Controller) absorb(stored blocks.Block) blocks.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, ok := c.items[stored.ID]
	if !ok {
		return stored
	}
	if c.engine.IsDirty(stored.ID) {
		stored.Payload.Text = local.Payload.Text
		stored.PlainText = local.PlainText
	}
	c.items[stored.ID] = stored
	return stored
}

func (c *Controller) settleCreate(id blocks.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Controller) markStale(id blocks.BlockID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
	c.logger.Info("block vanished remotely; reload required", zap.String("block_id", id.String()))
}

// editableLocked returns the block if it exists and is persisted. With
// textOnly it also rejects dividers.
func (c *Controller) editableLocked(id blocks.BlockID, textOnly bool) (blocks.Block, error) {
	if c.closed {
		return blocks.Block{}, errControllerClosed
	}
	item, ok := c.items[id]
	if !ok {
		return blocks.Block{}, notFound(id)
	}
	if IsProvisional(id) {
		return blocks.Block{}, fmt.Errorf("%w: block %s is still being created", blocks.ErrValidation, id)
	}
	if textOnly && !item.IsTextTarget() {
		return blocks.Block{}, fmt.Errorf("%w: %s blocks are not editable text", blocks.ErrValidation, item.Type)
	}
	return item, nil
}

func (c *Controller) siblingsLocked(parent blocks.BlockID) []blocks.Block {
	siblings := make([]blocks.Block, 0)
	for _, item := range c.items {
		if item.ParentBlockID == parent {
			siblings = append(siblings, item)
		}
	}
	SortSiblings(siblings)
	return siblings
}

func (c *Controller) orderedLocked() []blocks.Block {
	children := make(map[blocks.BlockID][]blocks.Block)
	for _, item := range c.items {
		parent := item.ParentBlockID
		if _, exists := c.items[parent]; !exists {
			parent = ""
		}
		children[parent] = append(children[parent], item)
	}
	ordered := make([]blocks.Block, 0, len(c.items))
	visited := make(map[blocks.BlockID]bool, len(c.items))
	var walk func(parent blocks.BlockID)
	walk = func(parent blocks.BlockID) {
		group := children[parent]
		SortSiblings(group)
		for _, item := range group {
			if visited[item.ID] {
				continue
			}
			visited[item.ID] = true
			ordered = append(ordered, item)
			walk(item.ID)
		}
	}
	walk("")
	return ordered
}

func (c *Controller) previousTextTargetLocked(id blocks.BlockID) blocks.BlockID {
	var previous blocks.BlockID
	for _, item := range c.orderedLocked() {
		if item.ID == id {
			return previous
		}
		if item.IsTextTarget() && !IsProvisional(item.ID) {
			previous = item.ID
		}
	}
	return ""
}

func indexOf(siblings []blocks.Block, id blocks.BlockID) int {
	for index, block := range siblings {
		if block.ID == id {
			return index
		}
	}
	return -1
}

func notFound(id blocks.BlockID) error {
	return fmt.Errorf("%w: block %s", blocks.ErrNotFound, id)
}
