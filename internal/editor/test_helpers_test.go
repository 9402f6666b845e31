package editor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"github.com/MarcoPoloResearchLab/blockpad/internal/pages"
	"github.com/stretchr/testify/require"
)

const testPageID = blocks.PageID("page-1")

var errInjected = errors.New("injected store failure")

type manualTimer struct {
	scheduler *manualScheduler
	callback  func()
	stopped   bool
	fired     bool
}

func (t *manualTimer) Stop() bool {
	t.scheduler.mu.Lock()
	defer t.scheduler.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// manualScheduler records armed timers and fires them only when told to.
type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(_ time.Duration, callback func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &manualTimer{scheduler: s, callback: callback}
	s.timers = append(s.timers, timer)
	return timer
}

// Fire runs every armed timer and returns how many ran.
func (s *manualScheduler) Fire() int {
	s.mu.Lock()
	var due []*manualTimer
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			due = append(due, timer)
		}
	}
	s.mu.Unlock()
	for _, timer := range due {
		timer.callback()
	}
	return len(due)
}

func (s *manualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := 0
	for _, timer := range s.timers {
		if !timer.stopped && !timer.fired {
			pending++
		}
	}
	return pending
}

type storeCall struct {
	ID    blocks.BlockID
	Patch blocks.BlockPatch
}

// memoryStore is an in-memory blocks.Store that records every call.
type memoryStore struct {
	mu        sync.Mutex
	blocks    map[blocks.BlockID]blocks.Block
	nextID    int
	updates   []storeCall
	creates   []blocks.NewBlock
	deletes   []blocks.BlockID
	reorders  [][]blocks.PositionUpdate
	failNext  int
	failWith  error
	listCalls int
}

func newMemoryStore(seed ...blocks.Block) *memoryStore {
	store := &memoryStore{blocks: make(map[blocks.BlockID]blocks.Block)}
	for _, block := range seed {
		if block.PageID == "" {
			block.PageID = testPageID
		}
		store.blocks[block.ID] = block
	}
	return store
}

func (s *memoryStore) failNextCalls(count int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = count
	s.failWith = err
}

func (s *memoryStore) injectedFailureLocked() error {
	if s.failNext == 0 {
		return nil
	}
	s.failNext--
	return s.failWith
}

func (s *memoryStore) ListBlocks(_ context.Context, pageID blocks.PageID) ([]blocks.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if err := s.injectedFailureLocked(); err != nil {
		return nil, err
	}
	list := make([]blocks.Block, 0, len(s.blocks))
	for _, block := range s.blocks {
		if block.PageID == pageID {
			list = append(list, block)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (s *memoryStore) CreateBlock(_ context.Context, request blocks.NewBlock) (blocks.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates = append(s.creates, request)
	if err := s.injectedFailureLocked(); err != nil {
		return blocks.Block{}, err
	}
	s.nextID++
	position := 0
	if request.Position != nil {
		position = *request.Position
	} else {
		for _, block := range s.blocks {
			if block.Siblings() == (blocks.Siblings{PageID: request.PageID, ParentBlockID: request.ParentBlockID}) && block.Position >= position {
				position = block.Position + 1
			}
		}
	}
	block := blocks.Block{
		ID:            blocks.BlockID(fmt.Sprintf("new-%02d", s.nextID)),
		PageID:        request.PageID,
		ParentBlockID: request.ParentBlockID,
		Type:          request.Type,
		Payload:       request.Payload.Normalize(request.Type),
		Position:      position,
		PlainText:     request.Payload.Text,
	}
	s.blocks[block.ID] = block
	return block, nil
}

func (s *memoryStore) UpdateBlock(_ context.Context, id blocks.BlockID, patch blocks.BlockPatch) (blocks.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, storeCall{ID: id, Patch: patch})
	if err := s.injectedFailureLocked(); err != nil {
		return blocks.Block{}, err
	}
	block, ok := s.blocks[id]
	if !ok {
		return blocks.Block{}, fmt.Errorf("%w: %s", blocks.ErrNotFound, id)
	}
	if patch.Type != nil {
		block.Type = *patch.Type
	}
	if patch.Payload != nil {
		block.Payload = patch.Payload.Apply(block.Payload)
	}
	if patch.Position != nil {
		block.Position = *patch.Position
	}
	block.Payload = block.Payload.Normalize(block.Type)
	block.PlainText = block.Payload.Text
	s.blocks[id] = block
	return block, nil
}

func (s *memoryStore) DeleteBlock(_ context.Context, id blocks.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, id)
	if err := s.injectedFailureLocked(); err != nil {
		return err
	}
	if _, ok := s.blocks[id]; !ok {
		return fmt.Errorf("%w: %s", blocks.ErrNotFound, id)
	}
	delete(s.blocks, id)
	return nil
}

func (s *memoryStore) BatchReorder(_ context.Context, _ blocks.PageID, updates []blocks.PositionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reorders = append(s.reorders, append([]blocks.PositionUpdate(nil), updates...))
	if err := s.injectedFailureLocked(); err != nil {
		return err
	}
	for _, update := range updates {
		if _, ok := s.blocks[update.ID]; !ok {
			return fmt.Errorf("%w: %s", blocks.ErrNotFound, update.ID)
		}
	}
	for _, update := range updates {
		block := s.blocks[update.ID]
		block.Position = update.Position
		s.blocks[update.ID] = block
	}
	return nil
}

// textWrites returns the text of every text-only update in call order.
func (s *memoryStore) textWrites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var texts []string
	for _, call := range s.updates {
		if call.Patch.Type == nil && call.Patch.Payload != nil && call.Patch.Payload.Text != nil &&
			call.Patch.Payload.Level == nil && call.Patch.Payload.Checked == nil {
			texts = append(texts, *call.Patch.Payload.Text)
		}
	}
	return texts
}

func (s *memoryStore) updateCalls() []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]storeCall(nil), s.updates...)
}

func (s *memoryStore) reorderCalls() [][]blocks.PositionUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]blocks.PositionUpdate(nil), s.reorders...)
}

func (s *memoryStore) stored(id blocks.BlockID) (blocks.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block, ok := s.blocks[id]
	return block, ok
}

func (s *memoryStore) remove(id blocks.BlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, id)
}

// memoryDirectory is an in-memory pages.Directory.
type memoryDirectory struct {
	mu       sync.Mutex
	pages    []pages.PageSummary
	queries  []string
	created  []pages.NewPage
	failNext bool
}

func (d *memoryDirectory) SearchPages(_ context.Context, query string) ([]pages.PageSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, query)
	if d.failNext {
		d.failNext = false
		return nil, errInjected
	}
	var matches []pages.PageSummary
	for _, page := range d.pages {
		if strings.Contains(strings.ToLower(page.Title), strings.ToLower(query)) {
			matches = append(matches, page)
		}
	}
	return matches, nil
}

func (d *memoryDirectory) CreatePage(_ context.Context, request pages.NewPage) (pages.PageSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.created = append(d.created, request)
	page := pages.PageSummary{
		ID:    blocks.PageID(fmt.Sprintf("page-new-%d", len(d.created))),
		Title: request.Title,
		Icon:  pages.DefaultIcon,
	}
	d.pages = append(d.pages, page)
	return page, nil
}

func paragraph(id string, position int, text string) blocks.Block {
	return blocks.Block{
		ID:       blocks.BlockID(id),
		PageID:   testPageID,
		Type:     blocks.TypeParagraph,
		Payload:  blocks.Payload{Text: text},
		Position: position,
	}
}

type controllerFixture struct {
	controller *Controller
	store      *memoryStore
	directory  *memoryDirectory
	scheduler  *manualScheduler
}

func newControllerFixture(t *testing.T, seed ...blocks.Block) controllerFixture {
	t.Helper()
	store := newMemoryStore(seed...)
	directory := &memoryDirectory{}
	scheduler := &manualScheduler{}
	controller, err := NewController(ControllerConfig{
		PageID:     testPageID,
		Store:      store,
		Pages:      directory,
		Scheduler:  scheduler,
		MaxRetries: 3,
	})
	require.NoError(t, err)
	require.NoError(t, controller.Load(context.Background()))
	return controllerFixture{controller: controller, store: store, directory: directory, scheduler: scheduler}
}

func blockIDs(list []blocks.Block) []blocks.BlockID {
	ids := make([]blocks.BlockID, 0, len(list))
	for _, block := range list {
		ids = append(ids, block.ID)
	}
	return ids
}
