package editor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/blockpad/internal/blocks"
	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("block store is required")
	errUntracked    = errors.New("block text is not tracked")
)

// EngineConfig wires a SyncEngine.
type EngineConfig struct {
	Store      blocks.Store
	Delay      time.Duration
	MaxRetries int
	Scheduler  Scheduler
	Logger     *zap.Logger
	// OnStale is called when a text write finds its block gone remotely.
	OnStale func(blocks.BlockID)
}

// Stats counts the engine's traffic.
type Stats struct {
	TextWrites       int64
	FailedFlushes    int64
	StructuralWrites int64
	DiscardedRemote  int64
	StaleTextWrites  int64
}

// SyncEngine is the only component that writes to the block store. Text goes
// through one debounced Dirty buffer per block; structural changes are
// written immediately.
type SyncEngine struct {
	store      blocks.Store
	delay      time.Duration
	maxRetries int
	scheduler  Scheduler
	logger     *zap.Logger
	onStale    func(blocks.BlockID)

	mu      sync.Mutex
	buffers map[blocks.BlockID]*Dirty[string]

	textWrites       atomic.Int64
	failedFlushes    atomic.Int64
	structuralWrites atomic.Int64
	discardedRemote  atomic.Int64
	staleTextWrites  atomic.Int64
}

// NewSyncEngine validates the configuration and returns an engine.
func NewSyncEngine(cfg EngineConfig) (*SyncEngine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	delay := cfg.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = WallClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncEngine{
		store:      cfg.Store,
		delay:      delay,
		maxRetries: cfg.MaxRetries,
		scheduler:  scheduler,
		logger:     logger,
		onStale:    cfg.OnStale,
		buffers:    make(map[blocks.BlockID]*Dirty[string]),
	}, nil
}

// Track opens a text buffer for the block unless one exists already.
func (e *SyncEngine) Track(block blocks.Block) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.buffers[block.ID]; exists {
		return nil
	}
	id := block.ID
	buffer, err := NewDirty(DirtyConfig[string]{
		Initial:    block.Payload.Text,
		Delay:      e.delay,
		Scheduler:  e.scheduler,
		MaxRetries: e.maxRetries,
		Logger:     e.logger,
		Name:       id.String(),
		Write: func(ctx context.Context, text string) error {
			return e.writeText(ctx, id, text)
		},
	})
	if err != nil {
		return err
	}
	e.buffers[id] = buffer
	return nil
}

// Edit records a keystroke's resulting text for a tracked block.
func (e *SyncEngine) Edit(id blocks.BlockID, text string) error {
	buffer := e.buffer(id)
	if buffer == nil {
		return fmt.Errorf("%w: %s", errUntracked, id)
	}
	buffer.Set(text)
	return nil
}

// Text returns the live text of a tracked block.
func (e *SyncEngine) Text(id blocks.BlockID) (string, bool) {
	buffer := e.buffer(id)
	if buffer == nil {
		return "", false
	}
	return buffer.Value(), true
}

// IsDirty reports whether the block has unconfirmed text.
func (e *SyncEngine) IsDirty(id blocks.BlockID) bool {
	buffer := e.buffer(id)
	return buffer != nil && buffer.IsDirty()
}

// Tracked reports whether a buffer exists for the block.
func (e *SyncEngine) Tracked(id blocks.BlockID) bool {
	return e.buffer(id) != nil
}

// Flush force-writes the block's pending text.
func (e *SyncEngine) Flush(ctx context.Context, id blocks.BlockID) error {
	buffer := e.buffer(id)
	if buffer == nil {
		return nil
	}
	return buffer.Flush(ctx)
}

// FlushAll force-writes every pending text.
func (e *SyncEngine) FlushAll(ctx context.Context) error {
	var errs []error
	for id, buffer := range e.snapshot() {
		if err := buffer.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Release flushes the block's text and drops its buffer. The buffer is kept
// when the flush fails so the edit is not lost.
func (e *SyncEngine) Release(ctx context.Context, id blocks.BlockID) error {
	buffer := e.buffer(id)
	if buffer == nil {
		return nil
	}
	if err := buffer.Flush(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	if e.buffers[id] == buffer && !buffer.IsDirty() {
		delete(e.buffers, id)
		buffer.Discard()
	}
	e.mu.Unlock()
	return nil
}

// Forget drops the block's buffer without writing.
func (e *SyncEngine) Forget(id blocks.BlockID) {
	e.mu.Lock()
	buffer := e.buffers[id]
	delete(e.buffers, id)
	e.mu.Unlock()
	if buffer != nil {
		buffer.Discard()
	}
}

// ApplyRemote offers a freshly fetched block's text to its buffer. It reports
// false when the buffer is dirty and the remote text was discarded.
func (e *SyncEngine) ApplyRemote(block blocks.Block) bool {
	buffer := e.buffer(block.ID)
	if buffer == nil {
		return true
	}
	if buffer.ApplyRemote(block.Payload.Text) {
		return true
	}
	e.discardedRemote.Add(1)
	e.logger.Debug("remote text discarded for dirty block", zap.String("block_id", block.ID.String()))
	return false
}

// List reads the page's blocks.
func (e *SyncEngine) List(ctx context.Context, pageID blocks.PageID) ([]blocks.Block, error) {
	return e.store.ListBlocks(ctx, pageID)
}

// Create writes a new block immediately.
func (e *SyncEngine) Create(ctx context.Context, request blocks.NewBlock) (blocks.Block, error) {
	e.structuralWrites.Add(1)
	return e.store.CreateBlock(ctx, request)
}

// Update writes a structural patch immediately. When the patch carries text,
// the block's buffer is reset to it first so a pending debounced write cannot
// overwrite it afterwards.
func (e *SyncEngine) Update(ctx context.Context, id blocks.BlockID, patch blocks.BlockPatch) (blocks.Block, error) {
	if patch.TouchesText() {
		if buffer := e.buffer(id); buffer != nil {
			buffer.Reset(*patch.Payload.Text)
		}
	}
	e.structuralWrites.Add(1)
	return e.store.UpdateBlock(ctx, id, patch)
}

// Delete removes the block immediately. A block already gone remotely counts
// as deleted.
func (e *SyncEngine) Delete(ctx context.Context, id blocks.BlockID) error {
	e.Forget(id)
	e.structuralWrites.Add(1)
	err := e.store.DeleteBlock(ctx, id)
	if errors.Is(err, blocks.ErrNotFound) {
		e.logger.Debug("delete absorbed for absent block", zap.String("block_id", id.String()))
		return nil
	}
	return err
}

// Reorder submits one batched position write.
func (e *SyncEngine) Reorder(ctx context.Context, pageID blocks.PageID, updates []blocks.PositionUpdate) error {
	e.structuralWrites.Add(1)
	return e.store.BatchReorder(ctx, pageID, updates)
}

// Close force-flushes every buffer and stops their timers.
func (e *SyncEngine) Close(ctx context.Context) error {
	var errs []error
	for id, buffer := range e.snapshot() {
		if err := buffer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// FlushOnSignal flushes every buffer when one of the signals arrives. The
// returned channel yields the flush result, or closes without a value when
// ctx ends first.
func (e *SyncEngine) FlushOnSignal(ctx context.Context, signals ...os.Signal) <-chan error {
	notifyCtx, stop := signal.NotifyContext(ctx, signals...)
	result := make(chan error, 1)
	go func() {
		defer close(result)
		defer stop()
		<-notifyCtx.Done()
		if ctx.Err() != nil {
			return
		}
		e.logger.Info("flushing pending text on exit signal")
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		result <- e.FlushAll(flushCtx)
	}()
	return result
}

// Stats returns a snapshot of the engine's counters.
func (e *SyncEngine) Stats() Stats {
	return Stats{
		TextWrites:       e.textWrites.Load(),
		FailedFlushes:    e.failedFlushes.Load(),
		StructuralWrites: e.structuralWrites.Load(),
		DiscardedRemote:  e.discardedRemote.Load(),
		StaleTextWrites:  e.staleTextWrites.Load(),
	}
}

func (e *SyncEngine) writeText(ctx context.Context, id blocks.BlockID, text string) error {
	e.textWrites.Add(1)
	_, err := e.store.UpdateBlock(ctx, id, blocks.BlockPatch{Payload: &blocks.PayloadPatch{Text: &text}})
	if err == nil {
		return nil
	}
	if errors.Is(err, blocks.ErrNotFound) {
		e.staleTextWrites.Add(1)
		e.logger.Warn("text write dropped for missing block", zap.String("block_id", id.String()))
		if e.onStale != nil {
			e.onStale(id)
		}
		return nil
	}
	e.failedFlushes.Add(1)
	return err
}

func (e *SyncEngine) buffer(id blocks.BlockID) *Dirty[string] {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffers[id]
}

func (e *SyncEngine) snapshot() map[blocks.BlockID]*Dirty[string] {
	e.mu.Lock()
	defer e.mu.Unlock()
	copied := make(map[blocks.BlockID]*Dirty[string], len(e.buffers))
	for id, buffer := range e.buffers {
		copied[id] = buffer
	}
	return copied
}
