package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultDelay is the debounce quiescence window for text writes.
const DefaultDelay = 500 * time.Millisecond

var errMissingWriter = errors.New("write function is required")

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms debounce timers. Tests inject a manual implementation.
type Scheduler interface {
	AfterFunc(delay time.Duration, callback func()) Timer
}

type wallClockScheduler struct{}

// WallClock schedules callbacks with time.AfterFunc.
func WallClock() Scheduler {
	return wallClockScheduler{}
}

func (wallClockScheduler) AfterFunc(delay time.Duration, callback func()) Timer {
	return time.AfterFunc(delay, callback)
}

// WriteFunc persists one value.
type WriteFunc[T comparable] func(ctx context.Context, value T) error

// DirtyConfig configures a Dirty value.
type DirtyConfig[T comparable] struct {
	Initial    T
	Delay      time.Duration
	Write      WriteFunc[T]
	Scheduler  Scheduler
	MaxRetries int
	Logger     *zap.Logger
	Name       string
}

// Dirty holds a locally authoritative value that is written back after a
// quiet period. Writes are serialized: a flush waits for the previous write to
// settle and then sends whatever value is current at that moment.
type Dirty[T comparable] struct {
	mu         sync.Mutex
	writeMu    sync.Mutex
	value      T
	lastSent   T
	dirty      bool
	generation uint64
	timer      Timer
	timerSeq   uint64
	retries    int
	closed     bool

	delay      time.Duration
	write      WriteFunc[T]
	scheduler  Scheduler
	maxRetries int
	logger     *zap.Logger
	name       string
}

// NewDirty returns a clean value holding cfg.Initial.
func NewDirty[T comparable](cfg DirtyConfig[T]) (*Dirty[T], error) {
	if cfg.Write == nil {
		return nil, errMissingWriter
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
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dirty[T]{
		value:      cfg.Initial,
		lastSent:   cfg.Initial,
		delay:      delay,
		write:      cfg.Write,
		scheduler:  scheduler,
		maxRetries: maxRetries,
		logger:     logger,
		name:       cfg.Name,
	}, nil
}

// Set replaces the live value, marks it dirty and re-arms the debounce timer.
func (d *Dirty[T]) Set(value T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = value
	d.dirty = true
	d.generation++
	d.retries = 0
	if !d.closed {
		d.armLocked()
	}
}

// Value returns the live value.
func (d *Dirty[T]) Value() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value
}

// LastSent returns the value most recently confirmed written.
func (d *Dirty[T]) LastSent() T {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSent
}

// IsDirty reports whether a local change is not yet confirmed.
func (d *Dirty[T]) IsDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// ApplyRemote adopts an authoritative value from the backend unless a local
// change is outstanding, in which case the remote value is discarded.
func (d *Dirty[T]) ApplyRemote(value T) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dirty {
		return false
	}
	d.value = value
	d.lastSent = value
	return true
}

// Reset waits for any in-flight write, cancels the timer and makes value both
// live and confirmed. Used when a structural write carries the text itself.
func (d *Dirty[T]) Reset(value T) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.value = value
	d.lastSent = value
	d.dirty = false
	d.generation++
	d.retries = 0
}

// Flush cancels the pending timer and writes the live value now if it differs
// from the last confirmed one. On failure the value stays dirty.
func (d *Dirty[T]) Flush(ctx context.Context) error {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	d.mu.Lock()
	value := d.value
	generation := d.generation
	if value == d.lastSent {
		if generation == d.generation {
			d.dirty = false
		}
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	err := d.write(ctx, value)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.logger.Warn("dirty value flush failed",
			zap.String("name", d.name),
			zap.Int("retry", d.retries),
			zap.Error(err))
		if !d.closed && d.retries < d.maxRetries {
			d.retries++
			d.armLocked()
		}
		return err
	}
	d.lastSent = value
	d.retries = 0
	if d.generation == generation {
		d.dirty = false
	}
	return nil
}

// Close flushes and stops arming timers. Later Set calls still update the
// value but only an explicit Flush writes it.
func (d *Dirty[T]) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.stopLocked()
	d.mu.Unlock()
	return d.Flush(ctx)
}

// Discard stops the timer without writing.
func (d *Dirty[T]) Discard() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.stopLocked()
}

func (d *Dirty[T]) armLocked() {
	d.stopLocked()
	seq := d.timerSeq
	d.timer = d.scheduler.AfterFunc(d.delay, func() {
		d.mu.Lock()
		stale := seq != d.timerSeq
		if !stale {
			d.timer = nil
		}
		d.mu.Unlock()
		if stale {
			return
		}
		// Errors are already logged and the value stays dirty.
		_ = d.Flush(context.Background())
	})
}

func (d *Dirty[T]) stopLocked() {
	d.timerSeq++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
