package editor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	values   []string
	failures int
}

func (w *recordingWriter) write(_ context.Context, value string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values = append(w.values, value)
	if w.failures > 0 {
		w.failures--
		return errInjected
	}
	return nil
}

func (w *recordingWriter) written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.values...)
}

func newTestDirty(t *testing.T, writer *recordingWriter, scheduler *manualScheduler, maxRetries int) *Dirty[string] {
	t.Helper()
	value, err := NewDirty(DirtyConfig[string]{
		Initial:    "",
		Write:      writer.write,
		Scheduler:  scheduler,
		MaxRetries: maxRetries,
		Name:       "test",
	})
	require.NoError(t, err)
	return value
}

func TestNewDirtyRequiresWriter(t *testing.T) {
	t.Parallel()

	_, err := NewDirty(DirtyConfig[string]{})
	require.ErrorIs(t, err, errMissingWriter)
}

func TestDirtyCoalescesBurstIntoOneWrite(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	for _, text := range []string{"H", "He", "Hel", "Hell", "Hello"} {
		value.Set(text)
	}
	require.True(t, value.IsDirty())
	require.Equal(t, 1, scheduler.Pending())

	assert.Equal(t, 1, scheduler.Fire())
	assert.Equal(t, []string{"Hello"}, writer.written())
	assert.False(t, value.IsDirty())
	assert.Equal(t, "Hello", value.LastSent())
}

func TestDirtyIgnoresRemoteWhileDirty(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	value.Set("local")
	assert.False(t, value.ApplyRemote("remote"))
	assert.Equal(t, "local", value.Value())

	scheduler.Fire()
	assert.True(t, value.ApplyRemote("remote"))
	assert.Equal(t, "remote", value.Value())
	assert.Equal(t, "remote", value.LastSent())
}

func TestDirtyFailedFlushStaysDirtyAndRetries(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{failures: 1}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 3)

	value.Set("draft")
	scheduler.Fire()
	assert.True(t, value.IsDirty())
	assert.Equal(t, "", value.LastSent())
	require.Equal(t, 1, scheduler.Pending(), "a retry is armed")

	scheduler.Fire()
	assert.False(t, value.IsDirty())
	assert.Equal(t, []string{"draft", "draft"}, writer.written())
}

func TestDirtyStopsRetryingAfterLimit(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{failures: 10}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 1)

	value.Set("draft")
	scheduler.Fire()
	scheduler.Fire()
	assert.Equal(t, 0, scheduler.Pending())
	assert.True(t, value.IsDirty())
	assert.Len(t, writer.written(), 2)

	require.Error(t, value.Flush(context.Background()), "an explicit flush still writes")
	assert.Len(t, writer.written(), 3)
}

func TestDirtyFlushSkipsUnchangedValue(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	value.Set("same")
	value.Set("")
	require.NoError(t, value.Flush(context.Background()))
	assert.Empty(t, writer.written())
	assert.False(t, value.IsDirty())
}

func TestDirtySerializesWrites(t *testing.T) {
	t.Parallel()

	scheduler := &manualScheduler{}
	entered := make(chan string, 2)
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	var sent []string

	value, err := NewDirty(DirtyConfig[string]{
		Scheduler: scheduler,
		Write: func(_ context.Context, text string) error {
			mu.Lock()
			inFlight++
			maxInFlight = max(maxInFlight, inFlight)
			sent = append(sent, text)
			mu.Unlock()
			entered <- text
			<-release
			mu.Lock()
			inFlight--
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	value.Set("a")
	first := make(chan error, 1)
	go func() { first <- value.Flush(context.Background()) }()
	require.Equal(t, "a", <-entered)

	value.Set("ab")
	value.Set("abc")
	second := make(chan error, 1)
	go func() { second <- value.Flush(context.Background()) }()

	close(release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "abc"}, sent)
	assert.Equal(t, 1, maxInFlight)
	assert.False(t, value.IsDirty())
	assert.Equal(t, "abc", value.LastSent())
}

func TestDirtyCloseFlushesAndStopsArming(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	value.Set("final")
	require.NoError(t, value.Close(context.Background()))
	assert.Equal(t, []string{"final"}, writer.written())

	value.Set("after close")
	assert.Equal(t, 0, scheduler.Pending())
	assert.True(t, value.IsDirty())
}

func TestDirtyResetCancelsPendingWrite(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	value.Set("draft")
	value.Reset("converted")
	assert.Equal(t, 0, scheduler.Pending())
	assert.False(t, value.IsDirty())
	assert.Equal(t, "converted", value.Value())
	assert.Equal(t, "converted", value.LastSent())
	assert.Equal(t, 0, scheduler.Fire())
	assert.Empty(t, writer.written())
}

func TestDirtyStaleTimerCallbackIsIgnored(t *testing.T) {
	t.Parallel()

	writer := &recordingWriter{}
	scheduler := &manualScheduler{}
	value := newTestDirty(t, writer, scheduler, 0)

	value.Set("one")
	scheduler.mu.Lock()
	stale := scheduler.timers[0].callback
	scheduler.mu.Unlock()

	require.NoError(t, value.Flush(context.Background()))
	value.Set("two")
	stale()

	assert.Equal(t, []string{"one"}, writer.written())
	assert.True(t, value.IsDirty())
}
