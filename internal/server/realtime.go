package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	RealtimeEventBlocksChanged   = "blocks-change"
	RealtimeEventBlocksDeleted   = "blocks-delete"
	RealtimeEventBlocksReordered = "blocks-reorder"
	realtimeEventHeartbeat       = "heartbeat"
	realtimeSourceBackend        = "blockpad-backend"
)

// RealtimeMessage tells the subscribers of one page which blocks changed.
type RealtimeMessage struct {
	PageID    string
	EventType string
	BlockIDs  []string
	Timestamp time.Time
}

// RealtimeDispatcher fans page change messages out to stream subscribers.
// Slow subscribers miss messages instead of blocking publishers.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for the page's messages until ctx ends or the returned
// cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, pageID string) (<-chan RealtimeMessage, func()) {
	if pageID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(pageID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(pageID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.PageID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.PageID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// SubscriberCount reports how many streams follow the page.
func (d *RealtimeDispatcher) SubscriberCount(pageID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[pageID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(pageID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[pageID]; !ok {
		d.subscribers[pageID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[pageID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(pageID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[pageID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, pageID)
		}
	}
	d.mu.Unlock()
}

type realtimeEventPayload struct {
	PageID    string   `json:"pageId"`
	BlockIDs  []string `json:"blockIds"`
	Timestamp int64    `json:"timestamp"`
	Source    string   `json:"source"`
}

// handlePageStream serves the page's change messages as server-sent events.
// Clients refetch the named blocks; the stream never carries block content.
func (h *httpHandler) handlePageStream(c *gin.Context) {
	pageID, ok := h.existingPage(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, pageID.String())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.logger.Debug("page stream opened",
		zap.String("page_id", pageID.String()),
		zap.String("subject", c.GetString(subjectContextKey)))

	heartbeat := func() {
		c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
			PageID:    pageID.String(),
			Timestamp: time.Now().UTC().Unix(),
			Source:    realtimeSourceBackend,
		})
		c.Writer.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case message, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				PageID:    message.PageID,
				BlockIDs:  message.BlockIDs,
				Timestamp: message.Timestamp.Unix(),
				Source:    realtimeSourceBackend,
			})
			c.Writer.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}
