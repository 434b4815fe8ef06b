// ABOUTME: In-memory fan-out of thread lifecycle events for cross-client awareness
// ABOUTME: Subscribers register per user and receive created/updated/deleted notices

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ThreadEventType names what happened to a thread.
type ThreadEventType string

const (
	ThreadCreated ThreadEventType = "created"
	ThreadUpdated ThreadEventType = "updated"
	ThreadDeleted ThreadEventType = "deleted"
)

// ThreadEvent notifies a user's other clients that a thread changed.
type ThreadEvent struct {
	Type         ThreadEventType `json:"type"`
	ThreadID     string          `json:"thread_id"`
	Title        string          `json:"thread_title,omitempty"`
	MessageCount int             `json:"message_count"`
	At           time.Time       `json:"at"`
}

// EventBroadcaster provides in-memory pub/sub of ThreadEvents keyed by user id.
type EventBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan ThreadEvent // userID -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewEventBroadcaster creates a broadcaster. Pass nil logger for default.
func NewEventBroadcaster(logger *slog.Logger) *EventBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBroadcaster{
		subscribers: make(map[string]map[string]chan ThreadEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for events on userID's threads. The returned channel is
// closed when ctx is cancelled, on Unsubscribe, or on Close.
func (b *EventBroadcaster) Subscribe(ctx context.Context, userID string) (<-chan ThreadEvent, string) {
	subID := uuid.New().String()
	ch := make(chan ThreadEvent, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan ThreadEvent)
	}
	b.subscribers[userID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "user_id", userID, "sub_id", subID)

	// Auto-cleanup on context cancellation
	context.AfterFunc(ctx, func() {
		b.Unsubscribe(userID, subID)
	})

	return ch, subID
}

// Publish delivers event to all of userID's subscribers. Non-blocking: events
// are dropped for subscribers whose channels are full.
func (b *EventBroadcaster) Publish(userID string, event ThreadEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[userID] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"user_id", userID,
				"sub_id", subID,
				"thread_id", event.ThreadID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBroadcaster) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[userID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, userID)
	}

	b.logger.Debug("subscriber removed", "user_id", userID, "sub_id", subID)
}

// SubscriberCount returns the number of live subscriptions for userID.
func (b *EventBroadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[userID])
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *EventBroadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for userID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, userID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
