// ABOUTME: Unbounded single-producer single-consumer queue of progress events
// ABOUTME: Producers never block; consumers poll with a bounded wait and see one terminal marker

package progress

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Receive when nothing arrived within the wait.
	ErrTimeout = errors.New("progress: receive timed out")
	// ErrDone is returned by Receive once every event before the terminal marker was consumed.
	ErrDone = errors.New("progress: stream finished")
	// ErrClosed is returned by Publish after the terminal marker was enqueued.
	ErrClosed = errors.New("progress: channel closed")
)

// Channel carries events from a running turn to the request that streams them.
// The terminal marker is enqueued exactly once by Close and is always the last
// thing the consumer observes.
type Channel struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
}

// New creates an empty channel.
func New() *Channel {
	return &Channel{notify: make(chan struct{}, 1)}
}

// Publish enqueues e without blocking.
func (c *Channel) Publish(e Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, e)
	c.mu.Unlock()

	c.wake()
	return nil
}

// Close enqueues the terminal marker. Calls after the first are no-ops and
// report false.
func (c *Channel) Close() bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	c.mu.Unlock()

	c.wake()
	return true
}

// Finish publishes e and then the terminal marker atomically.
func (c *Channel) Finish(e Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, e)
	c.closed = true
	c.mu.Unlock()

	c.wake()
	return nil
}

// Closed reports whether the terminal marker has been enqueued.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of queued events, excluding the terminal marker.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Receive returns the next event in FIFO order. It waits at most wait for one
// to arrive and then returns ErrTimeout. After the terminal marker it returns
// ErrDone on every call.
func (c *Channel) Receive(ctx context.Context, wait time.Duration) (Event, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			e := c.queue[0]
			c.queue[0] = Event{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return e, nil
		}
		if c.closed {
			c.mu.Unlock()
			return Event{}, ErrDone
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-timer.C:
			return Event{}, ErrTimeout
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}
