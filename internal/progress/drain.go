// ABOUTME: Consumer loop that turns a Channel into a heartbeat-padded event stream
// ABOUTME: Used by the HTTP layer to write one SSE frame per event

package progress

import (
	"context"
	"errors"
	"time"
)

// DefaultHeartbeat is the poll interval used when none is configured.
const DefaultHeartbeat = time.Second

// Drain emits an initial heartbeat, then every queued event in order, with a
// heartbeat whenever wait elapses without one. It returns nil once the
// terminal marker is reached, the emit error if writing fails, or the
// context error if ctx ends first.
func Drain(ctx context.Context, c *Channel, wait time.Duration, emit func(Event) error) error {
	if wait <= 0 {
		wait = DefaultHeartbeat
	}

	if err := emit(Heartbeat()); err != nil {
		return err
	}

	for {
		e, err := c.Receive(ctx, wait)
		switch {
		case err == nil:
			if err := emit(e); err != nil {
				return err
			}
		case errors.Is(err, ErrTimeout):
			if err := emit(Heartbeat()); err != nil {
				return err
			}
		case errors.Is(err, ErrDone):
			return nil
		default:
			return err
		}
	}
}
