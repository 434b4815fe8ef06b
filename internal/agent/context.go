// ABOUTME: Context carriers for the caller identity and the progress observer
// ABOUTME: Tool handlers and nested specialists read both from their context

package agent

import "context"

// Observer receives progress while an invocation runs. Implementations must
// not block.
type Observer interface {
	Thinking(text string)
	ToolUse(name string)
}

type noopObserver struct{}

func (noopObserver) Thinking(string) {}
func (noopObserver) ToolUse(string)  {}

type ctxKey int

const (
	userIDKey ctxKey = iota
	observerKey
)

// WithUserID attaches the caller's user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the caller's user id, or "" if none.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func withObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey, obs)
}

// ObserverFromContext returns the observer of the enclosing invocation.
func ObserverFromContext(ctx context.Context) Observer {
	if obs, ok := ctx.Value(observerKey).(Observer); ok && obs != nil {
		return obs
	}
	return noopObserver{}
}
