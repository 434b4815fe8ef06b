// ABOUTME: Caller identity carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating the resolved user id

package auth

import "context"

// Source says how a caller's user id was resolved.
type Source string

const (
	SourceToken   Source = "token"
	SourceQuery   Source = "query"
	SourceDefault Source = "default"
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID string
	Source Source
}

// Authenticated reports whether the user id came from a verified token.
func (i *Identity) Authenticated() bool {
	return i != nil && i.Source == SourceToken
}

type identityKey struct{}

// WithIdentity returns a new context with id attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// ResolveUser picks the user a request acts for. A verified token always
// wins; otherwise a non-empty requested id (from a request body) overrides
// whatever the middleware resolved.
func ResolveUser(ctx context.Context, requested string) string {
	id := FromContext(ctx)
	if id.Authenticated() {
		return id.UserID
	}
	if requested != "" {
		return requested
	}
	if id == nil {
		return ""
	}
	return id.UserID
}
