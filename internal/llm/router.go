// ABOUTME: Routes "provider/model" identifiers to configured providers
// ABOUTME: Identifiers without a known prefix go to the default provider unchanged

package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Router is a Provider that dispatches on the model id prefix.
type Router struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRouter creates an empty router. defaultProvider handles ids with no
// recognised prefix, such as Bedrock-style "anthropic.claude-..." ids.
func NewRouter(defaultProvider string) *Router {
	return &Router{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
	}
}

// Register adds a provider under name.
func (r *Router) Register(name string, p Provider) {
	r.providers[name] = p
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the provider and provider-local model name for modelID.
func (r *Router) Resolve(modelID string) (Provider, string, error) {
	if prefix, model, ok := strings.Cut(modelID, "/"); ok {
		if p, found := r.providers[prefix]; found {
			return p, model, nil
		}
	}

	p, ok := r.providers[r.defaultProvider]
	if !ok {
		return nil, "", fmt.Errorf("%w: no provider for model %q", ErrUnknownProvider, modelID)
	}
	return p, modelID, nil
}

// Converse routes req to its provider with the prefix stripped.
func (r *Router) Converse(ctx context.Context, req *Request) (*Response, error) {
	p, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	routed := *req
	routed.Model = model
	return p.Converse(ctx, &routed)
}
