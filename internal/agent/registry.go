// ABOUTME: Registry of specialists available to the orchestrator
// ABOUTME: Builds the orchestrator's tool list and the insights listing

package agent

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ErrSpecialistExists indicates a specialist with the same name is registered.
var ErrSpecialistExists = errors.New("specialist already registered")

// ErrSpecialistNotFound indicates the named specialist is not registered.
var ErrSpecialistNotFound = errors.New("specialist not found")

// DefaultOrchestratorPrompt routes requests to specialists.
const DefaultOrchestratorPrompt = `You are an enterprise assistant that routes each request to the most suitable specialist.
Delegate to a specialist tool when the request falls in its area and pass the user's request as the query.
Answer directly, without tools, for greetings and general questions.
When a specialist answers, relay its answer faithfully and concisely.`

// SpecialistInfo describes a registered specialist.
type SpecialistInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Models      []string `json:"models"`
	Tools       []string `json:"tools"`
}

// Registry holds the specialists.
type Registry struct {
	specialists map[string]*Specialist
	mu          sync.RWMutex
	logger      *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		specialists: make(map[string]*Specialist),
		logger:      logger.With("component", "registry"),
	}
}

// Register adds s. Specialists without their own models use the orchestrator's.
func (r *Registry) Register(s *Specialist) error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("specialist name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specialists[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrSpecialistExists, s.Name)
	}
	r.specialists[s.Name] = s
	r.logger.Info("specialist registered",
		"name", s.Name,
		"tools", len(s.Tools),
		"total_specialists", len(r.specialists),
	)
	return nil
}

// Get returns the named specialist.
func (r *Registry) Get(name string) (*Specialist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.specialists[name]
	if !ok {
		return nil, ErrSpecialistNotFound
	}
	return s, nil
}

func (r *Registry) sorted() []*Specialist {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Specialist, 0, len(r.specialists))
	for _, s := range r.specialists {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List describes every specialist, sorted by name.
func (r *Registry) List() []SpecialistInfo {
	specs := r.sorted()
	infos := make([]SpecialistInfo, len(specs))
	for i, s := range specs {
		infos[i] = SpecialistInfo{
			Name:        s.Name,
			Description: s.Description,
			Models:      append([]string(nil), s.Models...),
			Tools:       s.ToolNames(),
		}
	}
	return infos
}

// Tools exposes every specialist as an orchestrator tool. Specialists with
// no models of their own inherit fallbackModels.
func (r *Registry) Tools(d *Dispatcher, fallbackModels []string) []Tool {
	specs := r.sorted()
	tools := make([]Tool, len(specs))
	for i, s := range specs {
		if len(s.Models) == 0 {
			cp := *s
			cp.Models = fallbackModels
			s = &cp
		}
		tools[i] = s.AsTool(d)
	}
	return tools
}

// OrchestratorPrompt appends the specialist roster to base.
func (r *Registry) OrchestratorPrompt(base string) string {
	if strings.TrimSpace(base) == "" {
		base = DefaultOrchestratorPrompt
	}
	specs := r.sorted()
	if len(specs) == 0 {
		return base
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nSpecialists:\n")
	for _, s := range specs {
		fmt.Fprintf(&sb, "- %s: %s\n", s.Name, s.Description)
	}
	return sb.String()
}
