package catalog

import (
	"fmt"
	"sync"

	"github.com/openscout/openscout/pkg/discovery"
	"github.com/rs/zerolog"
)

// Registry is the in-memory tool catalog: seed definitions plus whatever the
// loader layered on top of them. Reads are concurrent; replacement happens
// atomically on reload.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger zerolog.Logger
}

// NewRegistry creates a registry populated with the given tools.
// Malformed entries are rejected at load; none of them enter the registry.
func NewRegistry(logger zerolog.Logger, tools []Tool) (*Registry, error) {
	r := &Registry{
		tools:  make(map[string]*Tool, len(tools)),
		logger: logger.With().Str("component", "tool-catalog").Logger(),
	}
	if err := r.Replace(tools); err != nil {
		return nil, err
	}
	return r, nil
}

// NewSeedRegistry creates a registry holding only the built-in tools.
func NewSeedRegistry(logger zerolog.Logger) (*Registry, error) {
	return NewRegistry(logger, Seed())
}

// Replace atomically swaps the registry contents. The incoming set is fully
// validated first; on any error the current contents are kept.
func (r *Registry) Replace(tools []Tool) error {
	next := make(map[string]*Tool, len(tools))
	for i := range tools {
		t := tools[i]
		if err := t.Validate(); err != nil {
			return discovery.NewConfigurationError("invalid tool definition", err)
		}
		if _, exists := next[t.ID]; exists {
			return discovery.NewConfigurationError(
				fmt.Sprintf("duplicate tool ID: %s", t.ID), nil)
		}
		next[t.ID] = &t
	}

	r.mu.Lock()
	r.tools = next
	r.mu.Unlock()

	r.logger.Info().Int("count", len(next)).Msg("Tool catalog loaded")
	return nil
}

// Get returns a tool by ID.
func (r *Registry) Get(id string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns every tool, ordered by ID.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sortByID(out)
	return out
}

// Approved returns the approved tools, ordered by ID.
func (r *Registry) Approved() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Status == ToolStatusApproved {
			out = append(out, t)
		}
	}
	sortByID(out)
	return out
}

func sortByID(ts []*Tool) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].ID > ts[j].ID; j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}
