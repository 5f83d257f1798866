// Package layers defines the static registry of discovery layers and the
// dependency resolver that expands a requested layer set into an ordered
// execution plan.
package layers

import (
	"fmt"

	"github.com/openscout/openscout/pkg/discovery"
)

// RBAC tiers, ordered. A connection's tier must be at least the required
// tier of every resolved layer.
const (
	TierInventory = "inventory"
	TierCost      = "cost"
	TierSecurity  = "security"
)

// TierRank maps a tier name to its rank in the ladder. Unknown tiers rank
// lowest so an unrecognized connection tier never grants extra access.
func TierRank(tier string) int {
	switch tier {
	case TierInventory:
		return 1
	case TierCost:
		return 2
	case TierSecurity:
		return 3
	default:
		return 0
	}
}

// Layer is a named, dependency-ordered unit of discovery.
type Layer struct {
	// ID is the stable layer identifier.
	ID string `json:"layer_id" yaml:"layer_id"`

	// Number orders layers; strictly increasing along every dependency edge.
	Number int `json:"layer_number" yaml:"layer_number"`

	// Label is the human-friendly layer name.
	Label string `json:"label" yaml:"label"`

	// Description explains what the layer discovers.
	Description string `json:"description" yaml:"description"`

	// DependsOn names the layers whose output this layer needs.
	DependsOn []string `json:"depends_on" yaml:"depends_on"`

	// Tools are the collection tool IDs invoked for this layer, in order.
	Tools []string `json:"tools" yaml:"tools"`

	// Enabled layers may be requested and scheduled. Disabled layers are
	// scaffolds: they can appear in a dependency closure but are never run.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// RequiredTier is the minimum RBAC tier a connection needs.
	RequiredTier string `json:"required_tier" yaml:"required_tier"`
}

// Builtin returns the standard layer set.
func Builtin() []Layer {
	return []Layer{
		{
			ID:           "inventory",
			Number:       1,
			Label:        "Resource Inventory",
			Description:  "Full inventory of resources across the connection's subscriptions.",
			DependsOn:    nil,
			Tools:        []string{"rg_inventory_discovery"},
			Enabled:      true,
			RequiredTier: TierInventory,
		},
		{
			ID:           "topology",
			Number:       2,
			Label:        "Network Topology",
			Description:  "Network resources and their adjacency: interfaces, networks, load balancers.",
			DependsOn:    []string{"inventory"},
			Tools:        []string{"rg_topology_discovery"},
			Enabled:      true,
			RequiredTier: TierInventory,
		},
		{
			ID:           "identity_access",
			Number:       3,
			Label:        "Identity & Access",
			Description:  "Role assignments and policy assignments across collected scopes.",
			DependsOn:    []string{"inventory"},
			Tools:        []string{"rg_identity_discovery", "rg_policy_discovery"},
			Enabled:      true,
			RequiredTier: TierInventory,
		},
		{
			ID:           "data_flow",
			Number:       4,
			Label:        "Data Flow",
			Description:  "Data movement paths between storage, compute and messaging resources.",
			DependsOn:    []string{"inventory", "topology"},
			Tools:        nil,
			Enabled:      false,
			RequiredTier: TierInventory,
		},
		{
			ID:           "dependencies",
			Number:       5,
			Label:        "Application Dependencies",
			Description:  "Runtime dependency edges between application components.",
			DependsOn:    []string{"inventory", "topology"},
			Tools:        nil,
			Enabled:      false,
			RequiredTier: TierInventory,
		},
		{
			ID:           "governance",
			Number:       6,
			Label:        "Governance & Compliance",
			Description:  "Compliance posture against assigned policies.",
			DependsOn:    []string{"inventory"},
			Tools:        nil,
			Enabled:      false,
			RequiredTier: TierSecurity,
		},
		{
			ID:           "ha_dr",
			Number:       7,
			Label:        "HA / DR Posture",
			Description:  "Availability zones, replication and backup coverage.",
			DependsOn:    []string{"inventory", "topology"},
			Tools:        nil,
			Enabled:      false,
			RequiredTier: TierInventory,
		},
		{
			ID:           "operations_cost",
			Number:       8,
			Label:        "Operations & Cost",
			Description:  "Cost attribution and operational signals per resource.",
			DependsOn:    []string{"inventory"},
			Tools:        []string{"cost_discovery"},
			Enabled:      false,
			RequiredTier: TierCost,
		},
	}
}

// Registry is the static, verified set of discovery layers.
type Registry struct {
	byID    map[string]*Layer
	ordered []*Layer
}

// NewRegistry builds a registry from the given layers, verifying the
// configuration invariants at load time. A violation is a fatal
// configuration error, never a runtime discovery failure.
func NewRegistry(defs []Layer) (*Registry, error) {
	r := &Registry{
		byID:    make(map[string]*Layer, len(defs)),
		ordered: make([]*Layer, 0, len(defs)),
	}

	numbers := make(map[int]string, len(defs))
	for i := range defs {
		l := &defs[i]
		if l.ID == "" {
			return nil, discovery.NewConfigurationError("layer has empty ID", nil)
		}
		if _, exists := r.byID[l.ID]; exists {
			return nil, discovery.NewConfigurationError(
				fmt.Sprintf("duplicate layer ID: %s", l.ID), nil)
		}
		if prev, exists := numbers[l.Number]; exists {
			return nil, discovery.NewConfigurationError(
				fmt.Sprintf("layers %s and %s share number %d", prev, l.ID, l.Number), nil)
		}
		numbers[l.Number] = l.ID
		r.byID[l.ID] = l
	}

	// Dependencies must exist and point only to strictly lower-numbered
	// layers. This is what makes the number sort in Resolve a valid
	// topological order.
	for _, l := range r.byID {
		for _, dep := range l.DependsOn {
			target, exists := r.byID[dep]
			if !exists {
				return nil, discovery.NewConfigurationError(
					fmt.Sprintf("layer %s depends on unknown layer %s", l.ID, dep), nil)
			}
			if target.Number >= l.Number {
				return nil, discovery.NewConfigurationError(
					fmt.Sprintf("layer %s (number %d) depends on %s (number %d); dependencies must point to strictly lower numbers",
						l.ID, l.Number, target.ID, target.Number), nil)
			}
		}
	}

	for i := range defs {
		r.ordered = append(r.ordered, &defs[i])
	}
	sortByNumber(r.ordered)

	return r, nil
}

// NewBuiltinRegistry builds the registry from the standard layer set.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry(Builtin())
}

// Get returns a layer by ID.
func (r *Registry) Get(id string) (*Layer, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// List returns every layer ordered by layer number.
func (r *Registry) List() []*Layer {
	out := make([]*Layer, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Enabled returns the enabled layers ordered by layer number.
func (r *Registry) Enabled() []*Layer {
	out := make([]*Layer, 0, len(r.ordered))
	for _, l := range r.ordered {
		if l.Enabled {
			out = append(out, l)
		}
	}
	return out
}

// Resolve expands the requested layer set into an ordered execution plan:
// the dependency closure of the request, sorted by layer number ascending.
// Requesting an unknown or disabled layer directly is a rejection, not a
// silent skip. Disabled layers reached only through the closure are kept out
// of the schedule. Resolving the same set twice yields the same sequence.
func (r *Registry) Resolve(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, discovery.NewValidationError("no layers requested", nil)
	}

	included := make(map[string]bool)
	for _, id := range requested {
		l, ok := r.byID[id]
		if !ok {
			return nil, discovery.NewValidationError(
				fmt.Sprintf("unknown layer: %s", id), nil)
		}
		if !l.Enabled {
			return nil, discovery.NewValidationError(
				fmt.Sprintf("layer %s is disabled", id), nil)
		}
		included[id] = true
	}

	// Fixed-point expansion of the dependency closure. Registry
	// construction guarantees the graph is acyclic, so this terminates.
	for changed := true; changed; {
		changed = false
		for id := range included {
			for _, dep := range r.byID[id].DependsOn {
				if !included[dep] {
					included[dep] = true
					changed = true
				}
			}
		}
	}

	closure := make([]*Layer, 0, len(included))
	for id := range included {
		l := r.byID[id]
		if !l.Enabled {
			// Closure member only; never scheduled.
			continue
		}
		closure = append(closure, l)
	}
	sortByNumber(closure)

	out := make([]string, len(closure))
	for i, l := range closure {
		out[i] = l.ID
	}
	return out, nil
}

// RequiredTier returns the highest tier any of the given layers requires.
func (r *Registry) RequiredTier(layerIDs []string) string {
	highest := TierInventory
	for _, id := range layerIDs {
		l, ok := r.byID[id]
		if !ok {
			continue
		}
		if TierRank(l.RequiredTier) > TierRank(highest) {
			highest = l.RequiredTier
		}
	}
	return highest
}

// Info returns the resolver view of a layer. It implements part of
// discovery.LayerResolver.
func (r *Registry) Info(id string) (*discovery.LayerInfo, bool) {
	l, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return &discovery.LayerInfo{
		ID:           l.ID,
		Number:       l.Number,
		Label:        l.Label,
		DependsOn:    append([]string(nil), l.DependsOn...),
		Tools:        append([]string(nil), l.Tools...),
		RequiredTier: l.RequiredTier,
	}, true
}

// Authorize checks the connection tier against the highest tier the layer set
// requires. An unknown connection tier ranks below every real tier, so it
// never authorizes anything.
func (r *Registry) Authorize(connectionTier string, layerIDs []string) error {
	required := r.RequiredTier(layerIDs)
	if TierRank(connectionTier) < TierRank(required) {
		return discovery.NewValidationError(
			fmt.Sprintf("connection tier %q does not cover required tier %q", connectionTier, required), nil)
	}
	return nil
}

func sortByNumber(ls []*Layer) {
	// Insertion sort; the layer set is small and this keeps the package
	// free of ordering surprises from map iteration.
	for i := 1; i < len(ls); i++ {
		for j := i; j > 0 && ls[j-1].Number > ls[j].Number; j-- {
			ls[j-1], ls[j] = ls[j], ls[j-1]
		}
	}
}
