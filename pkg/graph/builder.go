// Package graph derives a typed topology graph from aggregated discovery
// results: the containment hierarchy, network adjacency, role assignment and
// policy governance edges.
package graph

import (
	"strings"

	"github.com/openscout/openscout/pkg/discovery"
	"github.com/rs/zerolog"
)

// Node types.
const (
	NodeTenant        = "tenant"
	NodeSubscription  = "subscription"
	NodeResourceGroup = "resource_group"
	NodeResource      = "resource"
	NodePrincipal     = "principal"
)

// Edge labels.
const (
	EdgeContains    = "contains"
	EdgeNetworkLink = "network_link"
	EdgeAssignedTo  = "assigned_to"
	EdgeGovernedBy  = "governed_by"
)

// Node is one vertex of the derived graph.
type Node struct {
	// ID is the canonical (lowercased path) node identifier.
	ID string `json:"id"`

	// Type classifies the node (tenant, subscription, resource_group,
	// resource, principal).
	Type string `json:"type"`

	// Label is the display name.
	Label string `json:"label"`

	// ResourceType is the fully qualified type for resource nodes.
	ResourceType string `json:"resource_type,omitempty"`
}

// Edge is one directed, labeled edge of the derived graph.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// Stats summarizes a built graph.
type Stats struct {
	TotalNodes    int            `json:"total_nodes"`
	TotalEdges    int            `json:"total_edges"`
	NodesByType   map[string]int `json:"nodes_by_type"`
	EdgesByLabel  map[string]int `json:"edges_by_label"`
	ResourceCount int            `json:"resource_count"`
}

// Graph is the derived topology. It implements discovery.GraphSnapshot.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`

	index map[string]int
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return len(g.Nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.Edges) }

// Node returns the node with the given canonical ID.
func (g *Graph) Node(id string) (*Node, bool) {
	idx, ok := g.index[canonical(id)]
	if !ok {
		return nil, false
	}
	return &g.Nodes[idx], true
}

func (g *Graph) addNode(n Node) {
	if _, exists := g.index[n.ID]; exists {
		return
	}
	g.index[n.ID] = len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
}

// addEdge appends an edge if both endpoints exist. References to resources
// outside the collected scope are silently dropped; the graph never carries
// dangling endpoints.
func (g *Graph) addEdge(from, to, label string) {
	if _, ok := g.index[from]; !ok {
		return
	}
	if _, ok := g.index[to]; !ok {
		return
	}
	g.Edges = append(g.Edges, Edge{From: from, To: to, Label: label})
}

// Builder derives graphs from discovery results. It implements
// discovery.GraphBuilder.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a graph builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger: logger.With().Str("component", "graph-builder").Logger(),
	}
}

// Build derives the graph from aggregated results: containment hierarchy
// first, then typed relationship edges over the known nodes. Building is
// pure computation over already collected data; it makes no remote calls.
func (b *Builder) Build(results *discovery.Results) (discovery.GraphSnapshot, error) {
	g := &Graph{index: make(map[string]int)}

	resources := results.Resources()

	// Pass 1: containment hierarchy.
	for i := range resources {
		b.addHierarchy(g, &resources[i])
	}

	// Pass 2: relationship edges, now that every in-scope node exists.
	for i := range resources {
		b.addRelationships(g, &resources[i])
	}

	g.Stats = computeStats(g)

	b.logger.Info().
		Int("nodes", g.NodeCount()).
		Int("edges", g.EdgeCount()).
		Int("resources", g.Stats.ResourceCount).
		Msg("Graph built")

	return g, nil
}

// addHierarchy creates tenant, subscription, resource group and resource
// nodes with their containment edges.
func (b *Builder) addHierarchy(g *Graph, res *discovery.Resource) {
	parsed, ok := ParseResourceID(res.ID)
	if !ok {
		b.logger.Debug().Str("id", res.ID).Msg("Skipping unparseable resource ID")
		return
	}

	tenantID := tenantNodeID(res.TenantID)
	g.addNode(Node{ID: tenantID, Type: NodeTenant, Label: strings.TrimPrefix(tenantID, "/tenants/")})

	subID := subscriptionNodeID(parsed.SubscriptionID)
	g.addNode(Node{ID: subID, Type: NodeSubscription, Label: parsed.SubscriptionID})
	g.addEdge(tenantID, subID, EdgeContains)

	parent := subID
	if parsed.ResourceGroup != "" {
		rgID := resourceGroupNodeID(parsed.SubscriptionID, parsed.ResourceGroup)
		g.addNode(Node{ID: rgID, Type: NodeResourceGroup, Label: parsed.ResourceGroup})
		g.addEdge(subID, rgID, EdgeContains)
		parent = rgID
	}

	resID := canonical(res.ID)
	label := res.Name
	if label == "" {
		label = parsed.Name
	}
	g.addNode(Node{ID: resID, Type: NodeResource, Label: label, ResourceType: res.Type})
	g.addEdge(parent, resID, EdgeContains)
}

// addRelationships derives the typed edges a resource's properties imply.
func (b *Builder) addRelationships(g *Graph, res *discovery.Resource) {
	from := canonical(res.ID)

	switch strings.ToLower(res.Type) {
	case "microsoft.network/networkinterfaces":
		if id := nestedID(res.Properties, "virtualMachine"); id != "" {
			g.addEdge(from, canonical(id), EdgeNetworkLink)
		}
		if id := nestedID(res.Properties, "networkSecurityGroup"); id != "" {
			g.addEdge(from, canonical(id), EdgeNetworkLink)
		}
		for _, cfg := range nestedList(res.Properties, "ipConfigurations") {
			props, _ := cfg["properties"].(map[string]interface{})
			if id := nestedID(props, "subnet"); id != "" {
				g.addEdge(from, canonical(parentOfSubnet(id)), EdgeNetworkLink)
			}
		}

	case "microsoft.network/loadbalancers":
		for _, cfg := range nestedList(res.Properties, "frontendIPConfigurations") {
			props, _ := cfg["properties"].(map[string]interface{})
			if id := nestedID(props, "publicIPAddress"); id != "" {
				g.addEdge(from, canonical(id), EdgeNetworkLink)
			}
		}

	case "microsoft.network/privateendpoints":
		for _, conn := range nestedList(res.Properties, "privateLinkServiceConnections") {
			props, _ := conn["properties"].(map[string]interface{})
			if id, _ := props["privateLinkServiceId"].(string); id != "" {
				g.addEdge(from, canonical(id), EdgeNetworkLink)
			}
		}

	case "microsoft.authorization/roleassignments":
		if principalID, _ := res.Properties["principalId"].(string); principalID != "" {
			pID := "/principals/" + strings.ToLower(principalID)
			g.addNode(Node{ID: pID, Type: NodePrincipal, Label: principalID})
			g.addEdge(from, pID, EdgeAssignedTo)
		}

	case "microsoft.authorization/policyassignments":
		if scope, _ := res.Properties["scope"].(string); scope != "" {
			g.addEdge(canonical(scope), from, EdgeGovernedBy)
		}
	}
}

func computeStats(g *Graph) Stats {
	s := Stats{
		TotalNodes:   len(g.Nodes),
		TotalEdges:   len(g.Edges),
		NodesByType:  make(map[string]int),
		EdgesByLabel: make(map[string]int),
	}
	for i := range g.Nodes {
		s.NodesByType[g.Nodes[i].Type]++
		if g.Nodes[i].Type == NodeResource {
			s.ResourceCount++
		}
	}
	for i := range g.Edges {
		s.EdgesByLabel[g.Edges[i].Label]++
	}
	return s
}

// nestedID extracts properties[key].id from a properties map.
func nestedID(props map[string]interface{}, key string) string {
	if props == nil {
		return ""
	}
	m, ok := props[key].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

// nestedList extracts properties[key] as a list of objects.
func nestedList(props map[string]interface{}, key string) []map[string]interface{} {
	if props == nil {
		return nil
	}
	raw, ok := props[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}
