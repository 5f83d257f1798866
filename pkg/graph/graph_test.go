package graph

import (
	"testing"

	"github.com/openscout/openscout/pkg/discovery"
	"github.com/rs/zerolog"
)

func TestParseResourceID(t *testing.T) {
	tests := []struct {
		id   string
		want *ParsedID
		ok   bool
	}{
		{
			id: "/subscriptions/sub-1/resourceGroups/rg-app/providers/Microsoft.Compute/virtualMachines/vm-1",
			want: &ParsedID{
				SubscriptionID: "sub-1",
				ResourceGroup:  "rg-app",
				Namespace:      "Microsoft.Compute",
				Type:           "Microsoft.Compute/virtualMachines",
				Name:           "vm-1",
			},
			ok: true,
		},
		{
			// Child resource: type joins every type segment.
			id: "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/virtualNetworks/vnet-1/subnets/default",
			want: &ParsedID{
				SubscriptionID: "sub-1",
				ResourceGroup:  "rg-net",
				Namespace:      "Microsoft.Network",
				Type:           "Microsoft.Network/virtualNetworks/subnets",
				Name:           "default",
			},
			ok: true,
		},
		{
			// Subscription-scoped resource with no resource group.
			id: "/subscriptions/sub-1/providers/Microsoft.Authorization/roleAssignments/abc",
			want: &ParsedID{
				SubscriptionID: "sub-1",
				Namespace:      "Microsoft.Authorization",
				Type:           "Microsoft.Authorization/roleAssignments",
				Name:           "abc",
			},
			ok: true,
		},
		{
			// Lowercased path keywords parse too.
			id: "/subscriptions/sub-1/resourcegroups/rg-app/providers/microsoft.compute/virtualmachines/vm-1",
			want: &ParsedID{
				SubscriptionID: "sub-1",
				ResourceGroup:  "rg-app",
				Namespace:      "microsoft.compute",
				Type:           "microsoft.compute/virtualmachines",
				Name:           "vm-1",
			},
			ok: true,
		},
		{id: "/subscriptions/sub-1", want: &ParsedID{SubscriptionID: "sub-1"}, ok: true},
		{id: "/tenants/t-1", ok: false},
		{id: "not-a-path", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParseResourceID(tt.id)
		if ok != tt.ok {
			t.Fatalf("ParseResourceID(%q) ok = %t, expected %t", tt.id, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if *got != *tt.want {
			t.Fatalf("ParseResourceID(%q) = %+v, expected %+v", tt.id, got, tt.want)
		}
	}
}

func resultsOf(resources ...discovery.Resource) *discovery.Results {
	return &discovery.Results{
		PerLayer: map[string][]*discovery.Collection{
			"inventory": {{ToolID: "rg_inventory_discovery", Resources: resources}},
		},
	}
}

func vm(name string) discovery.Resource {
	return discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-app/providers/Microsoft.Compute/virtualMachines/" + name,
		Name:     name,
		Type:     "Microsoft.Compute/virtualMachines",
		TenantID: "tenant-1",
	}
}

func buildGraph(t *testing.T, results *discovery.Results) *Graph {
	t.Helper()
	snapshot, err := NewBuilder(zerolog.Nop()).Build(results)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return snapshot.(*Graph)
}

func TestBuildHierarchy(t *testing.T) {
	g := buildGraph(t, resultsOf(vm("vm-1"), vm("vm-2")))

	// tenant, subscription, resource group, two resources
	if g.NodeCount() != 5 {
		t.Fatalf("expected 5 nodes, got %d: %+v", g.NodeCount(), g.Nodes)
	}
	if g.Stats.ResourceCount != 2 {
		t.Fatalf("expected 2 resource nodes, got %d", g.Stats.ResourceCount)
	}
	// tenant->sub, sub->rg, rg->vm-1, rg->vm-2
	if g.Stats.EdgesByLabel[EdgeContains] != 4 {
		t.Fatalf("expected 4 contains edges, got %d", g.Stats.EdgesByLabel[EdgeContains])
	}

	if _, ok := g.Node("/subscriptions/sub-1/resourcegroups/rg-app"); !ok {
		t.Fatal("resource group node missing")
	}
}

func TestBuildNetworkLinks(t *testing.T) {
	nic := discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/networkInterfaces/nic-1",
		Name:     "nic-1",
		Type:     "Microsoft.Network/networkInterfaces",
		TenantID: "tenant-1",
		Properties: map[string]interface{}{
			"virtualMachine": map[string]interface{}{
				"id": "/subscriptions/sub-1/resourceGroups/rg-app/providers/Microsoft.Compute/virtualMachines/vm-1",
			},
			"networkSecurityGroup": map[string]interface{}{
				"id": "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/networkSecurityGroups/nsg-1",
			},
			"ipConfigurations": []interface{}{
				map[string]interface{}{
					"properties": map[string]interface{}{
						"subnet": map[string]interface{}{
							"id": "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/virtualNetworks/vnet-1/subnets/default",
						},
					},
				},
			},
		},
	}
	nsg := discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/networkSecurityGroups/nsg-1",
		Name:     "nsg-1",
		Type:     "Microsoft.Network/networkSecurityGroups",
		TenantID: "tenant-1",
	}
	vnet := discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/virtualNetworks/vnet-1",
		Name:     "vnet-1",
		Type:     "Microsoft.Network/virtualNetworks",
		TenantID: "tenant-1",
	}

	g := buildGraph(t, resultsOf(vm("vm-1"), nic, nsg, vnet))

	links := g.Stats.EdgesByLabel[EdgeNetworkLink]
	if links != 3 {
		t.Fatalf("expected nic->vm, nic->nsg and nic->vnet links, got %d: %+v", links, g.Edges)
	}
}

func TestBuildDropsEdgesToUnknownTargets(t *testing.T) {
	nic := discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/networkInterfaces/nic-1",
		Name:     "nic-1",
		Type:     "Microsoft.Network/networkInterfaces",
		TenantID: "tenant-1",
		Properties: map[string]interface{}{
			"virtualMachine": map[string]interface{}{
				"id": "/subscriptions/sub-9/resourceGroups/other/providers/Microsoft.Compute/virtualMachines/elsewhere",
			},
		},
	}

	g := buildGraph(t, resultsOf(nic))
	if n := g.Stats.EdgesByLabel[EdgeNetworkLink]; n != 0 {
		t.Fatalf("edge to a resource outside the collected scope must be dropped, got %d", n)
	}
}

func TestBuildRoleAndPolicyAssignments(t *testing.T) {
	role := discovery.Resource{
		ID:       "/subscriptions/sub-1/providers/Microsoft.Authorization/roleAssignments/ra-1",
		Type:     "Microsoft.Authorization/roleAssignments",
		TenantID: "tenant-1",
		Properties: map[string]interface{}{
			"principalId": "PRINCIPAL-1",
		},
	}
	pol := discovery.Resource{
		ID:       "/subscriptions/sub-1/providers/Microsoft.Authorization/policyAssignments/pa-1",
		Type:     "Microsoft.Authorization/policyAssignments",
		TenantID: "tenant-1",
		Properties: map[string]interface{}{
			"scope": "/subscriptions/sub-1",
		},
	}

	g := buildGraph(t, resultsOf(role, pol))

	if g.Stats.EdgesByLabel[EdgeAssignedTo] != 1 {
		t.Fatalf("expected one assigned_to edge, got %+v", g.Stats.EdgesByLabel)
	}
	if g.Stats.EdgesByLabel[EdgeGovernedBy] != 1 {
		t.Fatalf("expected one governed_by edge, got %+v", g.Stats.EdgesByLabel)
	}
	if _, ok := g.Node("/principals/principal-1"); !ok {
		t.Fatal("principal node missing")
	}
}

func TestBuildCaseInsensitiveMatching(t *testing.T) {
	// Same VM referenced with different casing resolves to one node.
	nic := discovery.Resource{
		ID:       "/subscriptions/sub-1/resourceGroups/rg-net/providers/Microsoft.Network/networkInterfaces/nic-1",
		Type:     "Microsoft.Network/networkInterfaces",
		TenantID: "tenant-1",
		Properties: map[string]interface{}{
			"virtualMachine": map[string]interface{}{
				"id": "/SUBSCRIPTIONS/SUB-1/RESOURCEGROUPS/RG-APP/PROVIDERS/MICROSOFT.COMPUTE/VIRTUALMACHINES/VM-1",
			},
		},
	}

	g := buildGraph(t, resultsOf(vm("vm-1"), nic))
	if g.Stats.EdgesByLabel[EdgeNetworkLink] != 1 {
		t.Fatalf("case-insensitive reference should match, got %+v", g.Edges)
	}
}

func TestStats(t *testing.T) {
	g := buildGraph(t, resultsOf(vm("vm-1")))

	if g.Stats.TotalNodes != g.NodeCount() || g.Stats.TotalEdges != g.EdgeCount() {
		t.Fatalf("stats out of sync with graph: %+v", g.Stats)
	}
	if g.Stats.NodesByType[NodeSubscription] != 1 {
		t.Fatalf("expected one subscription node, got %+v", g.Stats.NodesByType)
	}
}
