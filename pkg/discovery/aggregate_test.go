package discovery

import (
	"strings"
	"testing"
)

func res(id, typ, sub, location string) Resource {
	return Resource{ID: id, Name: id, Type: typ, SubscriptionID: sub, Location: location}
}

func TestAggregateCategories(t *testing.T) {
	perLayer := map[string][]*Collection{
		"inventory": {
			{
				ToolID: "rg_inventory_discovery",
				Resources: []Resource{
					res("/vm-1", "Microsoft.Compute/virtualMachines", "sub-1", "westeurope"),
					res("/vm-2", "Microsoft.Compute/virtualMachines", "sub-2", "westeurope"),
					res("/vnet-1", "Microsoft.Network/virtualNetworks", "sub-1", "westeurope"),
				},
			},
		},
		"topology": {
			{
				ToolID: "rg_topology_discovery",
				Resources: []Resource{
					// Duplicate of vnet-1 across layers counts once.
					res("/vnet-1", "Microsoft.Network/virtualNetworks", "sub-1", "westeurope"),
					res("/nic-1", "Microsoft.Network/networkInterfaces", "sub-1", "northeurope"),
				},
			},
		},
	}

	got := Aggregate(perLayer)

	if got.Inventory.TotalResources != 4 {
		t.Fatalf("expected 4 unique resources, got %d", got.Inventory.TotalResources)
	}
	if len(got.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %+v", got.Categories)
	}
	// Ties broken by namespace; both namespaces hold 2 resources here.
	if got.Categories[0].Namespace != "Microsoft.Compute" || got.Categories[0].ResourceCount != 2 {
		t.Fatalf("unexpected first category: %+v", got.Categories[0])
	}
	if got.Categories[1].Label != "Networking" {
		t.Fatalf("expected the networking label, got %+v", got.Categories[1])
	}

	if len(got.Inventory.Subscriptions) != 2 || got.Inventory.Subscriptions[0] != "sub-1" {
		t.Fatalf("unexpected subscriptions: %+v", got.Inventory.Subscriptions)
	}
	if got.Inventory.Locations["westeurope"] != 3 {
		t.Fatalf("unexpected location counts: %+v", got.Inventory.Locations)
	}
	if got.Inventory.Types["Microsoft.Network/virtualNetworks"] != 1 {
		t.Fatalf("unexpected type counts: %+v", got.Inventory.Types)
	}
}

func TestResourcesDedupDeterministic(t *testing.T) {
	sparse := res("/vm-1", "Microsoft.Compute/virtualMachines", "sub-1", "westeurope")
	rich := sparse
	rich.Properties = map[string]interface{}{"vmSize": "Standard_D2s_v3"}
	richPeer := sparse
	richPeer.Properties = map[string]interface{}{"osType": "Linux"}

	// The richer copy wins regardless of which layer carried it.
	perLayer := map[string][]*Collection{
		"topology":  {{Resources: []Resource{rich}}},
		"inventory": {{Resources: []Resource{sparse}}},
	}
	got := (&Results{PerLayer: perLayer}).Resources()
	if len(got) != 1 {
		t.Fatalf("expected one deduplicated resource, got %d", len(got))
	}
	if got[0].Properties["vmSize"] != "Standard_D2s_v3" {
		t.Fatalf("the richer copy must win: %+v", got[0])
	}

	// Equally rich copies tie; the earlier layer in sorted key order wins,
	// every time.
	perLayer = map[string][]*Collection{
		"topology":  {{Resources: []Resource{richPeer}}},
		"inventory": {{Resources: []Resource{rich}}},
	}
	for i := 0; i < 50; i++ {
		got = (&Results{PerLayer: perLayer}).Resources()
		if len(got) != 1 || got[0].Properties["vmSize"] != "Standard_D2s_v3" {
			t.Fatalf("tie must resolve to the inventory copy, got %+v", got[0].Properties)
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(map[string][]*Collection{})
	if got.Inventory.TotalResources != 0 || len(got.Categories) != 0 {
		t.Fatalf("empty input must aggregate to nothing, got %+v", got)
	}
}

func TestCategoryLabel(t *testing.T) {
	tests := []struct {
		namespace string
		want      string
	}{
		{"Microsoft.Compute", "Compute"},
		{"Microsoft.Authorization", "Identity & Access"},
		{"Microsoft.DesktopVirtualization", "DesktopVirtualization"},
		{"Oracle.Database", "Oracle.Database"},
	}
	for _, tt := range tests {
		if got := categoryLabel(tt.namespace); got != tt.want {
			t.Fatalf("categoryLabel(%q) = %q, expected %q", tt.namespace, got, tt.want)
		}
	}
}

func TestStubAnalyzerCounts(t *testing.T) {
	analyzer := NewStubAnalyzer()

	result, err := analyzer.Analyze("inventory", []*Collection{
		{Resources: []Resource{res("/a", "Microsoft.Compute/virtualMachines", "sub-1", "")}},
		nil,
		{Resources: []Resource{res("/b", "Microsoft.Compute/virtualMachines", "sub-1", "")}, Partial: true},
	})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if result.ResourceCount != 2 {
		t.Fatalf("expected 2 resources, got %d", result.ResourceCount)
	}
	if result.LayerID != "inventory" || result.Status != "completed" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !strings.Contains(result.Summary, "partial") {
		t.Fatalf("partial collections should be called out in the summary, got %q", result.Summary)
	}
}
