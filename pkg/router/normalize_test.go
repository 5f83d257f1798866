package router

import (
	"testing"
)

func row(id, name, typ string) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"name":           name,
		"type":           typ,
		"location":       "westeurope",
		"resourceGroup":  "rg-app",
		"subscriptionId": "sub-1",
	}
}

func TestNormalizeDeduplicatesByID(t *testing.T) {
	rows := []map[string]interface{}{
		row("/subscriptions/sub-1/a", "a", "Microsoft.Compute/virtualMachines"),
		row("/subscriptions/sub-1/b", "b", "Microsoft.Compute/virtualMachines"),
		row("/subscriptions/sub-1/a", "a", "Microsoft.Compute/virtualMachines"),
	}

	col := normalize("rg_inventory_discovery", rows, false)
	if len(col.Resources) != 2 {
		t.Fatalf("expected 2 unique resources, got %d", len(col.Resources))
	}
	if col.TotalRecords != 3 {
		t.Fatalf("expected 3 total records before dedup, got %d", col.TotalRecords)
	}
	if col.TypeBreakdown["Microsoft.Compute/virtualMachines"] != 2 {
		t.Fatalf("unexpected type breakdown: %v", col.TypeBreakdown)
	}
}

func TestNormalizeExtractsTagsAndProperties(t *testing.T) {
	r := row("/subscriptions/sub-1/vm", "vm", "Microsoft.Compute/virtualMachines")
	r["tags"] = map[string]interface{}{"env": "prod", "count": 3}
	r["properties"] = map[string]interface{}{"vmSize": "Standard_D2s"}
	r["kind"] = "linux"

	col := normalize("rg_inventory_discovery", []map[string]interface{}{r}, false)
	res := col.Resources[0]

	if res.Tags["env"] != "prod" {
		t.Fatalf("expected tag env=prod, got %v", res.Tags)
	}
	if _, exists := res.Tags["count"]; exists {
		t.Fatal("non-string tag value should be dropped")
	}
	if res.Properties["vmSize"] != "Standard_D2s" {
		t.Fatalf("expected properties to flow through, got %v", res.Properties)
	}
	if res.Properties["kind"] != "linux" {
		t.Fatalf("inventory normalizer should keep the kind column, got %v", res.Properties)
	}
}

func TestNormalizeIdentityNameFallback(t *testing.T) {
	r := map[string]interface{}{
		"id":   "/subscriptions/sub-1/providers/Microsoft.Authorization/roleAssignments/abc-123",
		"type": "microsoft.authorization/roleassignments",
	}

	col := normalize("rg_identity_discovery", []map[string]interface{}{r}, false)
	if col.Resources[0].Name != "abc-123" {
		t.Fatalf("expected name fallback to ID tail, got %q", col.Resources[0].Name)
	}
}

func TestNormalizeSkipsRowsWithoutID(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "orphan", "type": "Microsoft.Compute/virtualMachines"},
		row("/subscriptions/sub-1/a", "a", "Microsoft.Compute/virtualMachines"),
	}

	col := normalize("rg_inventory_discovery", rows, true)
	if len(col.Resources) != 1 {
		t.Fatalf("expected the ID-less row to be dropped, got %d resources", len(col.Resources))
	}
	if !col.Partial {
		t.Fatal("partial flag should flow through")
	}
}
