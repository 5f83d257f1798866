package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/openscout/openscout/pkg/discovery"
)

// Normalizer converts one raw result row into the canonical resource shape.
// Raw remote payloads never leave this package; only normalized records do.
type Normalizer func(row map[string]interface{}) discovery.Resource

// normalizers maps tool IDs to their row normalizers. Tools without an
// entry use the default normalizer.
var normalizers = map[string]Normalizer{
	"rg_inventory_discovery": inventoryNormalizer,
	"rg_identity_discovery":  identityNormalizer,
	"rg_policy_discovery":    identityNormalizer,
}

// normalize converts the merged raw rows of an invocation into a Collection,
// de-duplicating by resource ID. The first occurrence of an ID wins; later
// pages re-serving a row (the ordered query makes this rare but possible
// across retried pages) do not inflate the result.
func normalize(toolID string, rows []map[string]interface{}, partial bool) *discovery.Collection {
	fn, ok := normalizers[toolID]
	if !ok {
		fn = defaultNormalizer
	}

	seen := make(map[string]bool, len(rows))
	resources := make([]discovery.Resource, 0, len(rows))
	breakdown := make(map[string]int)

	for _, row := range rows {
		res := fn(row)
		if res.ID == "" || seen[res.ID] {
			continue
		}
		seen[res.ID] = true
		resources = append(resources, res)
		if res.Type != "" {
			breakdown[res.Type]++
		}
	}

	return &discovery.Collection{
		ToolID:        toolID,
		Summary:       fmt.Sprintf("%d resources across %d types", len(resources), len(breakdown)),
		Resources:     resources,
		TypeBreakdown: breakdown,
		TotalRecords:  len(rows),
		Partial:       partial,
		Timestamp:     time.Now().UTC(),
	}
}

// defaultNormalizer extracts the common projection columns and keeps the
// row's properties map.
func defaultNormalizer(row map[string]interface{}) discovery.Resource {
	res := discovery.Resource{
		ID:             stringField(row, "id"),
		Name:           stringField(row, "name"),
		Type:           stringField(row, "type"),
		Location:       stringField(row, "location"),
		ResourceGroup:  stringField(row, "resourceGroup"),
		SubscriptionID: stringField(row, "subscriptionId"),
		TenantID:       stringField(row, "tenantId"),
		Tags:           tagsField(row),
		Properties:     propertiesField(row),
	}
	return res
}

// inventoryNormalizer extends the default shape with the inventory query's
// extra columns (kind, managedBy, sku, plan, identity, zones).
func inventoryNormalizer(row map[string]interface{}) discovery.Resource {
	res := defaultNormalizer(row)
	for _, key := range []string{"kind", "managedBy", "sku", "plan", "identity", "zones", "extendedLocation"} {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		if res.Properties == nil {
			res.Properties = make(map[string]interface{})
		}
		res.Properties[key] = v
	}
	return res
}

// identityNormalizer handles authorization rows, whose names are GUIDs and
// which may carry no location or resource group.
func identityNormalizer(row map[string]interface{}) discovery.Resource {
	res := defaultNormalizer(row)
	if res.Name == "" {
		// Authorization rows sometimes omit the name column; fall back to
		// the last ID segment.
		if idx := strings.LastIndex(res.ID, "/"); idx >= 0 {
			res.Name = res.ID[idx+1:]
		}
	}
	return res
}

func stringField(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

func tagsField(row map[string]interface{}) map[string]string {
	raw, ok := row["tags"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}
	tags := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags
}

func propertiesField(row map[string]interface{}) map[string]interface{} {
	raw, ok := row["properties"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil
	}
	props := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		props[k] = v
	}
	return props
}
