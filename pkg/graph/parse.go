package graph

import (
	"strings"
)

// ParsedID holds the components of a path-style resource identifier:
// /subscriptions/{sub}/resourceGroups/{rg}/providers/{namespace}/{type}/{name},
// possibly with nested child type/name pairs after the first.
type ParsedID struct {
	SubscriptionID string
	ResourceGroup  string
	Namespace      string
	Type           string
	Name           string
}

// ParseResourceID parses a path-style resource identifier. Matching is
// case-insensitive on the path keywords, as upstream emits both casings.
func ParseResourceID(id string) (*ParsedID, bool) {
	segments := strings.Split(strings.Trim(id, "/"), "/")
	if len(segments) < 2 || !strings.EqualFold(segments[0], "subscriptions") {
		return nil, false
	}

	parsed := &ParsedID{SubscriptionID: segments[1]}
	rest := segments[2:]

	if len(rest) >= 2 && strings.EqualFold(rest[0], "resourceGroups") {
		parsed.ResourceGroup = rest[1]
		rest = rest[2:]
	}

	if len(rest) == 0 {
		// A bare subscription or resource group path.
		return parsed, true
	}

	if !strings.EqualFold(rest[0], "providers") || len(rest) < 4 {
		return nil, false
	}
	parsed.Namespace = rest[1]

	// Segments after the namespace alternate type/name, nesting for child
	// resources. The fully qualified type joins every type segment.
	typeParts := []string{parsed.Namespace}
	rest = rest[2:]
	for i := 0; i+1 < len(rest); i += 2 {
		typeParts = append(typeParts, rest[i])
		parsed.Name = rest[i+1]
	}
	if parsed.Name == "" {
		return nil, false
	}
	parsed.Type = strings.Join(typeParts, "/")

	return parsed, true
}

// subscriptionNodeID returns the canonical node ID for a subscription.
func subscriptionNodeID(subscriptionID string) string {
	return strings.ToLower("/subscriptions/" + subscriptionID)
}

// resourceGroupNodeID returns the canonical node ID for a resource group.
func resourceGroupNodeID(subscriptionID, resourceGroup string) string {
	return strings.ToLower("/subscriptions/" + subscriptionID + "/resourcegroups/" + resourceGroup)
}

// tenantNodeID returns the canonical node ID for a tenant.
func tenantNodeID(tenantID string) string {
	if tenantID == "" {
		tenantID = "unknown"
	}
	return strings.ToLower("/tenants/" + tenantID)
}

// canonical lowercases a resource ID so references with differing casings
// resolve to the same node.
func canonical(id string) string {
	return strings.ToLower(id)
}

// parentOfSubnet strips the trailing /subnets/{name} from a subnet ID,
// yielding the owning virtual network's ID.
func parentOfSubnet(subnetID string) string {
	lower := strings.ToLower(subnetID)
	idx := strings.Index(lower, "/subnets/")
	if idx < 0 {
		return subnetID
	}
	return subnetID[:idx]
}
