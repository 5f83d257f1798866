package catalog

// Seed returns the built-in tool definitions. The Resource Graph tools back
// the three enabled discovery layers; cost_discovery is seeded pending until
// the approval workflow promotes it.
func Seed() []Tool {
	return []Tool{
		{
			ID:            "rg_inventory_discovery",
			Name:          "Resource Graph Inventory",
			Description:   "Full resource inventory across the authorized subscriptions.",
			Category:      "resource_graph",
			QueryTemplate: "resources | project id, name, type, tenantId, kind, location, resourceGroup, subscriptionId, managedBy, sku, plan, properties, identity, zones, extendedLocation, tags | order by id asc",
			Domain:        "management.azure.com",
			Method:        "POST",
			Status:        ToolStatusApproved,
		},
		{
			ID:                "rg_topology_discovery",
			Name:              "Resource Graph Topology",
			Description:       "Network topology resources: interfaces, networks, security groups, load balancers.",
			Category:          "resource_graph",
			ProviderNamespace: "Microsoft.Network",
			QueryTemplate:     "resources | where type in~ ('microsoft.network/networkinterfaces', 'microsoft.network/networksecuritygroups', 'microsoft.network/publicipaddresses', 'microsoft.network/virtualnetworks', 'microsoft.network/routetables', 'microsoft.network/privateendpoints', 'microsoft.network/loadbalancers') | project id, name, type, location, resourceGroup, subscriptionId, properties, tags | order by id asc",
			Domain:            "management.azure.com",
			Method:            "POST",
			Status:            ToolStatusApproved,
		},
		{
			ID:                "rg_identity_discovery",
			Name:              "Resource Graph Identity",
			Description:       "Role assignments and role definitions across the authorized scopes.",
			Category:          "resource_graph",
			ProviderNamespace: "Microsoft.Authorization",
			QueryTemplate:     "authorizationresources | where type in~ ('microsoft.authorization/roleassignments', 'microsoft.authorization/roledefinitions') | project id, name, type, properties, tenantId, subscriptionId | order by id asc",
			Domain:            "management.azure.com",
			Method:            "POST",
			Status:            ToolStatusApproved,
		},
		{
			ID:                "rg_policy_discovery",
			Name:              "Resource Graph Policy",
			Description:       "Policy assignments across the authorized scopes.",
			Category:          "resource_graph",
			ProviderNamespace: "Microsoft.Authorization",
			QueryTemplate:     "policyresources | where type =~ 'microsoft.authorization/policyassignments' | project id, name, type, properties, location, subscriptionId | order by id asc",
			Domain:            "management.azure.com",
			Method:            "POST",
			Status:            ToolStatusApproved,
		},
		{
			ID:                "cost_discovery",
			Name:              "Cost Discovery",
			Description:       "Cost and usage data for an authorized scope.",
			Category:          "addon",
			ProviderNamespace: "Microsoft.CostManagement",
			QueryTemplate:     "costmanagementresources | where type =~ 'microsoft.costmanagement/query' | project id, name, type, subscriptionId, properties",
			Domain:            "management.azure.com",
			Method:            "POST",
			Status:            ToolStatusPending,
		},
	}
}
