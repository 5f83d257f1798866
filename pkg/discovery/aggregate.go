package discovery

import (
	"sort"
	"strings"
	"unicode"
)

// categoryLabels maps well-known provider namespaces to display labels.
// Namespaces outside this table fall back to a derived label; the category
// set itself always comes from the observed data, never from this table.
var categoryLabels = map[string]string{
	"Microsoft.Compute":             "Compute",
	"Microsoft.Network":             "Networking",
	"Microsoft.Storage":             "Storage",
	"Microsoft.Authorization":       "Identity & Access",
	"Microsoft.KeyVault":            "Security",
	"Microsoft.Sql":                 "Databases",
	"Microsoft.DocumentDB":          "Databases",
	"Microsoft.DBforPostgreSQL":     "Databases",
	"Microsoft.DBforMySQL":          "Databases",
	"Microsoft.Cache":               "Databases",
	"Microsoft.Web":                 "App Services",
	"Microsoft.ContainerService":    "Containers",
	"Microsoft.ContainerRegistry":   "Containers",
	"Microsoft.OperationalInsights": "Monitoring",
	"Microsoft.Insights":            "Monitoring",
	"Microsoft.EventHub":            "Messaging",
	"Microsoft.ServiceBus":          "Messaging",
	"Microsoft.CostManagement":      "Cost Management",
}

// Aggregate derives the category breakdown and flat inventory view from the
// per-layer collections. Categories with zero resources never appear;
// duplicates across layers count once, by resource ID.
func Aggregate(perLayer map[string][]*Collection) *Results {
	r := &Results{PerLayer: perLayer}
	resources := r.Resources()

	counts := make(map[string]int)
	subscriptions := make(map[string]bool)
	locations := make(map[string]int)
	types := make(map[string]int)
	for i := range resources {
		res := &resources[i]
		if ns := res.ProviderNamespace(); ns != "" {
			counts[ns]++
		}
		if res.SubscriptionID != "" {
			subscriptions[res.SubscriptionID] = true
		}
		if res.Location != "" {
			locations[res.Location]++
		}
		if res.Type != "" {
			types[res.Type]++
		}
	}

	r.Categories = make([]Category, 0, len(counts))
	for ns, n := range counts {
		r.Categories = append(r.Categories, Category{
			Namespace:     ns,
			Label:         categoryLabel(ns),
			ResourceCount: n,
		})
	}
	sort.Slice(r.Categories, func(i, j int) bool {
		if r.Categories[i].ResourceCount != r.Categories[j].ResourceCount {
			return r.Categories[i].ResourceCount > r.Categories[j].ResourceCount
		}
		return r.Categories[i].Namespace < r.Categories[j].Namespace
	})

	subList := make([]string, 0, len(subscriptions))
	for id := range subscriptions {
		subList = append(subList, id)
	}
	sort.Strings(subList)

	r.Inventory = InventorySummary{
		TotalResources: len(resources),
		Subscriptions:  subList,
		Locations:      locations,
		Types:          types,
	}
	return r
}

// categoryLabel returns the display label for a provider namespace, deriving
// one from the namespace itself when it is not in the known table.
func categoryLabel(namespace string) string {
	if label, ok := categoryLabels[namespace]; ok {
		return label
	}
	derived := strings.TrimPrefix(namespace, "Microsoft.")
	if derived == "" {
		return namespace
	}
	runes := []rune(derived)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
