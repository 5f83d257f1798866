package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscout/openscout/pkg/discovery"
)

func newDiscoverCommand(version string) *cobra.Command {
	var (
		connectionID   string
		layerIDs       []string
		tenantID       string
		subscriptionID string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run a discovery synchronously",
		Long: `Run a discovery against a registered connection and wait for it to
finish. The bearer token is read from SCOUT_TOKEN; it is used for the
duration of the run and never persisted.

Requested layers are expanded with their dependencies: asking for topology
runs inventory first.`,
		Example: `  # Full inventory
  scout discover --connection conn-1 --layer inventory

  # Topology and identity (inventory resolved automatically)
  scout discover --connection conn-1 --layer topology --layer identity_access

  # Narrow the run to one subscription
  scout discover --connection conn-1 --layer inventory --subscription sub-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, version)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			d, err := rt.orchestrator.Run(ctx, &discovery.RunRequest{
				ConnectionID:   connectionID,
				TenantID:       tenantID,
				SubscriptionID: subscriptionID,
				Layers:         layerIDs,
			})
			if err != nil {
				if d != nil {
					printDiscovery(d)
				}
				return err
			}

			printDiscovery(d)
			if d.Stage == discovery.StageFailed {
				return fmt.Errorf("discovery %s failed", d.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&connectionID, "connection", "", "connection ID")
	cmd.Flags().StringSliceVarP(&layerIDs, "layer", "l", []string{"inventory"}, "layers to run")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "restrict to a tenant (must match the connection)")
	cmd.Flags().StringVar(&subscriptionID, "subscription", "", "restrict to one subscription")
	cmd.MarkFlagRequired("connection")

	return cmd
}

func printDiscovery(d *discovery.Discovery) {
	if jsonOutput {
		printJSON(d)
		return
	}

	fmt.Printf("Discovery %s: %s\n", d.ID, d.Stage)
	for _, entry := range d.Plan {
		marker := ""
		if entry.AutoResolved {
			marker = " (auto)"
		}
		fmt.Printf("  [%d] %-16s %s%s\n", entry.LayerNumber, entry.LayerID, entry.Status, marker)
		for _, run := range entry.Tools {
			fmt.Printf("        %-24s %s  records=%d\n", run.ToolID, run.Status, run.Records)
		}
	}
	if d.Results != nil {
		fmt.Printf("\nResources: %d across %d subscriptions\n",
			d.Results.Inventory.TotalResources, len(d.Results.Inventory.Subscriptions))
		for _, cat := range d.Results.Categories {
			fmt.Printf("  %-20s %d\n", cat.Label, cat.ResourceCount)
		}
	}
	if len(d.Errors) > 0 {
		fmt.Printf("\nErrors: %d\n", len(d.Errors))
		for _, e := range d.Errors {
			fmt.Printf("  [%s] %s\n", e.Code, e.Message)
		}
	}
}

func printJSON(v interface{}) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("failed to encode output: %v\n", err)
		return
	}
	fmt.Println(string(encoded))
}
