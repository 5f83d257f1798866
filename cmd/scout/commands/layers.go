package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openscout/openscout/pkg/layers"
)

func newLayersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "layers",
		Short: "List discovery layers",
		Long: `List the layer registry: each layer's number, dependencies, tools and
the RBAC tier it requires. Disabled layers are scaffolds; they cannot be
requested directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := layers.NewBuiltinRegistry()
			if err != nil {
				return err
			}

			if jsonOutput {
				printJSON(registry.List())
				return nil
			}

			fmt.Printf("%-3s %-18s %-28s %-9s %-10s %s\n",
				"#", "ID", "LABEL", "ENABLED", "TIER", "DEPENDS ON")
			for _, l := range registry.List() {
				fmt.Printf("%-3d %-18s %-28s %-9t %-10s %v\n",
					l.Number, l.ID, l.Label, l.Enabled, l.RequiredTier, l.DependsOn)
			}
			return nil
		},
	}

	return cmd
}
