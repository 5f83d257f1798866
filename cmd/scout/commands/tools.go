package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openscout/openscout/pkg/catalog"
	"github.com/openscout/openscout/pkg/config"
)

func newToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		Long: `List the governed tool catalog. Only approved tools can be invoked;
pending tools are visible but denied at the execution boundary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			registry, err := catalog.NewSeedRegistry(zerolog.Nop())
			if err != nil {
				return err
			}
			if len(cfg.Catalog.Paths) > 0 {
				loader := catalog.NewLoader(zerolog.Nop())
				tools, err := loader.LoadFromPaths(cfg.Catalog.Paths)
				if err != nil {
					return err
				}
				if err := registry.Replace(tools); err != nil {
					return err
				}
			}

			if jsonOutput {
				printJSON(registry.List())
				return nil
			}

			fmt.Printf("%-26s %-10s %-24s %-7s %s\n",
				"ID", "STATUS", "DOMAIN", "METHOD", "DESCRIPTION")
			for _, t := range registry.List() {
				fmt.Printf("%-26s %-10s %-24s %-7s %s\n",
					t.ID, t.Status, t.Domain, t.Method, t.Description)
			}
			return nil
		},
	}

	return cmd
}
