package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "OpenScout - Governed Cloud Resource Discovery",
		Long: `OpenScout discovers cloud estates through a layered, dependency-ordered
workflow, with every outbound call gated by a fail-closed policy boundary.

Features:
  - Layered discovery: inventory, topology, identity and access
  - Governed tool catalog with approval workflow
  - Policy-enforced execution boundary with retry budgets
  - Derived topology graph: containment, network, identity edges
  - Identity-bound connections; tokens never persisted`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newDiscoverCommand(version))
	rootCmd.AddCommand(newLayersCommand())
	rootCmd.AddCommand(newToolsCommand())
	rootCmd.AddCommand(newConnectionsCommand(version))
	rootCmd.AddCommand(newGraphCommand(version))

	return rootCmd
}
