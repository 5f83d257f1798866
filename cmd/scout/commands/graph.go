package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newGraphCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <discovery-id>",
		Short: "Show the derived topology graph of a discovery",
		Long: `Print the stored topology graph of a completed discovery: containment
hierarchy plus network, role assignment and policy governance edges.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, version)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			raw, err := rt.store.GetGraph(ctx, args[0])
			if err != nil {
				return err
			}

			var pretty map[string]interface{}
			if err := json.Unmarshal(raw, &pretty); err != nil {
				return fmt.Errorf("failed to decode stored graph: %w", err)
			}
			printJSON(pretty)
			return nil
		},
	}

	return cmd
}
