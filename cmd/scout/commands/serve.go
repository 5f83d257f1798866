package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openscout/openscout/pkg/api"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discovery API server",
		Long: `Start the HTTP API server.

Endpoints:
  GET  /health                       service health
  GET  /metrics                      Prometheus metrics
  GET  /v1/layers                    layer registry
  GET  /v1/tools                     tool catalog
  POST /v1/tools/invoke              single governed tool invocation
  POST /v1/connections               register a connection
  GET  /v1/connections               list connections
  POST /v1/discoveries               start a discovery (asynchronous)
  GET  /v1/discoveries               list discoveries
  GET  /v1/discoveries/{id}          discovery record with plan and results
  GET  /v1/discoveries/{id}/graph    derived topology graph`,
		Example: `  # Serve with defaults (127.0.0.1:8484, sqlite store)
  scout serve

  # Serve on a specific address with a config file
  scout serve --addr 0.0.0.0:8080 --config /etc/scout/scout.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, version)
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if addr == "" {
				addr = rt.cfg.Server.Addr()
			}
			srv := api.NewServer(api.Options{
				Addr:            addr,
				ReadTimeout:     rt.cfg.Server.ReadTimeout,
				WriteTimeout:    rt.cfg.Server.WriteTimeout,
				ShutdownTimeout: rt.cfg.Server.ShutdownTimeout,
			}, api.Deps{
				Orchestrator: rt.orchestrator,
				Invoker:      rt.router,
				Store:        rt.store,
				Layers:       rt.layers,
				Catalog:      rt.catalog,
				Tokens:       rt.tokens,
				Metrics:      rt.tel.Metrics,
			}, rt.logger)

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case <-ctx.Done():
				return srv.Shutdown(context.Background())
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	return cmd
}
