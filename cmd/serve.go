package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/artvee-ingest/internal/api"
)

type serveOptions struct {
	addr string
}

// newServeCmd creates and configures the 'serve' subcommand.
func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and read-only progress endpoints",
		Long: `Starts an HTTP server exposing /healthz, /readyz, /metrics and the /v1/progress
endpoints. The ledger is re-read on each request and never locked, so the
server can run next to an active batch.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			srvCfg := rt.cfg.Server
			if opts.addr != "" {
				srvCfg.Addr = opts.addr
			}
			srv := api.NewServer(api.FileLedger(rt.cfg.Progress.Path), srvCfg, rt.logger.Named("api"))
			if err := srv.ListenAndServe(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
