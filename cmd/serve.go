package cmd

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"claude-bridge/internal/metrics"
	providerfactory "claude-bridge/internal/provider/factory"
	"claude-bridge/internal/router"
	"claude-bridge/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var overridePort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				if overridePort <= 0 || overridePort > 65535 {
					return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
				}
				cfg.Server.Port = overridePort
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			rec, err := metrics.New(cfg.Metrics.Namespace, reg)
			if err != nil {
				return fmt.Errorf("register metrics: %w", err)
			}

			components, err := providerfactory.Build(cfg, os.LookupEnv, rec, logger)
			if err != nil {
				return err
			}

			rt, err := router.New(components.Catalog, components.Handler)
			if err != nil {
				return err
			}

			srv, err := server.New(cfg, rt, reg)
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&overridePort, "port", "p", 0, "override server port from configuration")
	return cmd
}
