package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oriys/nova-ric/internal/launcher"
)

func runCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve invocations from the runtime API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := launcher.Setup(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()
			return p.Run(ctx, builtinRegistry())
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "Metrics listen address")
	return cmd
}
