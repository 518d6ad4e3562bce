package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drblury/fluxbridge"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Long:  `Run the bridge until it receives SIGINT or SIGTERM, or until a failure the termination policy marks as fatal.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := fluxbridge.NewService(ctx, cfg, logger, fluxbridge.ServiceDependencies{})
			if err != nil {
				logger.Error("Could not start bridge", err, nil)
				return err
			}
			return svc.Start(ctx)
		},
	}
}
