package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/fluxbridge"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and compile every rule",
		Long:  `Load the configuration, compile every path and expression and build the termination policy without connecting to the source or the sink.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := fluxbridge.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			rules, err := fluxbridge.CompileRules(cfg.Measurements, fluxbridge.NewTransformer())
			if err != nil {
				return err
			}
			policy, err := fluxbridge.NewPolicy(cfg.TerminateOnError, cfg.ErrorPolicy)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source:  %s (topic %q)\n", cfg.GetSource(), cfg.GetTopic())
			fmt.Fprintf(out, "sink:    %s\n", cfg.GetSinkName())
			for _, r := range rules.Rules() {
				fmt.Fprintf(out, "rule:    %s <- %s", r.Name, r.Path)
				if r.Expression != "" {
					fmt.Fprintf(out, " | %s", r.Expression)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintf(out, "policy:  %v\n", policy.Snapshot())
			fmt.Fprintln(out, "configuration OK")
			return nil
		},
	}
}
