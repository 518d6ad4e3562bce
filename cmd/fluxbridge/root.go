package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/drblury/fluxbridge"
)

const defaultConfigPath = "config.toml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "fluxbridge",
		Short:        "Bridge JSON sensor payloads into InfluxDB",
		Long:         `Subscribe to a message source, extract numeric values from each JSON payload and write them to InfluxDB as points.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file")

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newPublishCmd(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger it asks for.
func (o *rootOptions) load(logOutput io.Writer) (*fluxbridge.Config, fluxbridge.ServiceLogger, error) {
	cfg, err := fluxbridge.LoadConfig(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := fluxbridge.NewLogger(logOutput, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
