package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags and the state every subcommand shares.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	Config Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the connector binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "connector",
		Short:        "Dataspace connector process engine",
		Long:         "Drives contract negotiations, transfer processes and policy monitors through their state machines.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if opts.LogLevel != "" {
				cfg.Log.Level = opts.LogLevel
			}

			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}
