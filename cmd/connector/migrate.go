package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eclipse-edc/Connector-sub001/clock"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := rootOpts.Config

			s, err := openStore(ctx, cfg.Store, clock.Real{}, rootOpts.Logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer s.Close()

			if err := s.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store %s migrated\n", cfg.Store.Driver)
			return nil
		},
	}
}
