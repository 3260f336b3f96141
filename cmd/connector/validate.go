package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/store/memory"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and every state machine",
		Long: `Load the configuration, build the handler registry and check that every
descriptor is well formed and every non-terminal state has a handler.
Prints each descriptor on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := handler.NewRegistry()
			registerModules(reg, rootOpts.Config, memory.New(), clock.Real{}, rootOpts.Logger)
			if err := reg.Validate(); err != nil {
				return err
			}
			printDescriptors(cmd.OutOrStdout(), reg)
			return nil
		},
	}
}

func printDescriptors(w io.Writer, reg *handler.Registry) {
	for _, typ := range reg.Types() {
		d, _ := reg.Descriptor(typ)
		fmt.Fprintf(w, "%s (initial %s, failed %s)\n", typ, d.Initial(), d.Failed())
		for _, st := range d.States() {
			switch {
			case d.IsTerminal(st):
				fmt.Fprintf(w, "  %s [terminal]\n", st)
			default:
				targets := d.Targets(st)
				names := make([]string, len(targets))
				for i, t := range targets {
					names[i] = string(t)
				}
				fmt.Fprintf(w, "  %s -> %s\n", st, strings.Join(names, ", "))
			}
		}
	}
}
