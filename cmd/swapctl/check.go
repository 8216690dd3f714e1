package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run the pre-swap checks without changing either node",
		Long: `Resolve which host currently validates and verify that both hosts are on the
same network, report the expected reactor states and hold every key file.
All problems are listed, not only the first one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			if err := o.CheckSwap(cmd.Context()); err != nil {
				return err
			}
			validator, standby, err := o.Nodes().Roles(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All checks passed: %s is validator, %s is standby.\n", validator, standby)
			return nil
		},
	}
}
