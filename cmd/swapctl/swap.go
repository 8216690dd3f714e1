package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrej220/swapctl/internal/swap"
)

func newSwapCmd(a *app) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Move the validator role to the standby node",
		Long: `Run the pre-swap checks and, if they pass and --confirm is given, move the
validator keys and unit files to the standby and demote the current validator.

Without --confirm nothing is changed. A failed swap is not rolled back; the
error names the step that failed so recovery can continue by hand.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			o, err := a.orchestrator()
			if err != nil {
				return err
			}

			res, err := o.Run(cmd.Context(), confirm)
			if errors.Is(err, swap.ErrNotConfirmed) {
				standby, err := o.Nodes().Standby(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pre-swap checks passed. Re-run with --confirm to make %s the validator.\n", standby)
				return nil
			}
			if err != nil {
				if res != nil {
					fmt.Fprintf(out, "Swap %s %s after %d completed steps, nothing was rolled back.\n",
						res.RunID, res.State, res.StepsCompleted)
				}
				return err
			}

			fmt.Fprintf(out, "Swap %s completed: %s is validator, %s is standby.\n", res.RunID, res.NewValidator, res.NewStandby)
			fmt.Fprintln(out, res.ValidatorStatus)
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "perform the swap after the checks passed")
	return cmd
}
