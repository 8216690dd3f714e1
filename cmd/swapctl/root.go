package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/andrej220/swapctl/internal/lg"
	"github.com/andrej220/swapctl/internal/swap"
	"github.com/andrej220/swapctl/pkg/config"
)

const (
	exitFailure    = 1
	exitValidation = 2
	exitPartial    = 3
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "swapctl",
		Short: "Swap the validator role between two Casper nodes",
		Long: `swapctl moves the validator keys of a Casper validator to its hot standby.

Both hosts are reached over SSH using the aliases of your OpenSSH client
config. A swap only runs after the pre-swap checks passed and --confirm is
given; a failed swap is not rolled back and reports the step to resume from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipSetup(cmd) {
				return nil
			}
			if err := a.setup(cmd.Context()); err != nil {
				return err
			}
			cmd.SetContext(lg.Attach(cmd.Context(), a.logger))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", config.DefaultPath, "path to the swapctl config file")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(
		newCheckCmd(a),
		newSwapCmd(a),
		newStatusCmd(a),
		newStageProtocolsCmd(a),
		newConfigCmd(a),
		newJournalCmd(a),
	)
	return root
}

// commands annotated with noSetup work without a config or any connection
const noSetup = "no-setup"

func skipSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[noSetup]; ok {
			return true
		}
	}
	return false
}

func exitCode(err error) int {
	var vf *swap.ValidationFailure
	var se *swap.StepError
	switch {
	case errors.As(err, &vf):
		return exitValidation
	case errors.As(err, &se):
		return exitPartial
	}
	return exitFailure
}
