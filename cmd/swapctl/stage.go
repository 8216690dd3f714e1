package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStageProtocolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stage-protocols <host>",
		Short: "Stage the protocol versions of the host's network",
		Long: `Run "node_util stage_protocols <network>.conf" as the service user on host,
where network is the chainspec name the node reports.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.node(args[0]).StageProtocols(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
