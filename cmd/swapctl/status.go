package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andrej220/swapctl/internal/node"
	"github.com/andrej220/swapctl/internal/swap"
	"github.com/andrej220/swapctl/pkg/persistence"
)

const (
	roleValidator = "validator"
	roleStandby   = "standby"
	roleUnknown   = "unknown"
)

type hostStatus struct {
	Host         string `json:"host"`
	Role         string `json:"role"`
	Network      string `json:"network,omitempty"`
	ReactorState string `json:"reactor_state,omitempty"`
	Systemd      string `json:"systemd,omitempty"`
	Error        string `json:"error,omitempty"`
}

func newStatusCmd(a *app) *cobra.Command {
	var outFile string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show role, network, reactor state and service status of both hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nodes, err := a.nodeSet()
			if err != nil {
				return err
			}
			statuses := collectStatus(cmd.Context(), nodes)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tROLE\tNETWORK\tREACTOR\tSERVICE")
			for _, s := range statuses {
				service := s.Systemd
				if s.Error != "" {
					service = "error: " + s.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.Host, s.Role, dash(s.Network), dash(s.ReactorState), dash(service))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if outFile != "" {
				return persistence.WriteJSON(statuses, outFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "also write the status as JSON to this file")
	return cmd
}

// collectStatus gathers what it can; a failing host gets its error recorded
// instead of aborting the report.
func collectStatus(ctx context.Context, nodes *swap.NodeSet) []hostStatus {
	validator, _ := nodes.Validator(ctx)
	var out []hostStatus
	for _, n := range []*node.Node{nodes.A, nodes.B} {
		s := hostStatus{Host: n.Host, Role: roleUnknown}
		switch {
		case validator == n:
			s.Role = roleValidator
		case validator != nil:
			s.Role = roleStandby
		}
		if err := fillStatus(ctx, n, &s); err != nil {
			s.Error = err.Error()
		}
		out = append(out, s)
	}
	return out
}

func fillStatus(ctx context.Context, n *node.Node, s *hostStatus) error {
	systemd, err := n.SystemdStatus(ctx)
	if err != nil {
		return err
	}
	s.Systemd = serviceState(systemd)

	if s.Network, err = n.NetworkName(ctx); err != nil {
		return err
	}
	state, ok, err := n.ReactorState(ctx)
	if err != nil {
		return err
	}
	if ok {
		s.ReactorState = state
	}
	return nil
}

// serviceState picks the "Active:" line out of systemctl status output.
func serviceState(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Active:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(out)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
