package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/andrej220/swapctl/pkg/config"
	"github.com/andrej220/swapctl/pkg/config/filestore"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the swapctl config file",
		Annotations: map[string]string{noSetup: ""},
	}
	cmd.AddCommand(newConfigInitCmd(a))
	return cmd
}

func newConfigInitCmd(a *app) *cobra.Command {
	var force bool
	var hosts []string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default Casper layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(a.cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", a.cfgPath)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			cfg := config.Default()
			cfg.Hosts = hosts
			if err := filestore.New(a.cfgPath).Save(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", a.cfgPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"validator-a", "validator-b"}, "the two host aliases")
	return cmd
}
