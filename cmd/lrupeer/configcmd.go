package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Long:  "Load the config file, LRUPEER_* environment variables and flags, validate the result and print it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out, err := m.Config().YAML()
			if err != nil {
				return fmt.Errorf("render config: %w", err)
			}
			if f := m.ConfigFileUsed(); f != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
