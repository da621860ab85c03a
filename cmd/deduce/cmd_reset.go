package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved ledger and transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeStore, err := a.deps.openStore(a.cfg, a.logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()
			if err := st.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clear state: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Saved state cleared.")
			return nil
		},
	}
}
