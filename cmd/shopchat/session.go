package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect or reset the persisted session id",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the session id, creating one if none is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, release, err := a.identityManager(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			id, err := ids.GetOrCreateSessionID(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the stored session id; the next chat starts a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, release, err := a.identityManager(cmd.Context())
			if err != nil {
				return err
			}
			defer release()

			if err := ids.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session reset")
			return nil
		},
	})

	return cmd
}
