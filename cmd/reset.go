package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset <message-id>",
	Short: "Return a message to pending so it is processed again",
	Long:  "Clears the processing state of a message. The submission number is kept. With --force the reply marker is cleared too, so the broker gets a fresh reply.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reset"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ResetMessage(ctx, args[0], resetForce); err != nil {
			return eris.Wrapf(err, "reset %s", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset %s (force=%t)\n", args[0], resetForce)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "also clear the reply marker so a new reply is sent")
	rootCmd.AddCommand(resetCmd)
}
