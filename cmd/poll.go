package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the mailbox once and process everything new",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "poll")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Poller == nil {
			return eris.New("poll: mailbox credentials are not configured")
		}

		res, err := env.Poller.PollOnce(ctx)
		if err != nil {
			return eris.Wrap(err, "poll")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "new emails: %d\nprocessed: %d\n", res.NewEmailsFound, res.Processed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pollCmd)
}
