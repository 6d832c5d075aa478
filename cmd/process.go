package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var processCmd = &cobra.Command{
	Use:   "process <message-id>",
	Short: "Process a single stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := env.Orchestrator.ProcessMessage(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "process %s", args[0])
		}

		w := cmd.OutOrStdout()
		if !out.Processed {
			fmt.Fprintf(w, "skipped: %s\n", out.Reason)
			return nil
		}
		if out.SubmissionNumber > 0 {
			fmt.Fprintf(w, "processed: submission #%d\n", out.SubmissionNumber)
			return nil
		}
		fmt.Fprintf(w, "processed: %s\n", out.Reason)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)
}
