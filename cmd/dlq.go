package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/orchestrator"
	"github.com/sells-group/submission-intake/internal/resilience"
	"github.com/sells-group/submission-intake/internal/store"
)

var (
	dlqErrorType string
	dlqLimit     int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay dead-lettered messages",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered messages, newest first",
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

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MESSAGE\tSTAGE\tTYPE\tATTEMPTS\tLAST FAILED\tERROR")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				e.MessageID, e.Stage, e.ErrorType, e.RetryCount+1,
				e.LastFailedAt.Format(time.RFC3339), e.Error)
		}
		return w.Flush()
	},
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay <message-id>",
	Short: "Reset a dead-lettered message and process it again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		out, err := replayDeadLetter(ctx, env.Store, env.Orchestrator, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %s: processed=%t reason=%s\n", args[0], out.Processed, out.Reason)
		return nil
	},
}

type messageProcessor interface {
	ProcessMessage(ctx context.Context, id string) (*orchestrator.Outcome, error)
}

// replayDeadLetter resets a stored message and runs it again. Its queue
// entries are removed only after processing succeeds.
func replayDeadLetter(ctx context.Context, st store.Store, proc messageProcessor, messageID string) (*orchestrator.Outcome, error) {
	entries, err := st.ListDLQ(ctx, resilience.DLQFilter{MessageID: messageID, Limit: 1000})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, eris.Errorf("dlq: no entries for message %s", messageID)
	}

	if err := st.ResetMessage(ctx, messageID, false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Errorf("dlq: message %s failed at %s before it was stored; it is fetched again once its dedup mark expires",
				messageID, entries[0].Stage)
		}
		return nil, eris.Wrapf(err, "dlq: reset %s", messageID)
	}

	out, err := proc.ProcessMessage(ctx, messageID)
	if err != nil {
		return nil, eris.Wrapf(err, "dlq: replay %s", messageID)
	}

	for _, e := range entries {
		if err := st.RemoveDLQ(ctx, e.ID); err != nil {
			return out, err
		}
	}
	zap.L().Info("dlq: message replayed", zap.String("message_id", messageID), zap.Int("entries_removed", len(entries)))
	return out, nil
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqErrorType, "type", "", "only list transient or permanent failures")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "maximum entries to list")
	dlqCmd.AddCommand(dlqListCmd, dlqReplayCmd)
	rootCmd.AddCommand(dlqCmd)
}
