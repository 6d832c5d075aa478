package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/submission-intake/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Commercial insurance submission intake pipeline",
	Long:  "Reads submission emails from a shared mailbox, extracts structured fields from the body and attachments, checks them for consistency and replies to the broker.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
