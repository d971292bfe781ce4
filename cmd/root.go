package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hooplytics/statsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "statsync",
	Short: "Fault-tolerant sports stats collection pipeline",
	Long:  "Collects team statistics from multiple sources, reconciles team names into canonical ids, and records every run. Failing sources are retried with backoff and fenced off by per-source circuit breakers.",
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
