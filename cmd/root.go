package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rateledger/deposits-cli/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "deposits-cli",
	Short: "Savings-product ingestion and deduplication pipeline",
	Long:  "Validates scraped savings-product listings, resolves issuing institutions to FRNs, deduplicates competing listings, and keeps a reconstructable audit trail.",
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
