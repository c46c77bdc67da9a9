package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show partition counts and recent batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		partitions, err := st.PartitionCombinations(ctx)
		if err != nil {
			return err
		}
		batches, err := st.Batches(ctx, statusLimit)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"partitions": partitions,
			"batches":    batches,
		})
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max batches to list")
	rootCmd.AddCommand(statusCmd)
}
