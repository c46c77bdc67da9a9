package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/rateledger/deposits-cli/internal/model"
)

var researchCmd = &cobra.Command{
	Use:   "research <batch-id>",
	Short: "List products routed to the research queue for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ResearchQueue(ctx, args[0])
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []model.ResearchEntry{}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	},
}

func init() {
	rootCmd.AddCommand(researchCmd)
}
