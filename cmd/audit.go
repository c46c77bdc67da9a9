package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rateledger/deposits-cli/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit <batch-id>",
	Short: "Validate the audit trail for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		batchID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		validator := audit.NewValidator(cfg.Audit, st)
		report, err := validator.Validate(ctx, batchID)
		if err != nil {
			return eris.Wrap(err, "audit: validate batch")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return eris.Wrap(err, "audit: encode report")
		}

		if !report.Valid {
			zap.L().Warn("audit trail invalid",
				zap.String("batch_id", batchID),
				zap.Int("errors", len(report.Errors)))
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
