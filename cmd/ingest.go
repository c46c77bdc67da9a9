package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/rateledger/deposits-cli/internal/model"
	"github.com/rateledger/deposits-cli/internal/pipeline"
)

var (
	ingestSource    string
	ingestMethod    string
	ingestFile      string
	ingestStopAfter string
	ingestNoRaw     bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run the pipeline for one (source, method) raw file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var stopAfter model.Stage
		switch ingestStopAfter {
		case "":
		case "JSON_INGESTION", "FRN_MATCHING", "DEDUPLICATION":
			stopAfter = model.Stage(ingestStopAfter)
		default:
			return eris.Errorf("unknown stage %q", ingestStopAfter)
		}

		p, st, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := p.Run(ctx, model.SourceDescriptor{
			Source: ingestSource,
			Method: ingestMethod,
			Path:   ingestFile,
		}, pipeline.Options{
			StopAfterStage: stopAfter,
			AccumulateRaw:  !ingestNoRaw,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source name (e.g. moneyfacts)")
	ingestCmd.Flags().StringVar(&ingestMethod, "method", "", "scrape method (e.g. easy_access)")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the raw JSON array file")
	ingestCmd.Flags().StringVar(&ingestStopAfter, "stop-after", "", "stop after stage: JSON_INGESTION|FRN_MATCHING|DEDUPLICATION")
	ingestCmd.Flags().BoolVar(&ingestNoRaw, "no-accumulate", false, "validate and audit only, skip the partition replace")
	_ = ingestCmd.MarkFlagRequired("source")
	_ = ingestCmd.MarkFlagRequired("method")
	_ = ingestCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(ingestCmd)
}
