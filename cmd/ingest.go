package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/shamrock-bonds/lead-pipeline/internal/pipeline"
)

var ingestJSONOut bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a batch of raw arrest records from a JSON file or stdin",
	Long:  "Reads a JSON array of raw scraper records, runs the full intake flow on each, and prints a batch report. Pass a filename or pipe JSON on stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrapf(err, "open %s", args[0])
			}
			defer f.Close()
			in = f
		}

		var raws []map[string]any
		if err := json.NewDecoder(in).Decode(&raws); err != nil {
			return eris.Wrap(err, "decode input batch")
		}

		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.Pipeline.Ingest(cmd.Context(), raws)
		if err != nil {
			return err
		}

		if ingestJSONOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printReport(report)
		return nil
	},
}

func printReport(report *pipeline.Report) {
	fmt.Printf("Processed %d records: %d created, %d duplicates, %d updated, %d rejected, %d failed\n",
		report.Total, report.Created, report.Duplicates, report.Updated, report.Rejected, report.Failed)
	for _, r := range report.Results {
		switch r.Outcome {
		case pipeline.OutcomeCreated:
			fmt.Printf("  [%d] %s/%s -> lead %s score=%d bucket=%s state=%s\n",
				r.Index, r.County, r.BookingNumber, r.LeadID, r.Score, r.Bucket, r.State)
		case pipeline.OutcomeRejected:
			fmt.Printf("  [%d] rejected: %v\n", r.Index, r.Errors)
		case pipeline.OutcomeFailed:
			fmt.Printf("  [%d] %s/%s failed: %v\n", r.Index, r.County, r.BookingNumber, r.Errors)
		}
	}
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSONOut, "json", false, "emit the full report as JSON")
	rootCmd.AddCommand(ingestCmd)
}
