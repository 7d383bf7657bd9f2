package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ppiankov/policyrag/internal/gate"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/runlog"
	"github.com/spf13/cobra"
)

// calibrateCmd picks an abstain threshold from a labelled dev run
var calibrateCmd = &cobra.Command{
	Use:   "calibrate <results.jsonl>",
	Short: "Choose the abstain threshold that maximizes abstention F1",
	Long: `Calibrate sweeps thresholds 0.05..0.95 over a results file whose records
carry category labels (answerable, unanswerable) and prints the threshold
with the best abstention F1.

The dev run should use a threshold of 0 so that every record reaches the
gate with its confidence scores recorded.

Example:
  policyrag run --queries dev.jsonl --out runs/dev --threshold 0
  policyrag calibrate runs/dev/results.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	all, skipped, err := runlog.ReadResults(args[0])
	if err != nil {
		return err
	}
	if len(all) == 0 {
		return fmt.Errorf("no records in %s", args[0])
	}
	if skipped > 0 {
		fmt.Fprintf(os.Stderr, "Skipped %d unreadable lines\n", skipped)
	}

	records := make([]model.ResponseRecord, 0, len(all))
	for _, r := range runlog.Dedupe(all) {
		records = append(records, *r)
	}

	cal := gate.Calibrate(records)
	if cal.Records < 5 {
		fmt.Fprintf(os.Stderr, "Only %d labelled records, keeping the default threshold\n", cal.Records)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(cal)
}
