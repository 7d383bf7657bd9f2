package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/pipeline"
	"github.com/ppiankov/policyrag/internal/runlog"
	"github.com/ppiankov/policyrag/internal/score"
	"github.com/ppiankov/policyrag/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const providerPingTimeout = 15 * time.Second

var (
	runQueries string
	runOut     string
	runWorkers int
	runTimeout time.Duration
)

// runCmd represents the batch run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer a queries file in parallel and write a run directory",
	Long: `Run answers every query in a JSONL file of {query_id, question, category}:
- Queries are processed concurrently by a worker pool
- Each record is appended to <out>/results.jsonl as soon as it finishes
- Re-running into the same directory resumes: finished query ids are skipped
- <out>/summary.json and <out>/run_config.json are written at the end

Example:
  policyrag run --queries data/eval/queries.jsonl --out runs/baseline
  policyrag run --queries q.jsonl --out runs/no-verify --no-verify
  policyrag run --queries q.jsonl --out runs/b3 --workers 8 --llm-provider openai`,
	Args: cobra.NoArgs,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runQueries, "queries", "", "queries JSONL file")
	runCmd.Flags().StringVar(&runOut, "out", "", "run output directory")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "number of concurrent workers (default: concurrency.workers)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "total timeout for the run (0 = none)")
	_ = runCmd.MarkFlagRequired("queries")
	_ = runCmd.MarkFlagRequired("out")
	addReliabilityFlags(runCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := configWithFlags(cmd)
	if err != nil {
		return err
	}
	if runWorkers > 0 {
		cfg.Concurrency.Workers = runWorkers
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	queries, err := worker.ReadQueriesFile(runQueries)
	if err != nil {
		return fmt.Errorf("read queries: %w", err)
	}

	resultsPath := filepath.Join(runOut, runlog.ResultsFile)
	done, skipped, err := runlog.ReadResults(resultsPath)
	if err != nil {
		return err
	}
	if skipped > 0 {
		logger.Warn("ignored unreadable result lines", zap.Int("lines", skipped))
	}
	pending := runlog.Pending(queries, done)

	runID := runlog.NewRunID()
	if len(done) > 0 && done[0].RunID != "" {
		runID = done[0].RunID
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  policyrag run %s\n", runID)
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Queries:      %s (%d)\n", runQueries, len(queries))
	fmt.Fprintf(os.Stderr, "  Already done: %d\n", len(queries)-len(pending))
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(os.Stderr, "  Output dir:   %s\n", runOut)
	fmt.Fprintf(os.Stderr, "  Ablation:     rerank=%t verify=%t contradictions=%t\n",
		cfg.Reliability.EnableRerank, cfg.Reliability.EnableVerify, cfg.Reliability.EnableContradictions)
	fmt.Fprintf(os.Stderr, "\n")

	m := metrics.New()
	p, err := pipeline.Build(cfg, m, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	pingCtx, cancelPing := context.WithTimeout(ctx, providerPingTimeout)
	err = p.CheckProvider(pingCtx)
	cancelPing()
	if err != nil {
		return fmt.Errorf("LLM provider %s is unreachable: %w", cfg.LLM.Provider, err)
	}

	writer, err := runlog.Open(runOut, runID)
	if err != nil {
		return err
	}
	if err := runlog.WriteJSON(runOut, runlog.ConfigFile, redacted(cfg)); err != nil {
		_ = writer.Close()
		return err
	}

	started := time.Now()
	processor := worker.NewBatchProcessor(p, cfg.Concurrency.Workers)
	results := processor.ProcessQueries(ctx, pending, writer.Write)
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close results: %w", err)
	}

	failures := 0
	for _, r := range results {
		if r.Error != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.Query.QueryID, r.Error)
			continue
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "✓ %s: %s\n", r.Query.QueryID, metrics.Outcome(r.Record))
		}
	}

	all, _, err := runlog.ReadResults(resultsPath)
	if err != nil {
		return err
	}
	records := make([]model.ResponseRecord, 0, len(all))
	for _, r := range runlog.Dedupe(all) {
		records = append(records, *r)
	}

	summary := score.NewScorer().Summarize(runID, records, cfg.Reliability, started, time.Now())
	if err := runlog.WriteJSON(runOut, runlog.SummaryFile, summary); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Run Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:      %d queries\n", summary.TotalQueries)
	fmt.Fprintf(os.Stderr, "  Answered:   %d\n", summary.Answered)
	fmt.Fprintf(os.Stderr, "  Abstained:  %d\n", summary.Abstained)
	fmt.Fprintf(os.Stderr, "  Errors:     %d\n", summary.Errors)
	fmt.Fprintf(os.Stderr, "  Failures:   %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:     %s\n", runOut)
	fmt.Fprintf(os.Stderr, "\n")

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted, re-run with the same --out to resume: %w", err)
	}
	return nil
}

// redacted returns cfg without credentials, for run_config.json
func redacted(cfg model.Config) model.Config {
	if cfg.LLM.APIKey != "" {
		cfg.LLM.APIKey = "***"
	}
	return cfg
}
