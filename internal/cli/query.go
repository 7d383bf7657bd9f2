package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	queryJSON     bool
	queryID       string
	queryCategory string
	queryTimeout  time.Duration
)

// queryCmd answers a single question
var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Answer one question against the corpus",
	Long: `Query runs one question through the reliability pipeline:
- Retrieve candidate paragraphs and rerank them
- Abstain when the top evidence score is below the threshold
- Generate a cited answer and verify each claim against its citations
- Detect contradictions between evidence paragraphs

Example:
  policyrag query "Who approves remote work?"
  policyrag query "How many days of annual leave?" --json
  policyrag query "Is VPN required?" --no-verify --llm-provider openai`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print the full JSON record")
	queryCmd.Flags().StringVar(&queryID, "query-id", "", "query id (default: random)")
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "evaluation label passed through to the record")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 2*time.Minute, "overall query timeout")
	addReliabilityFlags(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	cfg, err := configWithFlags(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	p, err := pipeline.Build(cfg, nil, logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() { _ = p.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	defer cancel()

	rec, err := p.Answer(ctx, model.Query{QueryID: queryID, Question: args[0], Category: queryCategory})
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	printRecord(rec)
	return nil
}

// printRecord writes a human-readable summary of a record to stdout
func printRecord(rec *model.ResponseRecord) {
	fmt.Println(rec.Answer)
	fmt.Println()

	if len(rec.Citations) > 0 {
		fmt.Println("Citations:")
		byID := model.EvidenceByID(rec.Evidence)
		for _, id := range rec.Citations {
			fmt.Printf("  [%s] %s\n", id, truncate(byID[id], 100))
		}
		fmt.Println()
	}

	fmt.Printf("Confidence: max_rerank=%.3f mean_top3=%.3f threshold=%.2f\n",
		rec.Confidence.MaxRerank, rec.Confidence.MeanTop3Rerank, rec.Confidence.AbstainThreshold)

	if v := rec.ClaimVerification; v != nil {
		if v.SupportRate != nil {
			fmt.Printf("Claims:     %d supported, %d unsupported (rate %.2f)\n", v.SupportedClaims, v.UnsupportedClaims, *v.SupportRate)
		} else {
			fmt.Println("Claims:     none")
		}
	}

	for _, c := range rec.Contradictions {
		fmt.Printf("Conflict:   %s vs %s (%s, %.2f) %s\n", c.ParagraphIDs[0], c.ParagraphIDs[1], c.Rule, c.Confidence, c.Rationale)
	}

	if len(rec.Notes) > 0 {
		notes := make([]string, len(rec.Notes))
		for i, n := range rec.Notes {
			notes[i] = string(n)
		}
		fmt.Printf("Notes:      %s\n", strings.Join(notes, ", "))
	}

	if verbose {
		fmt.Fprintf(os.Stderr, "\nLatency (ms): retrieval=%.1f rerank=%.1f llm_gen=%.1f verify=%.1f contradictions=%.1f\n",
			rec.LatencyMs.Retrieval, rec.LatencyMs.Rerank, rec.LatencyMs.LLMGen, rec.LatencyMs.Verify, rec.LatencyMs.Contradictions)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
