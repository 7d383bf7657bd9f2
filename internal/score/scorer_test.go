package score

import (
	"testing"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
)

func rate(v float64) *model.VerificationResult {
	return &model.VerificationResult{SupportRate: &v}
}

func testRecords() []model.ResponseRecord {
	return []model.ResponseRecord{
		{
			QueryID:           "q1",
			Category:          CategoryAnswerable,
			Answer:            "Leave is 20 days. [CITATION: p1]",
			ClaimVerification: rate(1.0),
			LatencyMs:         model.Latency{Retrieval: 10, Rerank: 4, LLMGen: 100},
		},
		{
			QueryID:           "q2",
			Category:          CategoryAnswerable,
			Answer:            "Remote work needs approval. [CITATION: p2]",
			Notes:             []model.Note{model.NoteUnsupportedClaimsRemoved, model.NoteContradictionSurfaced},
			ClaimVerification: rate(0.5),
			Contradictions: []model.ContradictionRecord{
				{ParagraphIDs: [2]string{"p2", "p7"}, Rule: model.RuleNegationPair, Confidence: 0.9},
			},
			LatencyMs: model.Latency{Retrieval: 20, Rerank: 6, LLMGen: 200, Verify: 2},
		},
		{
			QueryID:  "q3",
			Category: CategoryUnanswerable,
			Answer:   model.AnswerInsufficientEvidence,
			Notes:    []model.Note{model.NoteAbstainedLowConfidence, model.NoteRerankFallback},
		},
		{
			QueryID: "q4",
			Answer:  model.AnswerError,
			Notes:   []model.Note{model.ErrorNote("openai generation: timeout")},
		},
	}
}

func findSignal(t *testing.T, sum model.RunSummary, typ model.SignalType) model.Signal {
	t.Helper()
	for _, s := range sum.Signals {
		if s.Type == typ {
			return s
		}
	}
	t.Fatalf("signal %s not found", typ)
	return model.Signal{}
}

func TestScorer_Summarize_Counts(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sum := NewScorer().Summarize("run-1", testRecords(), model.DefaultReliabilityConfig(), started, started.Add(time.Minute))

	if sum.RunID != "run-1" {
		t.Errorf("Expected run id run-1, got %q", sum.RunID)
	}
	if sum.TotalQueries != 4 || sum.Answered != 2 || sum.Abstained != 1 || sum.Errors != 1 {
		t.Errorf("Unexpected counts: total=%d answered=%d abstained=%d errors=%d",
			sum.TotalQueries, sum.Answered, sum.Abstained, sum.Errors)
	}
	if got := sum.NoteCounts[model.NoteRerankFallback]; got != 1 {
		t.Errorf("Expected 1 RERANK_FALLBACK, got %d", got)
	}
	if got := sum.NoteCounts[model.ErrorNote("openai generation: timeout")]; got != 1 {
		t.Errorf("Expected error note to be counted, got %d", got)
	}
	if !sum.FinishedAt.After(sum.StartedAt) {
		t.Error("Expected finished_at after started_at")
	}
	if sum.Config.AbstainThreshold != 0.30 {
		t.Errorf("Expected config snapshot, got threshold %v", sum.Config.AbstainThreshold)
	}
}

func TestScorer_Summarize_Signals(t *testing.T) {
	sum := NewScorer().Summarize("run-1", testRecords(), model.DefaultReliabilityConfig(), time.Now(), time.Now())

	answer := findSignal(t, sum, model.SignalAnswerRate)
	if answer.Data["ratio"] != 0.5 {
		t.Errorf("Expected answer ratio 0.5, got %v", answer.Data["ratio"])
	}
	if answer.Data["formula"] == nil {
		t.Error("Expected formula in signal data")
	}

	support := findSignal(t, sum, model.SignalSupportRate)
	if support.Data["mean"] != 0.75 {
		t.Errorf("Expected mean support rate 0.75, got %v", support.Data["mean"])
	}
	if support.Severity != model.SeverityWarning {
		t.Errorf("Expected warning for mean below 0.8, got %s", support.Severity)
	}

	errs := findSignal(t, sum, model.SignalErrorRate)
	if errs.Severity != model.SeverityCritical {
		t.Errorf("Expected critical error rate at 25%%, got %s", errs.Severity)
	}

	contra := findSignal(t, sum, model.SignalContradictions)
	if contra.Data["records"] != 1 || contra.Data["pairs"] != 1 {
		t.Errorf("Unexpected contradiction data: %v", contra.Data)
	}

	latency := findSignal(t, sum, model.SignalLatency)
	if latency.Data["mean_total_ms"] != 85.5 {
		t.Errorf("Expected mean total 85.5ms, got %v", latency.Data["mean_total_ms"])
	}
	means := latency.Data["mean_ms"].(map[string]interface{})
	if means["retrieval"] != 7.5 {
		t.Errorf("Expected mean retrieval 7.5ms, got %v", means["retrieval"])
	}

	acc := findSignal(t, sum, model.SignalAbstentionAccuracy)
	if acc.Data["f1"] != 1.0 {
		t.Errorf("Expected perfect abstention F1, got %v", acc.Data["f1"])
	}
}

func TestScorer_Summarize_Empty(t *testing.T) {
	sum := NewScorer().Summarize("run-0", nil, model.DefaultReliabilityConfig(), time.Now(), time.Now())

	if sum.TotalQueries != 0 {
		t.Errorf("Expected 0 queries, got %d", sum.TotalQueries)
	}
	if sum.NoteCounts == nil {
		t.Error("Expected non-nil note counts")
	}

	support := findSignal(t, sum, model.SignalSupportRate)
	if support.Data["mean"] != nil {
		t.Errorf("Expected nil mean with no samples, got %v", support.Data["mean"])
	}

	for _, s := range sum.Signals {
		if s.Type == model.SignalAbstentionAccuracy {
			t.Error("Expected no abstention accuracy without labels")
		}
	}
}

func TestScorer_AbstentionAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		records []model.ResponseRecord
		wantF1  float64
	}{
		{
			name: "abstains on answerable",
			records: []model.ResponseRecord{
				{Category: CategoryAnswerable, Answer: model.AnswerInsufficientEvidence},
				{Category: CategoryUnanswerable, Answer: model.AnswerInsufficientEvidence},
			},
			wantF1: 0.6667,
		},
		{
			name: "answers unanswerable",
			records: []model.ResponseRecord{
				{Category: CategoryUnanswerable, Answer: "made up"},
			},
			wantF1: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, ok := NewScorer().abstentionAccuracy(tt.records)
			if !ok {
				t.Fatal("Expected a signal")
			}
			if sig.Data["f1"] != tt.wantF1 {
				t.Errorf("Expected f1 %v, got %v", tt.wantF1, sig.Data["f1"])
			}
		})
	}
}
