// Package score turns a run's response records into a transparent summary.
// Every metric is a Signal that carries the formula and inputs it came from.
package score

import (
	"fmt"
	"math"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
)

// Category labels used by the evaluation queries
const (
	CategoryAnswerable    = "answerable"
	CategoryUnanswerable  = "unanswerable"
	CategoryContradiction = "contradiction"
)

// Scorer builds run summaries
type Scorer struct{}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// Summarize computes the summary of a run
func (s *Scorer) Summarize(runID string, records []model.ResponseRecord, cfg model.ReliabilityConfig, started, finished time.Time) model.RunSummary {
	sum := model.RunSummary{
		RunID:        runID,
		TotalQueries: len(records),
		NoteCounts:   make(map[model.Note]int),
		Config:       cfg,
		StartedAt:    started.UTC(),
		FinishedAt:   finished.UTC(),
	}

	for i := range records {
		r := &records[i]
		switch {
		case r.IsError():
			sum.Errors++
		case r.IsAbstained():
			sum.Abstained++
		default:
			sum.Answered++
		}
		for _, n := range r.Notes {
			sum.NoteCounts[n]++
		}
	}

	sum.Signals = []model.Signal{
		s.rate(model.SignalAnswerRate, "Answered", sum.Answered, sum.TotalQueries, "answered / total"),
		s.abstentionRate(sum.Abstained, sum.TotalQueries),
		s.errorRate(sum.Errors, sum.TotalQueries),
		s.supportRate(records),
		s.contradictions(records),
		s.rerankFallback(sum.NoteCounts[model.NoteRerankFallback], sum.TotalQueries),
		s.latency(records),
	}
	if sig, ok := s.abstentionAccuracy(records); ok {
		sum.Signals = append(sum.Signals, sig)
	}
	return sum
}

func (s *Scorer) rate(typ model.SignalType, label string, n, total int, formula string) model.Signal {
	ratio := ratio(n, total)
	return model.Signal{
		Type:        typ,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%s: %d/%d (%.0f%%)", label, n, total, ratio*100),
		Data: map[string]interface{}{
			"count":   n,
			"total":   total,
			"ratio":   ratio,
			"formula": formula,
		},
	}
}

func (s *Scorer) abstentionRate(abstained, total int) model.Signal {
	sig := s.rate(model.SignalAbstentionRate, "Abstained", abstained, total, "abstained / total")
	// A run that abstains on most queries usually has a miscalibrated gate
	if total > 0 && ratio(abstained, total) > 0.5 {
		sig.Severity = model.SeverityWarning
	}
	return sig
}

func (s *Scorer) errorRate(errors, total int) model.Signal {
	sig := s.rate(model.SignalErrorRate, "Errors", errors, total, "error / total")
	if errors > 0 {
		sig.Severity = model.SeverityWarning
	}
	if total > 0 && ratio(errors, total) >= 0.1 {
		sig.Severity = model.SeverityCritical
	}
	return sig
}

// supportRate averages support_rate over answered records that have one
func (s *Scorer) supportRate(records []model.ResponseRecord) model.Signal {
	var total float64
	samples := 0
	for i := range records {
		r := &records[i]
		if r.IsAbstained() || r.IsError() || r.ClaimVerification == nil || r.ClaimVerification.SupportRate == nil {
			continue
		}
		total += *r.ClaimVerification.SupportRate
		samples++
	}

	if samples == 0 {
		return model.Signal{
			Type:        model.SignalSupportRate,
			Severity:    model.SeverityInfo,
			Description: "No verified answers",
			Data:        map[string]interface{}{"samples": 0, "mean": nil},
		}
	}

	mean := round4(total / float64(samples))
	severity := model.SeverityInfo
	if mean < 0.8 {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalSupportRate,
		Severity:    severity,
		Description: fmt.Sprintf("Mean support rate: %.2f over %d answers", mean, samples),
		Data: map[string]interface{}{
			"samples": samples,
			"mean":    mean,
			"formula": "sum(support_rate) / answered_with_claims",
		},
	}
}

func (s *Scorer) contradictions(records []model.ResponseRecord) model.Signal {
	withAny, pairs := 0, 0
	byRule := make(map[string]int)
	for i := range records {
		if n := len(records[i].Contradictions); n > 0 {
			withAny++
			pairs += n
		}
		for _, c := range records[i].Contradictions {
			byRule[string(c.Rule)]++
		}
	}

	severity := model.SeverityInfo
	if withAny > 0 {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalContradictions,
		Severity:    severity,
		Description: fmt.Sprintf("Contradictions in %d/%d records (%d pairs)", withAny, len(records), pairs),
		Data: map[string]interface{}{
			"records": withAny,
			"pairs":   pairs,
			"by_rule": byRule,
			"ratio":   ratio(withAny, len(records)),
			"formula": "records_with_contradictions / total",
		},
	}
}

func (s *Scorer) rerankFallback(fallbacks, total int) model.Signal {
	sig := s.rate(model.SignalRerankFallback, "Rerank fallbacks", fallbacks, total, "RERANK_FALLBACK / total")
	if fallbacks > 0 {
		sig.Severity = model.SeverityWarning
	}
	return sig
}

// latency reports the mean of each stage over all records, in milliseconds
func (s *Scorer) latency(records []model.ResponseRecord) model.Signal {
	var sums model.Latency
	for i := range records {
		l := records[i].LatencyMs
		sums.Retrieval += l.Retrieval
		sums.Rerank += l.Rerank
		sums.LLMGen += l.LLMGen
		sums.Verify += l.Verify
		sums.Contradictions += l.Contradictions
	}

	n := float64(max(len(records), 1))
	means := map[string]interface{}{
		"retrieval":      round1(sums.Retrieval / n),
		"rerank":         round1(sums.Rerank / n),
		"llm_gen":        round1(sums.LLMGen / n),
		"verify":         round1(sums.Verify / n),
		"contradictions": round1(sums.Contradictions / n),
	}
	total := round1(sums.Total() / n)

	return model.Signal{
		Type:        model.SignalLatency,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("Mean latency: %.1f ms per query", total),
		Data: map[string]interface{}{
			"mean_ms":       means,
			"mean_total_ms": total,
			"samples":       len(records),
			"formula":       "sum(latency_ms[stage]) / total",
		},
	}
}

// abstentionAccuracy scores abstention against the eval labels, when present
func (s *Scorer) abstentionAccuracy(records []model.ResponseRecord) (model.Signal, bool) {
	var tp, fp, fn, labelled int
	for i := range records {
		r := &records[i]
		if r.IsError() {
			continue
		}
		var shouldAbstain bool
		switch r.Category {
		case CategoryUnanswerable:
			shouldAbstain = true
		case CategoryAnswerable:
		default:
			continue
		}
		labelled++
		switch {
		case r.IsAbstained() && shouldAbstain:
			tp++
		case r.IsAbstained():
			fp++
		case shouldAbstain:
			fn++
		}
	}
	if labelled == 0 {
		return model.Signal{}, false
	}

	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	f1 := 0.0
	if precision+recall > 0 {
		f1 = round4(2 * precision * recall / (precision + recall))
	}

	severity := model.SeverityInfo
	if f1 < 0.5 {
		severity = model.SeverityWarning
	}
	return model.Signal{
		Type:        model.SignalAbstentionAccuracy,
		Severity:    severity,
		Description: fmt.Sprintf("Abstention F1: %.2f (precision %.2f, recall %.2f)", f1, precision, recall),
		Data: map[string]interface{}{
			"labelled":        labelled,
			"true_positives":  tp,
			"false_positives": fp,
			"false_negatives": fn,
			"precision":       precision,
			"recall":          recall,
			"f1":              f1,
			"formula":         "2 * precision * recall / (precision + recall)",
		},
	}, true
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round4(float64(n) / float64(total))
}

func round4(x float64) float64 { return math.Round(x*10000) / 10000 }

func round1(x float64) float64 { return math.Round(x*10) / 10 }
