package contradict

import (
	"context"
	"sort"
	"strings"

	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/textutil"
	"go.uber.org/zap"
)

// llmJudgeConfidence is assigned to pairs only the Tier-2 judge flagged
const llmJudgeConfidence = 0.5

// PairJudge decides whether two passages contradict each other
type PairJudge interface {
	JudgePair(ctx context.Context, a, b model.EvidenceItem) (contradiction bool, rationale string, err error)
}

// Detector runs the pairwise rules over an evidence set
type Detector struct {
	subjectOverlapMin int
	judge             PairJudge
	logger            *zap.Logger
}

// NewDetector creates a detector. A nil judge disables Tier-2 judging.
func NewDetector(subjectOverlapMin int, judge PairJudge, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subjectOverlapMin < 1 {
		subjectOverlapMin = 1
	}
	return &Detector{subjectOverlapMin: subjectOverlapMin, judge: judge, logger: logger}
}

// Detect compares every pair of evidence items. Records have their paragraph
// ids in lexical order and are sorted by descending confidence, then by ids.
// Duplicate paragraph ids are compared once.
func (d *Detector) Detect(ctx context.Context, evidence []model.EvidenceItem) []model.ContradictionRecord {
	items := dedupe(evidence)
	records := []model.ContradictionRecord{}

	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if rec, ok := d.comparePair(ctx, items[i], items[j]); ok {
				records = append(records, rec)
			}
		}
	}

	Sort(records)
	if len(records) > 0 {
		d.logger.Debug("contradictions detected", zap.Int("count", len(records)))
	}
	return records
}

func (d *Detector) comparePair(ctx context.Context, a, b model.EvidenceItem) (model.ContradictionRecord, bool) {
	if a.ParagraphID > b.ParagraphID {
		a, b = b, a
	}
	rec := model.ContradictionRecord{ParagraphIDs: [2]string{a.ParagraphID, b.ParagraphID}}

	neg, negOK := negationRule(a.Text, b.Text, d.subjectOverlapMin)
	num, numOK := numericRule(a.Text, b.Text)

	switch {
	case negOK && numOK:
		rec.Rule = model.RuleCombined
		rec.Rationale = neg.rationale + "; " + num.rationale
		rec.Confidence = clamp(max(neg.confidence, num.confidence) + 0.1)
		return rec, true
	case negOK:
		rec.Rule = model.RuleNegationPair
		rec.Rationale = neg.rationale
		rec.Confidence = neg.confidence
		return rec, true
	case numOK:
		rec.Rule = model.RuleNumericMismatch
		rec.Rationale = num.rationale
		rec.Confidence = num.confidence
		return rec, true
	}

	if d.judge == nil {
		return rec, false
	}
	if shared := textutil.Intersect(subjectTokens(a.Text), subjectTokens(b.Text)); len(shared) < d.subjectOverlapMin {
		return rec, false
	}

	contradiction, rationale, err := d.judge.JudgePair(ctx, a, b)
	if err != nil {
		d.logger.Warn("contradiction judge failed",
			zap.String("a", a.ParagraphID), zap.String("b", b.ParagraphID), zap.Error(err))
		return rec, false
	}
	if !contradiction {
		return rec, false
	}
	rec.Rule = model.RuleLLMJudge
	rec.Rationale = "llm_judge: " + strings.TrimSpace(rationale)
	rec.Confidence = llmJudgeConfidence
	return rec, true
}

// Sort orders records by descending confidence, then lexically by paragraph ids
func Sort(records []model.ContradictionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Confidence != records[j].Confidence {
			return records[i].Confidence > records[j].Confidence
		}
		if records[i].ParagraphIDs[0] != records[j].ParagraphIDs[0] {
			return records[i].ParagraphIDs[0] < records[j].ParagraphIDs[0]
		}
		return records[i].ParagraphIDs[1] < records[j].ParagraphIDs[1]
	})
}

func dedupe(evidence []model.EvidenceItem) []model.EvidenceItem {
	seen := make(map[string]bool, len(evidence))
	out := make([]model.EvidenceItem, 0, len(evidence))
	for _, e := range evidence {
		if e.ParagraphID == "" || seen[e.ParagraphID] {
			continue
		}
		seen[e.ParagraphID] = true
		out = append(out, e)
	}
	return out
}
