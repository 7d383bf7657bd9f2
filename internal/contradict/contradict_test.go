package contradict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/policyrag/internal/cache"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(id, text string) model.EvidenceItem {
	return model.EvidenceItem{ParagraphID: id, Text: text}
}

func TestDetect_RemoteWorkNegation(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("hr::p0002", "remote work must not require approval"),
		ev("hr::p0001", "remote work must be approved"),
	})

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, [2]string{"hr::p0001", "hr::p0002"}, r.ParagraphIDs)
	assert.Equal(t, model.RuleNegationPair, r.Rule)
	assert.Contains(t, r.Rationale, "'must' vs 'must not'")
	assert.Contains(t, r.Rationale, "approv")
	assert.InDelta(t, 0.9, r.Confidence, 1e-9)
}

func TestDetect_NegationNeedsSharedSubject(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "Remote work must be approved."),
		ev("b", "Expense claims must not exceed the budget."),
	})
	assert.Empty(t, records)
	assert.NotNil(t, records)
}

func TestDetect_NegatedPhraseIsNotPositive(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "A badge is not required for visitors in the lobby."),
		ev("b", "A badge is optional for visitors in the lobby."),
	})
	assert.Empty(t, records, "'not required' and 'optional' agree")
}

func TestDetect_NumericMismatch(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("leave::2023", "Employees receive a minimum of 20 days annual leave."),
		ev("leave::2024", "Employees receive a minimum of 25 days annual leave."),
	})

	require.Len(t, records, 1)
	assert.Equal(t, model.RuleNumericMismatch, records[0].Rule)
	assert.InDelta(t, 0.85, records[0].Confidence, 1e-9)
	assert.Contains(t, records[0].Rationale, "minimum 20 days")
	assert.Contains(t, records[0].Rationale, "minimum 25 days")
}

func TestDetect_SameNumbersDoNotConflict(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "Employees receive 20 days annual leave."),
		ev("b", "All staff receive 20 days annual leave and 5 days sick leave."),
	})
	assert.Empty(t, records)
}

func TestDetect_CombinedRules(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("sec::a", "Contractors must use a VPN and passwords of at least 12 characters."),
		ev("sec::b", "Contractors must not use a VPN; passwords of at least 8 characters suffice."),
	})

	require.Len(t, records, 1)
	assert.Equal(t, model.RuleCombined, records[0].Rule)
	assert.Equal(t, 1.0, records[0].Confidence)
	assert.Contains(t, records[0].Rationale, "negation_pair")
	assert.Contains(t, records[0].Rationale, "numeric_mismatch")
}

func TestDetect_DuplicateIDsComparedOnce(t *testing.T) {
	d := NewDetector(2, nil, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "remote work must be approved"),
		ev("a", "remote work must be approved"),
		ev("b", "remote work must not require approval"),
	})
	assert.Len(t, records, 1)
}

func TestSort_Deterministic(t *testing.T) {
	records := []model.ContradictionRecord{
		{ParagraphIDs: [2]string{"b", "c"}, Confidence: 0.7},
		{ParagraphIDs: [2]string{"a", "d"}, Confidence: 0.7},
		{ParagraphIDs: [2]string{"a", "c"}, Confidence: 0.7},
		{ParagraphIDs: [2]string{"x", "y"}, Confidence: 0.95},
	}
	Sort(records)

	var got [][2]string
	for _, r := range records {
		got = append(got, r.ParagraphIDs)
	}
	assert.Equal(t, [][2]string{{"x", "y"}, {"a", "c"}, {"a", "d"}, {"b", "c"}}, got)
}

type stubJudge struct {
	verdict bool
	err     error
	calls   int
}

func (s *stubJudge) JudgePair(ctx context.Context, a, b model.EvidenceItem) (bool, string, error) {
	s.calls++
	return s.verdict, "scope conflict", s.err
}

func TestDetect_JudgeOnlyForMissedOverlappingPairs(t *testing.T) {
	judge := &stubJudge{verdict: true}
	d := NewDetector(2, judge, nil)

	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "Remote work requires written approval from a manager."),
		ev("b", "Remote work approval is granted by HR only."),
		ev("c", "The canteen serves lunch daily."),
	})

	require.Len(t, records, 1)
	assert.Equal(t, model.RuleLLMJudge, records[0].Rule)
	assert.Equal(t, llmJudgeConfidence, records[0].Confidence)
	assert.Equal(t, "llm_judge: scope conflict", records[0].Rationale)
	assert.Equal(t, 1, judge.calls, "pairs without shared subject are not judged")
}

func TestDetect_JudgeErrorIsIgnored(t *testing.T) {
	d := NewDetector(2, &stubJudge{err: errors.New("timeout")}, nil)
	records := d.Detect(context.Background(), []model.EvidenceItem{
		ev("a", "Remote work requires written approval from a manager."),
		ev("b", "Remote work approval is granted by HR only."),
	})
	assert.Empty(t, records)
}

type fakeProvider struct {
	reply string
	calls int
}

func (f *fakeProvider) Name() string                   { return "fake" }
func (f *fakeProvider) Ping(ctx context.Context) error { return nil }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.calls++
	return &llm.CompletionResponse{Text: f.reply}, nil
}

func TestLLMJudge_CachesVerdict(t *testing.T) {
	p := &fakeProvider{reply: `{"contradiction": true, "rationale": "HR vs manager"}`}
	loader := cache.NewLoader(cache.NewMemoryCache(time.Hour, time.Minute), 0, nil)
	j := NewLLMJudge(p, loader, time.Second)

	a, b := ev("a", "text a"), ev("b", "text b")
	for i := 0; i < 2; i++ {
		ok, rationale, err := j.JudgePair(context.Background(), a, b)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "HR vs manager", rationale)
	}
	assert.Equal(t, 1, p.calls)
}

func TestLLMJudge_Errors(t *testing.T) {
	_, _, err := NewLLMJudge(nil, nil, 0).JudgePair(context.Background(), ev("a", "x"), ev("b", "y"))
	assert.ErrorIs(t, err, llm.ErrNotConfigured)

	p := &fakeProvider{reply: "they seem fine"}
	_, _, err = NewLLMJudge(p, nil, 0).JudgePair(context.Background(), ev("a", "x"), ev("b", "y"))
	assert.Error(t, err)
}

func TestApplyPolicy(t *testing.T) {
	high := []model.ContradictionRecord{{ParagraphIDs: [2]string{"a", "b"}, Confidence: 0.9}}
	low := []model.ContradictionRecord{{ParagraphIDs: [2]string{"a", "b"}, Confidence: 0.6}}

	t.Run("surface keeps answer", func(t *testing.T) {
		out := ApplyPolicy("Yes [CITATION: a]", []string{"a"}, high, model.PolicySurface, 0.8)
		assert.Equal(t, "Yes [CITATION: a]", out.Answer)
		assert.Equal(t, []string{"a"}, out.Citations)
		assert.Equal(t, []model.Note{model.NoteContradictionSurfaced}, out.Notes)
		assert.False(t, out.Abstained)
	})

	t.Run("abstain on high", func(t *testing.T) {
		out := ApplyPolicy("Yes [CITATION: a]", []string{"a"}, high, model.PolicyAbstainOnHigh, 0.8)
		assert.True(t, out.Abstained)
		assert.Equal(t, model.AnswerInsufficientEvidence, out.Answer)
		assert.Empty(t, out.Citations)
		assert.Contains(t, out.Notes, model.NoteAbstainedContradictionHigh)
	})

	t.Run("abstain on high below cutoff surfaces", func(t *testing.T) {
		out := ApplyPolicy("Yes", nil, low, model.PolicyAbstainOnHigh, 0.8)
		assert.False(t, out.Abstained)
		assert.Equal(t, []model.Note{model.NoteContradictionSurfaced}, out.Notes)
	})

	t.Run("cutoff is strict", func(t *testing.T) {
		atCutoff := []model.ContradictionRecord{{Confidence: 0.8}}
		assert.False(t, ApplyPolicy("Yes", nil, atCutoff, model.PolicyAbstainOnHigh, 0.8).Abstained)
	})

	t.Run("no records", func(t *testing.T) {
		out := ApplyPolicy("Yes", nil, nil, model.PolicyAbstainOnHigh, 0.8)
		assert.Empty(t, out.Notes)
	})

	t.Run("already abstained", func(t *testing.T) {
		out := ApplyPolicy(model.AnswerInsufficientEvidence, nil, high, model.PolicyAbstainOnHigh, 0.8)
		assert.Equal(t, model.AnswerInsufficientEvidence, out.Answer)
		assert.Equal(t, []model.Note{model.NoteContradictionSurfaced}, out.Notes)
		assert.False(t, out.Abstained)
	})

	t.Run("error answer keeps records visible", func(t *testing.T) {
		out := ApplyPolicy(model.AnswerError, nil, low, model.PolicySurface, 0.8)
		assert.Equal(t, model.AnswerError, out.Answer)
		assert.Equal(t, []model.Note{model.NoteContradictionSurfaced}, out.Notes)
	})
}
