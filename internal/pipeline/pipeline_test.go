package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/policyrag/internal/contradict"
	"github.com/ppiankov/policyrag/internal/generate"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/rerank"
	"github.com/ppiankov/policyrag/internal/verify"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticRetriever struct {
	items []model.EvidenceItem
	err   error
	calls int
}

func (r *staticRetriever) Name() string { return "static" }

func (r *staticRetriever) Retrieve(ctx context.Context, query string, k int) ([]model.EvidenceItem, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return model.CloneEvidence(r.items), nil
}

type fixedScorer struct {
	scores []float64
	err    error
}

func (s fixedScorer) Name() string { return "fixed" }

func (s fixedScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return s.scores, s.err
}

type scriptedProvider struct {
	reply string
	err   error
	calls int
}

func (p *scriptedProvider) Name() string                   { return "scripted" }
func (p *scriptedProvider) Ping(ctx context.Context) error { return nil }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.reply, Model: "test-model", TokensUsed: 10}, nil
}

func reply(t *testing.T, answer string, citations ...string) string {
	t.Helper()
	if citations == nil {
		citations = []string{}
	}
	data, err := json.Marshal(map[string]any{"answer": answer, "citations": citations})
	require.NoError(t, err)
	return string(data)
}

var policyEvidence = []model.EvidenceItem{
	{ParagraphID: "p1", DocID: "hr", Text: "Employees are entitled to 20 days of annual leave per calendar year.", ScoreRetrieve: 0.9},
	{ParagraphID: "p2", DocID: "hr", Text: "Remote work must be approved by the line manager in writing.", ScoreRetrieve: 0.8},
	{ParagraphID: "p3", DocID: "sec", Text: "Passwords must contain at least 12 characters and be rotated every 90 days.", ScoreRetrieve: 0.7},
}

const fourClaimAnswer = "Employees are entitled to 20 days of annual leave per year. [CITATION: p1] " +
	"Remote work must be approved by the line manager. [CITATION: p2] " +
	"Passwords must contain at least 12 characters. [CITATION: p3] " +
	"Employees are entitled to 30 days of annual leave. [CITATION: p1]"

type fixture struct {
	retriever *staticRetriever
	scorer    rerank.Scorer
	provider  llm.Provider
	rel       model.ReliabilityConfig
	metrics   *metrics.Metrics
}

func newFixture(items []model.EvidenceItem, scores []float64, provider llm.Provider) *fixture {
	return &fixture{
		retriever: &staticRetriever{items: items},
		scorer:    fixedScorer{scores: scores},
		provider:  provider,
		rel:       model.DefaultReliabilityConfig(),
	}
}

func (f *fixture) build(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(Options{
		Retriever:    f.retriever,
		Reranker:     rerank.New(f.scorer, 0, nil),
		Generator:    generate.New(f.provider, false, 0, nil),
		Verifier:     verify.NewHeuristicVerifier(f.rel.OverlapThreshold),
		Detector:     contradict.NewDetector(f.rel.SubjectOverlapMin, nil, nil),
		Reliability:  f.rel,
		ProviderName: "scripted",
		Metrics:      f.metrics,
	})
	require.NoError(t, err)
	return p
}

func TestAnswer_GateAbstainsBeforeGeneration(t *testing.T) {
	provider := &scriptedProvider{reply: reply(t, "never used")}
	f := newFixture(policyEvidence, []float64{0.22, 0.10, 0.05}, provider)

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q1", Question: "What is the parking policy?"})
	require.NoError(t, err)

	assert.Equal(t, model.AnswerInsufficientEvidence, rec.Answer)
	assert.Equal(t, []string{}, rec.Citations)
	assert.Equal(t, []model.Note{model.NoteAbstainedLowConfidence}, rec.Notes)
	assert.Equal(t, 0.22, rec.Confidence.MaxRerank)
	assert.Equal(t, 0.30, rec.Confidence.AbstainThreshold)
	assert.Len(t, rec.Evidence, 3)
	assert.Nil(t, rec.ClaimVerification)
	assert.Empty(t, rec.Contradictions)
	assert.Zero(t, provider.calls)
}

func TestAnswer_PrunesUnsupportedClaim(t *testing.T) {
	provider := &scriptedProvider{reply: reply(t, fourClaimAnswer, "p1", "p2", "p3")}
	f := newFixture(policyEvidence, []float64{0.9, 0.8, 0.7}, provider)
	f.rel.MinSupportRate = 0.75

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q2", Question: "What are the HR rules?", Category: "answerable"})
	require.NoError(t, err)

	assert.Equal(t, "Employees are entitled to 20 days of annual leave per year. [CITATION: p1] "+
		"Remote work must be approved by the line manager. [CITATION: p2] "+
		"Passwords must contain at least 12 characters. [CITATION: p3]", rec.Answer)
	assert.Equal(t, []string{"p1", "p2", "p3"}, rec.Citations)
	assert.Equal(t, []model.Note{model.NoteUnsupportedClaimsRemoved}, rec.Notes)
	assert.Equal(t, "answerable", rec.Category)
	assert.Equal(t, generate.GeneratorLLM, rec.Generator)
	assert.Equal(t, "scripted", rec.Provider)
	assert.Equal(t, "test-model", rec.Model)

	require.NotNil(t, rec.ClaimVerification)
	require.NotNil(t, rec.ClaimVerification.SupportRate)
	assert.Equal(t, 0.75, *rec.ClaimVerification.SupportRate)
	assert.Empty(t, rec.Contradictions)
}

func TestAnswer_LowSupportRateAbstains(t *testing.T) {
	provider := &scriptedProvider{reply: reply(t, fourClaimAnswer, "p1", "p2", "p3")}
	f := newFixture(policyEvidence, []float64{0.9, 0.8, 0.7}, provider)

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q3", Question: "What are the HR rules?"})
	require.NoError(t, err)

	assert.Equal(t, model.AnswerInsufficientEvidence, rec.Answer)
	assert.Equal(t, []string{}, rec.Citations)
	assert.Equal(t, []model.Note{model.NoteAbstainedLowSupportRate}, rec.Notes)
	assert.NotNil(t, rec.ClaimVerification)
}

func TestAnswer_RerankDisabledAndFallbackAgree(t *testing.T) {
	items := []model.EvidenceItem{
		{ParagraphID: "a", Text: "Badges are issued at reception.", ScoreRetrieve: 0.5},
		{ParagraphID: "b", Text: "Visitors sign the register.", ScoreRetrieve: 0.9},
		{ParagraphID: "c", Text: "Lost badges cost ten euros.", ScoreRetrieve: 0.7},
	}
	insufficient := reply(t, model.AnswerInsufficientEvidence)

	disabled := newFixture(items, nil, &scriptedProvider{reply: insufficient})
	disabled.rel.EnableRerank = false
	disabled.rel.ScoreScale = model.ScaleRetrieval
	recDisabled, err := disabled.build(t).Answer(context.Background(), model.Query{QueryID: "q", Question: "Where are badges issued?"})
	require.NoError(t, err)

	failing := newFixture(items, nil, &scriptedProvider{reply: insufficient})
	failing.scorer = fixedScorer{err: errors.New("model unavailable")}
	recFallback, err := failing.build(t).Answer(context.Background(), model.Query{QueryID: "q", Question: "Where are badges issued?"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, model.ParagraphIDs(recDisabled.Evidence))
	assert.Equal(t, model.ParagraphIDs(recDisabled.Evidence), model.ParagraphIDs(recFallback.Evidence))
	for _, e := range recFallback.Evidence {
		assert.Equal(t, e.ScoreRetrieve, e.ScoreRerank)
	}

	assert.True(t, recDisabled.HasNote(model.NoteRerankDisabled))
	assert.False(t, recDisabled.HasNote(model.NoteRerankFallback))
	assert.True(t, recFallback.HasNote(model.NoteRerankFallback))
	assert.False(t, recFallback.HasNote(model.NoteRerankDisabled))
	assert.Equal(t, model.AnswerInsufficientEvidence, recFallback.Answer)
	assert.Nil(t, recFallback.ClaimVerification)
}

func TestAnswer_AblationNotes(t *testing.T) {
	provider := &scriptedProvider{reply: reply(t, fourClaimAnswer, "p1", "p2", "p3")}
	f := newFixture(policyEvidence, []float64{0.9, 0.8, 0.7}, provider)
	f.rel.EnableVerify = false
	f.rel.EnableContradictions = false

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q4", Question: "What are the HR rules?"})
	require.NoError(t, err)

	assert.Equal(t, fourClaimAnswer, rec.Answer, "no verification means no pruning")
	assert.Equal(t, []model.Note{model.NoteVerifyDisabled, model.NoteContradictionsDisabled}, rec.Notes)
	assert.Nil(t, rec.ClaimVerification)
}

func TestAnswer_ContradictionPolicies(t *testing.T) {
	items := []model.EvidenceItem{
		{ParagraphID: "a", Text: "Remote work must be approved.", ScoreRetrieve: 0.9},
		{ParagraphID: "b", Text: "Remote work must not require approval.", ScoreRetrieve: 0.8},
	}
	answer := "Remote work must be approved. [CITATION: a]"

	tests := []struct {
		name       string
		policy     model.ContradictionPolicy
		wantAnswer string
		wantNotes  []model.Note
	}{
		{"surface", model.PolicySurface, answer, []model.Note{model.NoteContradictionSurfaced}},
		{"abstain on high", model.PolicyAbstainOnHigh, model.AnswerInsufficientEvidence,
			[]model.Note{model.NoteContradictionSurfaced, model.NoteAbstainedContradictionHigh}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(items, []float64{0.9, 0.8}, &scriptedProvider{reply: reply(t, answer, "a")})
			f.rel.ContradictionPolicy = tt.policy

			rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q5", Question: "Does remote work need approval?"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantAnswer, rec.Answer)
			assert.Equal(t, tt.wantNotes, rec.Notes)
			require.Len(t, rec.Contradictions, 1)
			assert.Equal(t, [2]string{"a", "b"}, rec.Contradictions[0].ParagraphIDs)
			assert.Equal(t, 0.9, rec.Contradictions[0].Confidence)
		})
	}
}

func TestAnswer_GateAbstentionStillDetectsContradictions(t *testing.T) {
	items := []model.EvidenceItem{
		{ParagraphID: "a", Text: "Remote work must be approved.", ScoreRetrieve: 0.9},
		{ParagraphID: "b", Text: "Remote work must not require approval.", ScoreRetrieve: 0.8},
	}
	question := model.Query{QueryID: "q6", Question: "Does remote work need approval?"}

	t.Run("enabled", func(t *testing.T) {
		provider := &scriptedProvider{reply: reply(t, "never used")}
		f := newFixture(items, []float64{0.22, 0.10}, provider)
		f.rel.ContradictionPolicy = model.PolicyAbstainOnHigh

		rec, err := f.build(t).Answer(context.Background(), question)
		require.NoError(t, err)

		assert.Equal(t, model.AnswerInsufficientEvidence, rec.Answer)
		assert.Equal(t, []string{}, rec.Citations)
		assert.Equal(t, []model.Note{model.NoteAbstainedLowConfidence, model.NoteContradictionSurfaced}, rec.Notes)
		require.Len(t, rec.Contradictions, 1)
		assert.Equal(t, [2]string{"a", "b"}, rec.Contradictions[0].ParagraphIDs)
		assert.Nil(t, rec.ClaimVerification)
		assert.Zero(t, provider.calls)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(items, []float64{0.22, 0.10}, &scriptedProvider{reply: reply(t, "never used")})
		f.rel.EnableContradictions = false

		rec, err := f.build(t).Answer(context.Background(), question)
		require.NoError(t, err)

		assert.Equal(t, model.AnswerInsufficientEvidence, rec.Answer)
		assert.Equal(t, []model.Note{model.NoteAbstainedLowConfidence, model.NoteContradictionsDisabled}, rec.Notes)
		assert.Empty(t, rec.Contradictions)
	})
}

func TestAnswer_GenerationFailureIsRecorded(t *testing.T) {
	f := newFixture(policyEvidence, []float64{0.9, 0.8, 0.7}, &scriptedProvider{err: errors.New("rate limited")})
	f.metrics = metrics.New()

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q6", Question: "How many leave days?"})
	require.NoError(t, err)

	assert.Equal(t, model.AnswerError, rec.Answer)
	assert.Equal(t, []string{}, rec.Citations)
	require.Len(t, rec.Notes, 1)
	assert.Contains(t, string(rec.Notes[0]), "ERROR: ")
	assert.Contains(t, string(rec.Notes[0]), "rate limited")
	assert.Equal(t, metrics.OutcomeError, metrics.Outcome(rec))

	count, err := testutil.GatherAndCount(f.metrics.Registry(), "policyrag_queries_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAnswer_RetrievalFailureIsRecorded(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.retriever.err = errors.New("index offline")

	rec, err := f.build(t).Answer(context.Background(), model.Query{QueryID: "q7", Question: "Anything?"})
	require.NoError(t, err)

	assert.Equal(t, model.AnswerError, rec.Answer)
	assert.Equal(t, []model.Note{model.ErrorNote("retrieval: index offline")}, rec.Notes)
	assert.Empty(t, rec.Evidence)
}

func TestAnswer_RejectsEmptyQuestionAndCancelledContext(t *testing.T) {
	f := newFixture(policyEvidence, []float64{0.9, 0.8, 0.7}, nil)
	p := f.build(t)

	_, err := p.Answer(context.Background(), model.Query{QueryID: "q", Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Answer(ctx, model.Query{QueryID: "q", Question: "Leave?"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.retriever.calls)
}

func TestAnswer_AssignsQueryID(t *testing.T) {
	f := newFixture(policyEvidence, []float64{0.1, 0.1, 0.1}, nil)

	rec, err := f.build(t).Answer(context.Background(), model.Query{Question: "Leave?"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.QueryID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(nil, nil, nil)
	f.rel.EnableRerank = false // score_scale still says rerank

	_, err := New(Options{Reliability: f.rel})
	assert.Error(t, err)

	_, err = New(Options{Reliability: model.DefaultReliabilityConfig()})
	assert.Error(t, err, "stages are required")
}

func TestClose_AggregatesErrors(t *testing.T) {
	f := newFixture(nil, nil, nil)
	p := f.build(t)
	p.closers = []func() error{
		func() error { return errors.New("badger: close failed") },
		func() error { return nil },
		func() error { return errors.New("redis: close failed") },
	}

	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badger")
	assert.Contains(t, err.Error(), "redis")

	p.closers = nil
	assert.NoError(t, p.Close())
}

type unreachableProvider struct{ *scriptedProvider }

func (unreachableProvider) Ping(ctx context.Context) error {
	return errors.New("dial tcp 127.0.0.1:11434: connection refused")
}

func TestCheckProvider(t *testing.T) {
	f := newFixture(nil, nil, nil)
	p := f.build(t)
	assert.NoError(t, p.CheckProvider(context.Background()), "no provider configured")

	p.provider = &scriptedProvider{}
	assert.NoError(t, p.CheckProvider(context.Background()))

	p.provider = unreachableProvider{&scriptedProvider{}}
	err := p.CheckProvider(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBuild_OfflineExtractive(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "paragraphs.jsonl")
	corpus := `{"paragraph_id":"hr::p1","doc_id":"hr","page":3,"text":"Remote work must be approved by the line manager."}
{"paragraph_id":"hr::p2","doc_id":"hr","text":"The canteen opens at noon."}
`
	require.NoError(t, os.WriteFile(path, []byte(corpus), 0o644))

	cfg := model.DefaultConfig()
	cfg.Corpus.Paragraphs = path
	cfg.Reliability.AllowExtractiveFallback = true

	p, err := Build(cfg, nil, nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	rec, err := p.Answer(context.Background(), model.Query{QueryID: "q1", Question: "Who approves remote work requests?"})
	require.NoError(t, err)

	assert.Equal(t, generate.GeneratorExtractive, rec.Generator)
	assert.Empty(t, rec.Provider)
	assert.Equal(t, []string{"hr::p1"}, rec.Citations)
	assert.Contains(t, rec.Answer, "[CITATION: hr::p1]")
	assert.Equal(t, []string{"hr::p1"}, model.ParagraphIDs(rec.Evidence))
	assert.Empty(t, rec.Notes)
}

func TestBuild_InvalidConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Retrieval.Backend = "http"

	_, err := Build(cfg, nil, nil)
	assert.Error(t, err)
}
