// Package pipeline runs one query through retrieval, reranking, the confidence
// gate, generation, claim verification and contradiction detection, and
// assembles the ResponseRecord.
package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/ppiankov/policyrag/internal/contradict"
	"github.com/ppiankov/policyrag/internal/gate"
	"github.com/ppiankov/policyrag/internal/generate"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/rerank"
	"github.com/ppiankov/policyrag/internal/retrieve"
	"github.com/ppiankov/policyrag/internal/verify"
	"go.uber.org/zap"
)

// ErrEmptyQuestion is returned for a query without a question
var ErrEmptyQuestion = errors.New("empty question")

// Options are the stages a Pipeline runs. Retriever, Reranker, Generator,
// Verifier and Detector are required even when a stage is disabled.
type Options struct {
	Retriever        retrieve.Retriever
	Reranker         *rerank.Reranker
	Generator        *generate.Generator
	Verifier         verify.Verifier
	Detector         *contradict.Detector
	Reliability      model.ReliabilityConfig
	RetrievalTimeout time.Duration
	ProviderName     string
	Provider         llm.Provider // optional; only used by CheckProvider
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	Closers          []func() error
}

// Pipeline orchestrates the reliability stages for one query at a time. It
// holds no per-query state, so Answer may be called concurrently.
type Pipeline struct {
	retriever        retrieve.Retriever
	reranker         *rerank.Reranker
	generator        *generate.Generator
	verifier         verify.Verifier
	detector         *contradict.Detector
	cfg              model.ReliabilityConfig
	retrievalTimeout time.Duration
	providerName     string
	provider         llm.Provider
	metrics          *metrics.Metrics
	logger           *zap.Logger
	closers          []func() error
	now              func() time.Time
}

// New validates the reliability config and creates a pipeline
func New(opts Options) (*Pipeline, error) {
	if err := opts.Reliability.Validate(); err != nil {
		return nil, err
	}
	if opts.Retriever == nil || opts.Reranker == nil || opts.Generator == nil || opts.Verifier == nil || opts.Detector == nil {
		return nil, errors.New("pipeline: every stage must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		retriever:        opts.Retriever,
		reranker:         opts.Reranker,
		generator:        opts.Generator,
		verifier:         opts.Verifier,
		detector:         opts.Detector,
		cfg:              opts.Reliability,
		retrievalTimeout: opts.RetrievalTimeout,
		providerName:     opts.ProviderName,
		provider:         opts.Provider,
		metrics:          opts.Metrics,
		logger:           logger,
		closers:          opts.Closers,
		now:              time.Now,
	}, nil
}

// Reliability returns the config every decision of this pipeline is made with
func (p *Pipeline) Reliability() model.ReliabilityConfig {
	return p.cfg
}

// CheckProvider pings the LLM provider. It returns nil when none is configured.
func (p *Pipeline) CheckProvider(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Ping(ctx)
}

// Answer runs one query. Stage failures never surface as errors: they are
// recorded in the returned record (RERANK_FALLBACK, answer ERROR). The error
// is reserved for an empty question or a context that is already done.
func (p *Pipeline) Answer(ctx context.Context, q model.Query) (*model.ResponseRecord, error) {
	if strings.TrimSpace(q.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.QueryID == "" {
		q.QueryID = uuid.NewString()
	}

	rec := &model.ResponseRecord{
		QueryID:        q.QueryID,
		Question:       q.Question,
		Category:       q.Category,
		Citations:      []string{},
		Notes:          []model.Note{},
		Evidence:       []model.EvidenceItem{},
		Contradictions: []model.ContradictionRecord{},
		CreatedAt:      p.now().UTC(),
	}
	defer func() {
		p.metrics.ObserveRecord(rec)
		p.logger.Debug("query answered",
			zap.String("query_id", rec.QueryID),
			zap.String("outcome", metrics.Outcome(rec)),
			zap.Any("notes", rec.Notes),
			zap.Float64("latency_ms", rec.LatencyMs.Total()))
	}()

	// 1. Retrieve
	start := time.Now()
	candidates, err := p.retrieve(ctx, q.Question)
	rec.LatencyMs.Retrieval = elapsedMs(start)
	if err != nil {
		p.logger.Warn("retrieval failed", zap.String("query_id", q.QueryID), zap.Error(err))
		rec.Answer = model.AnswerError
		rec.Notes = append(rec.Notes, model.ErrorNote("retrieval: "+err.Error()))
		return rec, nil
	}

	// 2. Rerank, or keep retrieval order
	start = time.Now()
	var evidence []model.EvidenceItem
	if p.cfg.EnableRerank {
		out := p.reranker.Rerank(ctx, q.Question, candidates, p.cfg.TopKRerank)
		evidence = out.Value
		if out.Status == model.StatusDegraded {
			rec.Notes = append(rec.Notes, model.NoteRerankFallback)
		}
	} else {
		evidence = rerank.RetrievalOrder(candidates, p.cfg.TopKRerank)
		rec.Notes = append(rec.Notes, model.NoteRerankDisabled)
	}
	rec.LatencyMs.Rerank = elapsedMs(start)
	rec.Evidence = evidence

	// 3. Gate before any generation cost
	decision := gate.Decide(evidence, p.cfg.AbstainThreshold)
	rec.Confidence = decision.Snapshot
	if !decision.Proceed {
		rec.Notes = append(rec.Notes, model.NoteAbstainedLowConfidence)
		rec.Answer, rec.Citations = p.contradictions(ctx, rec, evidence, model.AnswerInsufficientEvidence, nil)
		return rec, nil
	}

	// 4. Generate
	start = time.Now()
	draft := p.generator.Generate(ctx, q.Question, evidence)
	rec.LatencyMs.LLMGen = elapsedMs(start)
	if draft.IsFailed() {
		p.logger.Warn("generation failed", zap.String("query_id", q.QueryID), zap.String("reason", draft.Reason))
		rec.Answer = model.AnswerError
		rec.Notes = append(rec.Notes, model.ErrorNote(draft.Reason))
		return rec, nil
	}
	if draft.Status == model.StatusDegraded {
		p.logger.Warn("generation degraded", zap.String("query_id", q.QueryID), zap.String("reason", draft.Reason))
	}
	rec.Generator = draft.Value.Generator
	rec.Model = draft.Value.Model
	if rec.Generator == generate.GeneratorLLM {
		rec.Provider = p.providerName
	}
	answer, citations := draft.Value.Answer, draft.Value.Citations

	// 5. Verify claims
	if p.cfg.EnableVerify {
		if answer != model.AnswerInsufficientEvidence {
			start = time.Now()
			claims := verify.SplitClaims(answer)
			res := p.verifier.Verify(ctx, claims, model.EvidenceByID(evidence))
			rec.ClaimVerification = &res

			applied := verify.ApplySupportPolicy(answer, citations, res, p.cfg.MinSupportRate)
			answer, citations = applied.Answer, applied.Citations
			rec.Notes = append(rec.Notes, applied.Notes...)
			rec.LatencyMs.Verify = elapsedMs(start)
		}
	} else {
		rec.Notes = append(rec.Notes, model.NoteVerifyDisabled)
	}

	// 6. Contradictions
	rec.Answer, rec.Citations = p.contradictions(ctx, rec, evidence, answer, citations)
	return rec, nil
}

// contradictions runs detection for audit whatever the answer, including gate
// abstentions, and returns the answer and citations after the policy.
func (p *Pipeline) contradictions(ctx context.Context, rec *model.ResponseRecord, evidence []model.EvidenceItem, answer string, citations []string) (string, []string) {
	if p.cfg.EnableContradictions {
		start := time.Now()
		records := p.detector.Detect(ctx, evidence)
		rec.Contradictions = records

		applied := contradict.ApplyPolicy(answer, citations, records, p.cfg.ContradictionPolicy, p.cfg.HighConfidenceCutoff)
		answer, citations = applied.Answer, applied.Citations
		rec.Notes = append(rec.Notes, applied.Notes...)
		rec.LatencyMs.Contradictions = elapsedMs(start)
	} else {
		rec.Notes = append(rec.Notes, model.NoteContradictionsDisabled)
	}

	if answer == model.AnswerInsufficientEvidence || citations == nil {
		citations = []string{}
	}
	return answer, citations
}

func (p *Pipeline) retrieve(ctx context.Context, question string) ([]model.EvidenceItem, error) {
	if p.retrievalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.retrievalTimeout)
		defer cancel()
	}
	return p.retriever.Retrieve(ctx, question, p.cfg.TopKRetrieve)
}

// Close releases the judge cache and any other resources the pipeline owns
func (p *Pipeline) Close() error {
	var result *multierror.Error
	for _, c := range p.closers {
		if err := c(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// elapsedMs returns wall time since start in milliseconds, rounded to 0.1
func elapsedMs(start time.Time) float64 {
	return math.Round(float64(time.Since(start).Microseconds())/100) / 10
}
