// Package rerank rescores retrieval candidates with a pairwise relevance scorer.
//
// Score scale: every Scorer returns scores in [0,1], higher is better, computed
// per (query, candidate) pair without reference to the other candidates. The
// scale is fixed across runs so gate thresholds tuned on one split transfer to
// another.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/model"
	"go.uber.org/zap"
)

// Scorer computes one relevance score per text for a query
type Scorer interface {
	Name() string
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ErrMalformedCandidate is reported when a candidate cannot be scored
var ErrMalformedCandidate = errors.New("malformed candidate")

// Reranker applies a Scorer and degrades to retrieval order on any failure
type Reranker struct {
	scorer  Scorer
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a reranker. A zero timeout means the caller's context bounds the call.
func New(scorer Scorer, timeout time.Duration, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{scorer: scorer, timeout: timeout, logger: logger}
}

// Rerank scores candidates, stable-sorts them by descending score (ties keep
// retrieval rank) and truncates to k. It never returns an error: on failure the
// outcome is Degraded and carries the candidates in retrieval order with
// ScoreRerank reset to ScoreRetrieve.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []model.EvidenceItem, k int) model.Outcome[[]model.EvidenceItem] {
	if len(candidates) == 0 {
		return model.Ok([]model.EvidenceItem{})
	}

	scores, err := r.score(ctx, query, candidates)
	if err != nil {
		r.logger.Warn("rerank failed, using retrieval order",
			zap.String("scorer", r.scorer.Name()),
			zap.Int("candidates", len(candidates)),
			zap.Error(err))
		return model.Degraded(RetrievalOrder(candidates, k), err.Error())
	}

	out := model.CloneEvidence(candidates)
	for i := range out {
		out[i].ScoreRerank = scores[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScoreRerank > out[j].ScoreRerank
	})
	return model.Ok(truncate(out, k))
}

func (r *Reranker) score(ctx context.Context, query string, candidates []model.EvidenceItem) ([]float64, error) {
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		if c.ParagraphID == "" || strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("%w at rank %d", ErrMalformedCandidate, i)
		}
		texts[i] = c.Text
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", r.scorer.Name(), err)
	}
	if len(scores) != len(texts) {
		return nil, fmt.Errorf("%s scorer returned %d scores for %d candidates", r.scorer.Name(), len(scores), len(texts))
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%s scorer returned invalid score at rank %d", r.scorer.Name(), i)
		}
	}
	return scores, nil
}

// RetrievalOrder returns the top k candidates by descending retrieval score
// (retrieval rank breaks ties) with ScoreRerank set to ScoreRetrieve. It is the
// evidence list used when reranking is disabled or has failed.
func RetrievalOrder(candidates []model.EvidenceItem, k int) []model.EvidenceItem {
	out := model.CloneEvidence(candidates)
	if out == nil {
		out = []model.EvidenceItem{}
	}
	for i := range out {
		out[i].ScoreRerank = out[i].ScoreRetrieve
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScoreRetrieve > out[j].ScoreRetrieve
	})
	return truncate(out, k)
}

func truncate(items []model.EvidenceItem, k int) []model.EvidenceItem {
	if k > 0 && len(items) > k {
		return items[:k]
	}
	return items
}

// Sigmoid maps an unbounded cross-encoder logit into (0,1)
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
