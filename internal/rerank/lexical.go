package rerank

import (
	"context"

	"github.com/ppiankov/policyrag/internal/textutil"
)

// LexicalScorer is the offline default: a deterministic blend of query-term
// coverage and Jaccard overlap over stemmed content tokens, in [0,1].
type LexicalScorer struct {
	coverageWeight float64
}

// NewLexicalScorer creates the default scorer
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{coverageWeight: 0.7}
}

// Name returns the scorer name
func (s *LexicalScorer) Name() string { return "lexical" }

// Score rates each text against the query
func (s *LexicalScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := textutil.StemmedContentTokens(query, nil)
	scores := make([]float64, len(texts))
	if len(q) == 0 {
		return scores, nil
	}

	for i, text := range texts {
		d := textutil.StemmedContentTokens(text, nil)
		coverage := float64(len(textutil.Intersect(q, d))) / float64(len(q))
		scores[i] = s.coverageWeight*coverage + (1-s.coverageWeight)*textutil.Jaccard(q, d)
	}
	return scores, nil
}
