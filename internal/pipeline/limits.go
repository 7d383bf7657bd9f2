package pipeline

import (
	"context"

	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/rerank"
	"github.com/ppiankov/policyrag/internal/retrieve"
	"github.com/ppiankov/policyrag/internal/worker"
)

// The wrappers below take a token from the shared limiter before every
// network call, keyed by backend, so parallel workers stay under each
// backend's rate.

type limitedRetriever struct {
	retrieve.Retriever
	limiter *worker.Limiter
}

func (r limitedRetriever) Retrieve(ctx context.Context, query string, k int) ([]model.EvidenceItem, error) {
	if err := r.limiter.Wait(ctx, r.Name()); err != nil {
		return nil, err
	}
	return r.Retriever.Retrieve(ctx, query, k)
}

type limitedScorer struct {
	rerank.Scorer
	limiter *worker.Limiter
}

func (s limitedScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if err := s.limiter.Wait(ctx, s.Name()); err != nil {
		return nil, err
	}
	return s.Scorer.Score(ctx, query, texts)
}

type limitedProvider struct {
	llm.Provider
	limiter *worker.Limiter
}

func (p limitedProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := p.limiter.Wait(ctx, p.Name()); err != nil {
		return nil, err
	}
	return p.Provider.Complete(ctx, req)
}
