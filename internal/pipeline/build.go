package pipeline

import (
	"fmt"
	"net/http"

	"github.com/ppiankov/policyrag/internal/cache"
	"github.com/ppiankov/policyrag/internal/contradict"
	"github.com/ppiankov/policyrag/internal/corpus"
	"github.com/ppiankov/policyrag/internal/generate"
	"github.com/ppiankov/policyrag/internal/llm"
	"github.com/ppiankov/policyrag/internal/metrics"
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/ppiankov/policyrag/internal/rerank"
	"github.com/ppiankov/policyrag/internal/retrieve"
	"github.com/ppiankov/policyrag/internal/util"
	"github.com/ppiankov/policyrag/internal/verify"
	"github.com/ppiankov/policyrag/internal/worker"
	"go.uber.org/zap"
)

// Build wires every stage from the application config
func Build(cfg model.Config, m *metrics.Metrics, logger *zap.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize)
	for backend, rps := range cfg.RateLimiting.Backends {
		if err := limiter.SetRate(backend, rps, 0); err != nil {
			return nil, err
		}
	}
	client := func(timeoutSeconds int) *http.Client {
		return util.NewHTTPClient(model.Seconds(timeoutSeconds), cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy)
	}

	retriever, err := buildRetriever(cfg, client(cfg.Timeouts.Retrieval), limiter, logger)
	if err != nil {
		return nil, err
	}

	var scorer rerank.Scorer = rerank.NewLexicalScorer()
	if cfg.Rerank.Backend == "cross-encoder" {
		scorer = limitedScorer{
			Scorer:  rerank.NewCrossEncoderScorer(cfg.Rerank.BaseURL, cfg.Rerank.Model, client(cfg.Timeouts.Rerank), cfg.Rerank.Retries),
			limiter: limiter,
		}
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	providerName := ""
	if provider != nil {
		providerName = provider.Name()
		provider = limitedProvider{Provider: provider, limiter: limiter}
	}

	rel := cfg.Reliability
	judgeTimeout := model.Seconds(cfg.Timeouts.Judge)
	heuristic := verify.NewHeuristicVerifier(rel.OverlapThreshold)

	var (
		verifier verify.Verifier = heuristic
		judge    contradict.PairJudge
		closers  []func() error
	)
	if provider != nil && (rel.EnableLLMVerify || rel.EnableLLMContradictions) {
		store, err := cache.New(cfg.Cache, logger)
		if err != nil {
			return nil, fmt.Errorf("judge cache: %w", err)
		}
		if store != nil {
			closers = append(closers, func() error { return cache.Close(store) })
		}
		loader := cache.NewLoader(store, cfg.Cache.TTL(), logger).
			WithObserver(m.ObserveCache).
			WithScope(provider.Name() + "/" + cfg.LLM.Model)

		if rel.EnableLLMVerify {
			verifier = verify.NewLLMVerifier(provider, loader, heuristic, judgeTimeout, logger)
		}
		if rel.EnableLLMContradictions {
			judge = contradict.NewLLMJudge(provider, loader, judgeTimeout)
		}
	} else if rel.EnableLLMVerify || rel.EnableLLMContradictions {
		logger.Warn("LLM judges requested but no provider is configured; using Tier-1 heuristics only")
	}

	return New(Options{
		Retriever:        retriever,
		Reranker:         rerank.New(scorer, model.Seconds(cfg.Timeouts.Rerank), logger),
		Generator:        generate.New(provider, rel.AllowExtractiveFallback, model.Seconds(cfg.Timeouts.Generation), logger),
		Verifier:         verifier,
		Detector:         contradict.NewDetector(rel.SubjectOverlapMin, judge, logger),
		Reliability:      rel,
		RetrievalTimeout: model.Seconds(cfg.Timeouts.Retrieval),
		ProviderName:     providerName,
		Provider:         provider,
		Metrics:          m,
		Logger:           logger,
		Closers:          closers,
	})
}

func buildRetriever(cfg model.Config, client *http.Client, limiter *worker.Limiter, logger *zap.Logger) (retrieve.Retriever, error) {
	switch cfg.Retrieval.Backend {
	case "http":
		return limitedRetriever{
			Retriever: retrieve.NewHTTPRetriever(cfg.Retrieval.BaseURL, client, cfg.Retrieval.Retries, logger),
			limiter:   limiter,
		}, nil
	default:
		store, err := corpus.LoadFile(cfg.Corpus.Paragraphs)
		if err != nil {
			return nil, fmt.Errorf("load corpus: %w", err)
		}
		logger.Info("corpus loaded", zap.String("path", cfg.Corpus.Paragraphs), zap.Int("paragraphs", store.Len()))
		return retrieve.NewBM25(store), nil
	}
}
