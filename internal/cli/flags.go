package cli

import (
	"github.com/ppiankov/policyrag/internal/model"
	"github.com/spf13/cobra"
)

// Reliability overrides shared by query, run and serve. Only flags that were
// set on the command line override the loaded config.
var (
	flagThreshold          float64
	flagMinSupportRate     float64
	flagPolicy             string
	flagNoRerank           bool
	flagNoVerify           bool
	flagNoContradictions   bool
	flagLLMVerify          bool
	flagLLMContradictions  bool
	flagExtractiveFallback bool
	flagLLMProvider        string
	flagLLMModel           string
	flagCorpus             string
)

func addReliabilityFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagCorpus, "corpus", "", "paragraphs JSONL file (overrides corpus.paragraphs)")
	f.Float64Var(&flagThreshold, "threshold", 0, "abstain threshold on the gate score scale")
	f.Float64Var(&flagMinSupportRate, "min-support-rate", 0, "minimum fraction of supported claims")
	f.StringVar(&flagPolicy, "contradiction-policy", "", "surface or abstain_on_high")
	f.BoolVar(&flagNoRerank, "no-rerank", false, "disable reranking (gate reads retrieval scores)")
	f.BoolVar(&flagNoVerify, "no-verify", false, "disable claim verification")
	f.BoolVar(&flagNoContradictions, "no-contradictions", false, "disable contradiction detection")
	f.BoolVar(&flagLLMVerify, "llm-verify", false, "enable the Tier-2 LLM claim judge")
	f.BoolVar(&flagLLMContradictions, "llm-contradictions", false, "enable the Tier-2 LLM contradiction judge")
	f.BoolVar(&flagExtractiveFallback, "extractive", false, "answer extractively when no LLM is configured")
	f.StringVar(&flagLLMProvider, "llm-provider", "", "LLM provider (openai, anthropic, ollama)")
	f.StringVar(&flagLLMModel, "llm-model", "", "LLM model name")
}

// configWithFlags loads the config and applies the changed flags
func configWithFlags(cmd *cobra.Command) (model.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}

	f := cmd.Flags()
	rel := &cfg.Reliability
	if f.Changed("corpus") {
		cfg.Corpus.Paragraphs = flagCorpus
	}
	if f.Changed("threshold") {
		rel.AbstainThreshold = flagThreshold
	}
	if f.Changed("min-support-rate") {
		rel.MinSupportRate = flagMinSupportRate
	}
	if f.Changed("contradiction-policy") {
		rel.ContradictionPolicy = model.ContradictionPolicy(flagPolicy)
	}
	if f.Changed("no-rerank") {
		rel.EnableRerank = !flagNoRerank
		rel.ScoreScale = model.ScaleFor(rel.EnableRerank)
	}
	if f.Changed("no-verify") {
		rel.EnableVerify = !flagNoVerify
	}
	if f.Changed("no-contradictions") {
		rel.EnableContradictions = !flagNoContradictions
	}
	if f.Changed("llm-verify") {
		rel.EnableLLMVerify = flagLLMVerify
	}
	if f.Changed("llm-contradictions") {
		rel.EnableLLMContradictions = flagLLMContradictions
	}
	if f.Changed("extractive") {
		rel.AllowExtractiveFallback = flagExtractiveFallback
	}
	if f.Changed("llm-model") {
		cfg.LLM.Model = flagLLMModel
	}
	if f.Changed("llm-provider") && flagLLMProvider != cfg.LLM.Provider {
		cfg.LLM.Provider = flagLLMProvider
		cfg.LLM.APIKey = ""
		resolveAPIKey(&cfg)
	}
	return cfg, nil
}
