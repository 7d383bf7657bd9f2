package model

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ScoreScale names the scale the gate threshold is expressed in
type ScoreScale string

const (
	// ScaleRerank is the reranker scale: [0,1], higher is better.
	ScaleRerank ScoreScale = "rerank"
	// ScaleRetrieval is the retriever scale (BM25 normalized by the per-query max).
	ScaleRetrieval ScoreScale = "retrieval"
)

// ContradictionPolicy decides what a detected contradiction does to the answer
type ContradictionPolicy string

const (
	PolicySurface       ContradictionPolicy = "surface"
	PolicyAbstainOnHigh ContradictionPolicy = "abstain_on_high"
)

// ReliabilityConfig holds every threshold and toggle that affects accept/abstain/prune
// decisions. It is passed explicitly through the pipeline so a run is reproducible
// from this value alone.
type ReliabilityConfig struct {
	AbstainThreshold     float64             `yaml:"abstain_threshold" mapstructure:"abstain_threshold" json:"abstain_threshold" validate:"gte=0"`
	ScoreScale           ScoreScale          `yaml:"score_scale" mapstructure:"score_scale" json:"score_scale" validate:"oneof=rerank retrieval"`
	MinSupportRate       float64             `yaml:"min_support_rate" mapstructure:"min_support_rate" json:"min_support_rate" validate:"gte=0,lte=1"`
	ContradictionPolicy  ContradictionPolicy `yaml:"contradiction_policy" mapstructure:"contradiction_policy" json:"contradiction_policy" validate:"oneof=surface abstain_on_high"`
	EnableRerank         bool                `yaml:"enable_rerank" mapstructure:"enable_rerank" json:"enable_rerank"`
	EnableVerify         bool                `yaml:"enable_verify" mapstructure:"enable_verify" json:"enable_verify"`
	EnableContradictions bool                `yaml:"enable_contradictions" mapstructure:"enable_contradictions" json:"enable_contradictions"`
	TopKRetrieve         int                 `yaml:"top_k_retrieve" mapstructure:"top_k_retrieve" json:"top_k_retrieve" validate:"gte=1"`
	TopKRerank           int                 `yaml:"top_k_rerank" mapstructure:"top_k_rerank" json:"top_k_rerank" validate:"gte=1,ltefield=TopKRetrieve"`

	OverlapThreshold     float64 `yaml:"overlap_threshold" mapstructure:"overlap_threshold" json:"overlap_threshold" validate:"gte=0,lte=1"`                // Jaccard cutoff for lexical support (strictly greater)
	SubjectOverlapMin    int     `yaml:"subject_overlap_min" mapstructure:"subject_overlap_min" json:"subject_overlap_min" validate:"gte=1"`                // Shared subject tokens needed before a negation pair counts
	HighConfidenceCutoff float64 `yaml:"high_confidence_cutoff" mapstructure:"high_confidence_cutoff" json:"high_confidence_cutoff" validate:"gte=0,lte=1"` // abstain_on_high fires when a record exceeds this

	EnableLLMVerify         bool `yaml:"enable_llm_verify" mapstructure:"enable_llm_verify" json:"enable_llm_verify"`
	EnableLLMContradictions bool `yaml:"enable_llm_contradictions" mapstructure:"enable_llm_contradictions" json:"enable_llm_contradictions"`
	AllowExtractiveFallback bool `yaml:"allow_extractive_fallback" mapstructure:"allow_extractive_fallback" json:"allow_extractive_fallback"`
}

// DefaultReliabilityConfig returns the thresholds tuned on the dev split
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		AbstainThreshold:     0.30,
		ScoreScale:           ScaleRerank,
		MinSupportRate:       0.80,
		ContradictionPolicy:  PolicySurface,
		EnableRerank:         true,
		EnableVerify:         true,
		EnableContradictions: true,
		TopKRetrieve:         20,
		TopKRerank:           5,
		OverlapThreshold:     0.10,
		SubjectOverlapMin:    2,
		HighConfidenceCutoff: 0.80,
	}
}

var validate = validator.New()

// Validate checks ranges and the threshold scale. The gate reads rerank scores when
// reranking is on and retrieval scores when it is off, so the declared scale must agree.
func (c ReliabilityConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid reliability config: %w", err)
	}
	if want := ScaleFor(c.EnableRerank); c.ScoreScale != want {
		return fmt.Errorf("invalid reliability config: score_scale %q does not match enable_rerank=%t (want %q)", c.ScoreScale, c.EnableRerank, want)
	}
	return nil
}

// ScaleFor returns the scale the gate sees for a rerank toggle
func ScaleFor(enableRerank bool) ScoreScale {
	if enableRerank {
		return ScaleRerank
	}
	return ScaleRetrieval
}

// Config is the complete application configuration
type Config struct {
	Reliability  ReliabilityConfig  `yaml:"reliability" mapstructure:"reliability" json:"reliability"`
	Corpus       CorpusConfig       `yaml:"corpus" mapstructure:"corpus" json:"corpus"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval" json:"retrieval"`
	Rerank       RerankConfig       `yaml:"rerank" mapstructure:"rerank" json:"rerank"`
	LLM          LLMConfig          `yaml:"llm" mapstructure:"llm" json:"llm"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache" json:"cache"`
	Concurrency  ConcurrencyConfig  `yaml:"concurrency" mapstructure:"concurrency" json:"concurrency"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting" mapstructure:"rate_limiting" json:"rate_limiting"`
	Timeouts     TimeoutConfig      `yaml:"timeouts" mapstructure:"timeouts" json:"timeouts"`
	HTTP         HTTPConfig         `yaml:"http" mapstructure:"http" json:"http"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server" json:"server"`
}

// CorpusConfig locates the paragraph store
type CorpusConfig struct {
	Paragraphs string `yaml:"paragraphs" mapstructure:"paragraphs" json:"paragraphs"` // Path to paragraphs.jsonl
}

// RetrievalConfig selects the retrieval backend
type RetrievalConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" json:"backend" validate:"oneof=bm25 http"` // bm25, http
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`                         // Search service for the http backend
	Retries int    `yaml:"retries" mapstructure:"retries" json:"retries"`
}

// RerankConfig selects the reranker scorer
type RerankConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend" json:"backend" validate:"oneof=lexical cross-encoder"` // lexical, cross-encoder
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
	Model   string `yaml:"model" mapstructure:"model" json:"model"`
	Retries int    `yaml:"retries" mapstructure:"retries" json:"retries"`
}

// LLMConfig configures answer generation and Tier-2 judges
type LLMConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider" json:"provider"` // openai, anthropic, ollama, "" (disabled)
	Model       string  `yaml:"model" mapstructure:"model" json:"model"`
	APIKey      string  `yaml:"api_key,omitempty" mapstructure:"api_key" json:"api_key,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty" mapstructure:"base_url" json:"base_url,omitempty"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout" json:"timeout"` // seconds
	Retries     int     `yaml:"retries" mapstructure:"retries" json:"retries"` // 429/5xx retries for anthropic and ollama
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`
	Seed        int     `yaml:"seed" mapstructure:"seed" json:"seed"`
}

// CacheConfig configures the Tier-2 judge cache
type CacheConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Backend   string `yaml:"backend" mapstructure:"backend" json:"backend" validate:"oneof=memory badger redis layered"` // memory, badger, redis, layered
	Dir       string `yaml:"dir" mapstructure:"dir" json:"dir"`
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr" json:"redis_addr"`
	TTLHours  int    `yaml:"ttl_hours" mapstructure:"ttl_hours" json:"ttl_hours"` // 0 means entries never expire
}

// TTL returns the cache TTL as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ConcurrencyConfig bounds batch parallelism
type ConcurrencyConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers" json:"workers" validate:"gte=1"`
}

// RateLimitingConfig bounds calls per backend
type RateLimitingConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size" json:"burst_size"`

	// Backends overrides requests_per_second per backend name or URL host
	// (e.g. ollama: 1). A value of 0 lifts the limit for that backend.
	Backends map[string]float64 `yaml:"backends,omitempty" mapstructure:"backends" json:"backends,omitempty"`
}

// TimeoutConfig holds per-stage timeouts in seconds
type TimeoutConfig struct {
	Retrieval  int `yaml:"retrieval" mapstructure:"retrieval" json:"retrieval"`
	Rerank     int `yaml:"rerank" mapstructure:"rerank" json:"rerank"`
	Generation int `yaml:"generation" mapstructure:"generation" json:"generation"`
	Judge      int `yaml:"judge" mapstructure:"judge" json:"judge"`
}

// Seconds converts a timeout field to a duration
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// HTTPConfig holds outbound proxy settings
type HTTPConfig struct {
	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy" json:"http_proxy,omitempty"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy" json:"https_proxy,omitempty"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy" json:"no_proxy,omitempty"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr" json:"addr"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Reliability: DefaultReliabilityConfig(),
		Corpus: CorpusConfig{
			Paragraphs: "data/processed/paragraphs.jsonl",
		},
		Retrieval: RetrievalConfig{
			Backend: "bm25",
			Retries: 2,
		},
		Rerank: RerankConfig{
			Backend: "lexical",
			Model:   "cross-encoder/ms-marco-MiniLM-L-6-v2",
			Retries: 1,
		},
		LLM: LLMConfig{
			Provider:    "", // Disabled by default
			Timeout:     60,
			Retries:     1,
			MaxTokens:   1024,
			Temperature: 0.0,
			Seed:        42,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Backend:  "layered",
			Dir:      ".policyrag/cache",
			TTLHours: 0,
		},
		Concurrency: ConcurrencyConfig{
			Workers: 4,
		},
		RateLimiting: RateLimitingConfig{
			RequestsPerSecond: 5,
			BurstSize:         5,
		},
		Timeouts: TimeoutConfig{
			Retrieval:  10,
			Rerank:     10,
			Generation: 60,
			Judge:      30,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Validate checks the whole configuration
func (c Config) Validate() error {
	if err := c.Reliability.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c.Retrieval); err != nil {
		return fmt.Errorf("invalid retrieval config: %w", err)
	}
	if err := validate.Struct(c.Rerank); err != nil {
		return fmt.Errorf("invalid rerank config: %w", err)
	}
	if err := validate.Struct(c.Cache); err != nil {
		return fmt.Errorf("invalid cache config: %w", err)
	}
	if err := validate.Struct(c.Concurrency); err != nil {
		return fmt.Errorf("invalid concurrency config: %w", err)
	}
	if c.Retrieval.Backend == "http" && c.Retrieval.BaseURL == "" {
		return fmt.Errorf("invalid retrieval config: base_url is required for the http backend")
	}
	if c.Rerank.Backend == "cross-encoder" && c.Rerank.BaseURL == "" {
		return fmt.Errorf("invalid rerank config: base_url is required for the cross-encoder backend")
	}
	return nil
}
