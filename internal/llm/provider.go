package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when an LLM-backed stage runs without a provider
var ErrNotConfigured = errors.New("no LLM provider configured")

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends one system+user exchange and returns the raw text reply
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Ping makes the cheapest call the backend offers and reports why it failed
	Ping(ctx context.Context) error
}

// CompletionRequest contains one prompt exchange
type CompletionRequest struct {
	// System is the instruction prompt
	System string

	// User is the user message (question plus evidence block, claim, etc.)
	User string

	// Model overrides the configured model when set
	Model string

	// MaxTokens limits the response length (0 = provider config)
	MaxTokens int

	// Temperature overrides the configured temperature when non-nil
	Temperature *float32
}

// CompletionResponse contains the model's reply
type CompletionResponse struct {
	// Text is the trimmed reply text
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// Retries on 429 and 5xx replies (HTTP providers only)
	Retries int

	// MaxTokens for response generation
	MaxTokens int

	// Temperature for sampling; 0 keeps runs reproducible
	Temperature float32

	// Seed is forwarded to providers that accept one
	Seed int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Model:     "",
		Timeout:   60,
		MaxTokens: 1024,
		Seed:      42,
	}
}

func (c Config) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 1024
}

func (c Config) temperature(req CompletionRequest) float32 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return c.Temperature
}

func (c Config) model(req CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}
