package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/policyrag/internal/util"
)

const ollamaBaseURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server through /api/chat
type OllamaProvider struct {
	baseURL  string
	endpoint *jsonEndpoint
	config   Config
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(config Config) (*OllamaProvider, error) {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}

	// Local models load slowly on the first call
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	client := util.NewHTTPClient(timeout, config.HTTPProxy, config.HTTPSProxy, config.NoProxy)
	return &OllamaProvider{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		endpoint: newJSONEndpoint(client, config.Retries, nil, ollamaErrorMessage),
		config:   config,
	}, nil
}

func ollamaErrorMessage(body []byte) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return ""
	}
	return apiErr.Error
}

// Name returns the provider name
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// Ping lists the installed models
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.endpoint.get(ctx, p.baseURL+"/api/tags"); err != nil {
		return fmt.Errorf("ollama at %s: %w", p.baseURL, err)
	}
	return nil
}

// Complete runs one non-streaming chat exchange
func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.config.model(req, "")
	if model == "" {
		return nil, fmt.Errorf("ollama model must be specified (e.g., llama3.1:8b, mistral)")
	}

	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.User})

	apiReq := ollamaRequest{
		Model:    model,
		Messages: messages,
		Options: ollamaOptions{
			Temperature: float64(p.config.temperature(req)),
			NumPredict:  p.config.maxTokens(req),
			Seed:        p.config.Seed,
		},
	}

	var resp ollamaResponse
	if err := p.endpoint.post(ctx, p.baseURL+"/api/chat", apiReq, &resp); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return nil, fmt.Errorf("ollama: empty reply from %s", resp.Model)
	}

	// Some models report no counts; estimate at four characters per token
	tokensUsed := resp.PromptEvalCount + resp.EvalCount
	if tokensUsed == 0 {
		tokensUsed = (len(req.System) + len(req.User) + len(text)) / 4
	}

	return &CompletionResponse{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: tokensUsed,
	}, nil
}
