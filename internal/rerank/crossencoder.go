package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// CrossEncoderScorer calls a cross-encoder inference service and maps its raw
// logits through a sigmoid.
//
//	POST {base}/rerank {"model": "...", "query": "...", "documents": ["...", ...]}
//	-> {"scores": [3.2, -1.4, ...]}
type CrossEncoderScorer struct {
	baseURL    string
	model      string
	httpClient *http.Client
	attempts   uint
	delay      time.Duration
}

// NewCrossEncoderScorer creates a scorer for the given service
func NewCrossEncoderScorer(baseURL, model string, client *http.Client, retries int) *CrossEncoderScorer {
	return &CrossEncoderScorer{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		httpClient: client,
		attempts:   uint(retries) + 1,
		delay:      100 * time.Millisecond,
	}
}

type crossEncoderRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type crossEncoderResponse struct {
	Scores []float64 `json:"scores"`
	Error  string    `json:"error,omitempty"`
}

// Name returns the scorer name
func (s *CrossEncoderScorer) Name() string { return "cross-encoder" }

// Score returns sigmoid-normalized relevance scores
func (s *CrossEncoderScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	body, err := json.Marshal(crossEncoderRequest{Model: s.model, Query: query, Documents: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp crossEncoderResponse
	err = retry.Do(
		func() error { return s.post(ctx, body, &resp) },
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(resp.Scores))
	for i, logit := range resp.Scores {
		out[i] = Sigmoid(logit)
	}
	return out, nil
}

func (s *CrossEncoderScorer) post(ctx context.Context, body []byte, out *crossEncoderResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr crossEncoderResponse
		msg := string(data)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		err := fmt.Errorf("rerank API error (%d): %s", resp.StatusCode, msg)
		if resp.StatusCode < 500 {
			return retry.Unrecoverable(err)
		}
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}
