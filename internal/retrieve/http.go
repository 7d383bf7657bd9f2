package retrieve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ppiankov/policyrag/internal/model"
	"go.uber.org/zap"
)

// HTTPRetriever queries an external search service (vector index or hybrid backend).
//
//	POST {base}/search {"query": "...", "k": 20}
//	-> {"results": [{"paragraph_id", "doc_id", "page", "text", "score"}]}
type HTTPRetriever struct {
	baseURL    string
	httpClient *http.Client
	attempts   uint
	delay      time.Duration
	logger     *zap.Logger
}

// NewHTTPRetriever creates a retriever for the given service
func NewHTTPRetriever(baseURL string, client *http.Client, retries int, logger *zap.Logger) *HTTPRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRetriever{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: client,
		attempts:   uint(retries) + 1,
		delay:      200 * time.Millisecond,
		logger:     logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchHit struct {
	ParagraphID string  `json:"paragraph_id"`
	ID          string  `json:"id"`
	DocID       string  `json:"doc_id"`
	Page        int     `json:"page"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

// Name returns the backend name
func (r *HTTPRetriever) Name() string { return "http" }

// Retrieve calls the search service, retrying transport errors and 5xx responses
func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, k int) ([]model.EvidenceItem, error) {
	body, err := json.Marshal(searchRequest{Query: query, K: k})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var resp searchResponse
	err = retry.Do(
		func() error {
			return r.post(ctx, body, &resp)
		},
		retry.Context(ctx),
		retry.Attempts(r.attempts),
		retry.Delay(r.delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Warn("retrieval request failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.baseURL, err)
	}

	out := make([]model.EvidenceItem, 0, len(resp.Results))
	for _, h := range resp.Results {
		id := h.ParagraphID
		if id == "" {
			id = h.ID
		}
		if id == "" {
			continue
		}
		out = append(out, model.EvidenceItem{
			ParagraphID:   id,
			DocID:         h.DocID,
			Page:          h.Page,
			Text:          h.Text,
			ScoreRetrieve: h.Score,
			ScoreRerank:   h.Score,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScoreRetrieve > out[j].ScoreRetrieve
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (r *HTTPRetriever) post(ctx context.Context, body []byte, out *searchResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("search error (%d): %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode != http.StatusOK {
		return retry.Unrecoverable(fmt.Errorf("search error (%d): %s", resp.StatusCode, string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}
