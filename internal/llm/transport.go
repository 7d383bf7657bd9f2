package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// maxErrorBody caps how much of a failed reply ends up in an error message
const maxErrorBody = 512

// jsonEndpoint is one HTTP JSON API shared by the hand-rolled providers
// (Anthropic and Ollama). go-openai brings its own transport.
type jsonEndpoint struct {
	client   *http.Client
	headers  map[string]string
	attempts uint
	delay    time.Duration

	// apiError extracts a readable message from a non-200 body; empty means
	// the body is not in the backend's error format
	apiError func(body []byte) string
}

func newJSONEndpoint(client *http.Client, retries int, headers map[string]string, apiError func([]byte) string) *jsonEndpoint {
	if retries < 0 {
		retries = 0
	}
	return &jsonEndpoint{
		client:   client,
		headers:  headers,
		attempts: uint(retries) + 1,
		delay:    500 * time.Millisecond,
		apiError: apiError,
	}
}

// post sends in as JSON and decodes a 200 reply into out. Transport errors,
// 429 and 5xx are retried; any other status or an undecodable body is final.
func (e *jsonEndpoint) post(ctx context.Context, url string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			return e.once(ctx, http.MethodPost, url, body, out)
		},
		retry.Context(ctx),
		retry.Attempts(e.attempts),
		retry.Delay(e.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// get issues a single GET and discards the body; it backs Ping
func (e *jsonEndpoint) get(ctx context.Context, url string) error {
	return retry.Do(
		func() error {
			return e.once(ctx, http.MethodGet, url, nil, nil)
		},
		retry.Context(ctx),
		retry.Attempts(1),
		retry.LastErrorOnly(true),
	)
}

func (e *jsonEndpoint) once(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := e.statusError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return statusErr
		}
		return retry.Unrecoverable(statusErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return retry.Unrecoverable(fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

func (e *jsonEndpoint) statusError(code int, body []byte) error {
	if e.apiError != nil {
		if msg := e.apiError(body); msg != "" {
			return fmt.Errorf("API error (%d): %s", code, msg)
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	if len(body) == 0 {
		return fmt.Errorf("API error (%d): %s", code, http.StatusText(code))
	}
	return fmt.Errorf("API error (%d): %s", code, string(body))
}
