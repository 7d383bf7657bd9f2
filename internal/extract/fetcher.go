package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Fetcher downloads HTML policy pages for ingestion
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	attempts   uint
	delay      time.Duration
}

// NewFetcher wraps client with a redirect cap. Transient failures (network
// errors, 5xx, 429) are retried; other statuses fail at once.
func NewFetcher(client *http.Client, userAgent string, maxBytes int64, retries int) *Fetcher {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	return &Fetcher{
		httpClient: &c,
		userAgent:  userAgent,
		maxBytes:   maxBytes,
		attempts:   uint(retries) + 1,
		delay:      500 * time.Millisecond,
	}
}

// FetchResult contains the fetched page
type FetchResult struct {
	HTML     string
	FinalURL string
	DocID    string
}

// Fetch retrieves a page, retrying transient failures
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	var result *FetchResult
	err := retry.Do(
		func() error {
			r, err := f.fetchOnce(ctx, rawURL)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, retry.Unrecoverable(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	finalURL := resp.Request.URL.String()
	return &FetchResult{
		HTML:     string(body),
		FinalURL: finalURL,
		DocID:    DocIDFromURL(finalURL),
	}, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// DocIDFromURL derives a document id from the last path segment of a URL,
// or its host when the path is empty
func DocIDFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return slug(rawURL)
	}

	path := strings.Trim(parsed.Path, "/")
	if path == "" {
		return slug(parsed.Host)
	}

	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	if idx := strings.LastIndex(last, "."); idx > 0 {
		last = last[:idx]
	}
	return slug(last)
}

func slug(s string) string {
	return strings.Trim(slugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
