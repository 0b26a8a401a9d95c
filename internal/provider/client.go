package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const maxBodyBytes = 8 << 20

// HTTPError reports a non-success response from a provider. RetryAfter is
// set when the server sent a Retry-After header in seconds.
type HTTPError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP error %d from %s (retry after %s)", e.StatusCode, e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP error %d from %s", e.StatusCode, e.URL)
}

// Response is a fetched body plus the validators needed for conditional
// requests.
type Response struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
}

// Client is the shared HTTP transport for provider adapters. The timeout is
// the per-provider search timeout.
type Client struct {
	http      *http.Client
	userAgent string
}

func NewClient(timeout time.Duration, userAgent string) *Client {
	return &Client{
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Get fetches rawURL and returns the body. accept may be empty.
func (c *Client) Get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	resp, err := c.Fetch(ctx, rawURL, map[string]string{"Accept": accept})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Fetch performs a GET with extra headers. Empty header values are skipped.
// A 304 comes back as a Response with NotModified set and no body.
func (c *Client) Fetch(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return &Response{NotModified: true}, nil
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &Response{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}
