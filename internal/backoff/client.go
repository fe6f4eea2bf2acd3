package backoff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// ErrRetriesExhausted is matched by errors.Is on an *ExhaustedError
var ErrRetriesExhausted = errors.New("rate limit retries exhausted")

// StatusError is returned for any non-2xx response that is not retried
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %s %s failed: %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// ExhaustedError is returned when a request is still rate limited after
// the retry budget is spent
type ExhaustedError struct {
	Attempts int
	Status   *StatusError
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Status)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Status}
}

// Client performs JSON requests over a (usually backoff-aware) http.Client
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// NewClient creates a JSON client. A nil httpClient uses a plain Transport
// with the default policy.
func NewClient(httpClient *http.Client, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: &Transport{}}
	}
	return &Client{HTTP: httpClient, UserAgent: userAgent}
}

// DoJSON sends in (when non-nil) as the JSON body and decodes a 2xx response
// into out (when non-nil). An empty 2xx body leaves out untouched.
func (c *Client) DoJSON(ctx context.Context, method, rawURL string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Method:     method,
			URL:        rawURL,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("JSON parse error: %w\nBody: %s", err, respBody)
	}
	return nil
}

// NewBearerClient returns an http.Client that authenticates with token over
// rt. An empty token yields an unauthenticated client.
func NewBearerClient(token string, rt http.RoundTripper) *http.Client {
	if rt == nil {
		rt = &Transport{}
	}
	if token == "" {
		return &http.Client{Transport: rt}
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   rt,
		},
	}
}
