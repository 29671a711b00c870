// Package remote is the shared JSON-over-HTTP plumbing for the desk's
// collaborators: the workspace store, the email provider, the LLM and the
// trending feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"opsdesk/internal/metrics"
)

// APIError wraps non-2xx responses. Body is the provider's text, verbatim.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status=%d body=%s", e.Service, e.StatusCode, strings.TrimSpace(e.Body))
}

// Caller issues JSON requests against one base URL.
type Caller struct {
	Service    string
	BaseURL    string
	Header     http.Header
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Do sends body as JSON and decodes the response into out. op labels the
// call in metrics. endpoint may be absolute. Do never mutates c and is
// safe for concurrent use.
func (c *Caller) Do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	client := c.HTTPClient
	if client == nil {
		timeout := c.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	url := endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		url = strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		metrics.RecordRemoteCall(c.Service, op, metrics.CallStatus(err, 0), time.Since(start))
		return fmt.Errorf("%s %s: %w", c.Service, op, err)
	}
	defer resp.Body.Close()
	metrics.RecordRemoteCall(c.Service, op, metrics.CallStatus(nil, resp.StatusCode), time.Since(start))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{Service: c.Service, StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", c.Service, op, err)
		}
	}
	return nil
}

// Bearer returns a header set carrying a bearer token.
func Bearer(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
