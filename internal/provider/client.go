// Package provider is the outbound side of a dispatch attempt: a plain
// net/http POST to a provider's URL with a bounded per-call deadline. It
// also carries the deterministic HTTP test double tests stand in for a real
// provider endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyCapture bounds how much of a provider's response body is retained
// for audit.
const maxBodyCapture = 2048

// Result is the outcome of one outbound call. Exactly one of HTTPStatus (>0)
// or Err is meaningful: a transport-level failure (including timeout) never
// produced an HTTP status.
type Result struct {
	HTTPStatus    int
	Body          string
	TimedOut      bool
	BodyReadError bool
	Err           error
}

// Client POSTs {"phone","text"} to a provider URL, bounded by a per-call
// timeout.
type Client struct {
	httpClient *http.Client
}

// New constructs a Client. timeout is the outbound call deadline
// (DISPATCH_TIMEOUT); a tighter caller-supplied ctx deadline still wins.
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

type payload struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

// Send performs the outbound call. Provider-side failures
// (4xx/5xx/network/timeout) are reported via Result for the caller to
// classify, never as a panic or a lost outcome.
func (c *Client) Send(ctx context.Context, url, phone, text string) Result {
	body, err := json.Marshal(payload{Phone: phone, Text: text})
	if err != nil {
		return Result{Err: fmt.Errorf("provider: encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("provider: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return Result{TimedOut: true, Err: err}
		}
		return Result{Err: err}
	}
	defer resp.Body.Close()

	captured, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture))
	if readErr != nil {
		return Result{HTTPStatus: resp.StatusCode, BodyReadError: true}
	}

	return Result{HTTPStatus: resp.StatusCode, Body: string(captured)}
}

// timeoutError is satisfied by net.Error and the context deadline errors.
type timeoutError interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
