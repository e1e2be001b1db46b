package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes one outbound delivery attempt.
type Request struct {
	URL         string
	Method      string
	ContentType string
	EventType   string
	Signature   string // empty when the webhook has no secret
	Body        []byte
	Timeout     time.Duration
}

// Response is the observed outcome of a completed HTTP exchange.
type Response struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Client performs webhook HTTP calls over a single shared http.Client so the
// connection pool is reused across deliveries.
type Client struct {
	httpClient       *http.Client
	userAgent        string
	maxResponseBytes int
}

func NewClient(httpClient *http.Client, userAgent string, maxResponseBytes int) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:       httpClient,
		userAgent:        userAgent,
		maxResponseBytes: maxResponseBytes,
	}
}

// Send performs a single blocking HTTP call bounded by req.Timeout. Network
// errors, timeouts and non-responses are returned as an error together with
// the elapsed duration; an HTTP response of any status is not an error.
func (c *Client) Send(ctx context.Context, req Request) (*Response, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", req.ContentType)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Event-Type", req.EventType)
	if req.Signature != "" {
		httpReq.Header.Set("X-Webhook-Signature", req.Signature)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// Body is captured for diagnostics only; cap it so a misbehaving
	// subscriber cannot blow up the delivery record.
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxResponseBytes)))
	if readErr != nil {
		body = nil
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   elapsed,
	}, elapsed, nil
}

// IsSuccess classifies an HTTP status: anything in [200,300) counts as a
// successful delivery, everything else is a failure.
func IsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
