package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport sends one request envelope and returns the decoded response.
// Implementations never retry; retry is re-entry through the durable
// repository.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport posts envelopes as JSON to the collector endpoint.
type HTTPTransport struct {
	endpoint string
	client   HTTPClient
	logger   *slog.Logger
}

func NewHTTPTransport(endpoint string, client HTTPClient, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPTransport{endpoint: endpoint, client: client, logger: logger}
}

func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.ID, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", req.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Beacon-Request-ID", req.ID)
	httpReq.Header.Set("X-Beacon-App-Key", req.AppKey)

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request %s: %w", req.ID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusServiceUnavailable {
		// Service intentionally paused; still a failure for the caller.
		t.logger.Warn("tracking service paused", "request_id", req.ID)
		return nil, fmt.Errorf("request %s: service unavailable", req.ID)
	}
	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("request %s failed with status %d", req.ID, httpResp.StatusCode)
	}

	var resp Response
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w", req.ID, err)
	}
	resp.Status = httpResp.StatusCode
	return &resp, nil
}
