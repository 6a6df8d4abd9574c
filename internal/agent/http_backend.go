package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBackend forwards turns to an agent process over HTTP. The wire
// contract is a JSON POST of Request, answered with {"reply": "..."}.
type HTTPBackend struct {
	url    string
	client *http.Client
}

// NewHTTPBackend creates a backend client. timeout bounds the whole
// round trip; zero means 120s.
func NewHTTPBackend(url string, timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPBackend{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type backendResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error,omitempty"`
}

// Run posts the request and decodes the reply.
func (b *HTTPBackend) Run(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("backend call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("backend read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("backend status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var br backendResponse
	if err := json.Unmarshal(data, &br); err != nil {
		return "", fmt.Errorf("backend decode: %w", err)
	}
	if br.Error != "" {
		return "", fmt.Errorf("backend error: %s", br.Error)
	}
	return br.Reply, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
