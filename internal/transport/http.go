package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig configures the labeling service HTTP client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPClient talks to the labeling service over HTTP. Retries are the
// executor's job, not the client's: a failed call surfaces immediately so
// the ledger can record the outcome.
type HTTPClient struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPClient creates a client for the configured endpoint.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type submitResponse struct {
	Ref    string   `json:"ref"`
	TxHash string   `json:"tx_hash"`
	Refs   []string `json:"refs"`
}

type validateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason"`
}

// SubmitOne posts a single label and returns the service's reference.
func (c *HTTPClient) SubmitOne(ctx context.Context, label Label) (string, error) {
	var resp submitResponse
	if err := c.post(ctx, "/labels", label, &resp); err != nil {
		return "", err
	}
	return resp.Ref, nil
}

// SubmitMany posts an atomic multi-label submission.
func (c *HTTPClient) SubmitMany(ctx context.Context, labels []Label) (string, []string, error) {
	payload := struct {
		Labels []Label `json:"labels"`
	}{Labels: labels}

	var resp submitResponse
	if err := c.post(ctx, "/labels/batch", payload, &resp); err != nil {
		return "", nil, err
	}
	return resp.TxHash, resp.Refs, nil
}

// Validate asks the service to check a label without submitting it.
func (c *HTTPClient) Validate(ctx context.Context, label Label) (bool, error) {
	var resp validateResponse
	if err := c.post(ctx, "/labels/validate", label, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Close releases resources.
func (c *HTTPClient) Close() error {
	return nil
}
