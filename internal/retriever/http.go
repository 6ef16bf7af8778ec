package retriever

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config describes how to construct an HTTPClient for an endpoint that did
// not supply a pre-built retriever.
type Config struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
	TopK    int           `yaml:"top_k"`
}

// HTTPClient calls a retrieval service: POST {query, top_k}, returns {context}.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

type retrieveResponse struct {
	Context string `json:"context"`
}

func (c *HTTPClient) Retrieve(ctx context.Context, query string) (string, error) {
	data, err := json.Marshal(retrieveRequest{Query: query, TopK: c.cfg.TopK})
	if err != nil {
		return "", fmt.Errorf("retriever: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Address+"/retrieve", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("retriever: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("retriever: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("retriever: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("retriever: service returned status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed retrieveResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("retriever: unmarshal response: %w", err)
	}
	return parsed.Context, nil
}

var _ Retriever = (*HTTPClient)(nil)
