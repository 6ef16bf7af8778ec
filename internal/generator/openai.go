package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/types"
)

// ErrCircuitOpen is returned when the provider circuit breaker is open.
var ErrCircuitOpen = errors.New("generator: provider circuit open")

// ClientConfig configures the OpenAI-compatible HTTP client.
type ClientConfig struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Model   string            `yaml:"model"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`

	// MediaContentType tags media responses from the images endpoint.
	MediaContentType string `yaml:"media_content_type"`

	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitProbeInterval    time.Duration `yaml:"circuit_probe_interval"`
}

// Client talks to an OpenAI-compatible API: chat completions for text and
// structured output, image generations for media. A circuit breaker guards
// the provider.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *CircuitBreaker
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	failures := cfg.CircuitFailureThreshold
	if failures <= 0 {
		failures = 5
	}
	probe := cfg.CircuitProbeInterval
	if probe <= 0 {
		probe = 15 * time.Second
	}
	if cfg.MediaContentType == "" {
		cfg.MediaContentType = "image/png"
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		breaker: NewCircuitBreaker(failures, probe),
	}
}

// Breaker exposes the circuit breaker for health inspection.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	var result *Result
	var err error
	if req.Kind == types.KindMedia {
		result, err = c.generateMedia(ctx, req)
	} else {
		result, err = c.generateChat(ctx, req)
	}

	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return result, nil
}

func (c *Client) generateChat(ctx context.Context, req Request) (*Result, error) {
	body := chatRequestBody{
		Model:       c.model(req),
		Messages:    buildMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Kind == types.KindStructured {
		format := &responseFormat{Type: "json_object"}
		if len(req.Schema) > 0 {
			format.Type = "json_schema"
			format.JSONSchema = &jsonSchemaFormat{Name: "response", Schema: req.Schema}
		}
		body.ResponseFormat = format
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, chatTool{Type: "function", Function: tool})
	}

	var parsed chatResponseBody
	if err := c.post(ctx, "/chat/completions", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("generator: provider returned no choices")
	}

	content := parsed.Choices[0].Message.Content
	result := &Result{
		Kind: req.Kind,
		Text: content,
		Usage: types.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	if req.Kind == types.KindStructured {
		if !json.Valid([]byte(content)) {
			return nil, fmt.Errorf("generator: provider returned invalid JSON for structured output")
		}
		result.Output = json.RawMessage(content)
		result.Text = ""
	}
	return result, nil
}

func (c *Client) generateMedia(ctx context.Context, req Request) (*Result, error) {
	prompt := req.Query
	if req.Context != "" {
		prompt = req.Context + "\n\n" + prompt
	}
	body := imageRequestBody{Model: c.model(req), Prompt: prompt, N: 1}

	var parsed imageResponseBody
	if err := c.post(ctx, "/images/generations", body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return nil, fmt.Errorf("generator: provider returned no image")
	}

	contentType := req.MediaContentType
	if contentType == "" {
		contentType = c.cfg.MediaContentType
	}
	return &Result{
		Kind: types.KindMedia,
		Media: &types.Media{
			ContentType: contentType,
			URL:         parsed.Data[0].URL,
		},
	}, nil
}

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("generator: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("generator: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("generator: provider request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("generator: read provider response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generator: provider returned status %d: %s", resp.StatusCode, string(raw))
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("generator: unmarshal provider response: %w", err)
	}
	return nil
}

func (c *Client) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.cfg.Model
}

// buildMessages assembles the wire message list: system prompt (with
// retrieval context folded in), prior history, then the current query.
func buildMessages(req Request) []chatMessage {
	var msgs []chatMessage

	system := req.SystemPrompt
	if req.Context != "" {
		if system != "" {
			system += "\n\n"
		}
		system += "Use the following context to answer:\n" + req.Context
	}
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}

	for _, m := range req.History {
		role := m.Role
		switch role {
		case history.RoleModel:
			role = "assistant"
		case history.RoleSystem:
			// The seed system message is already reflected in the prompt.
			continue
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Content})
	}

	msgs = append(msgs, chatMessage{Role: "user", Content: req.Query})
	return msgs
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type chatRequestBody struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Tools          []chatTool      `json:"tools,omitempty"`
}

type chatResponseBody struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type imageRequestBody struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
}

type imageResponseBody struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

var _ Generator = (*Client)(nil)
