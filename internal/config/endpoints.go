package config

import (
	"fmt"
	"time"
)

// Store backends selectable per concern. Memory stores are process-local and
// suit tests and single-instance deployments; the durable backends are shared.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// EndpointsConfig is the root of the endpoints file: one entry per routed
// endpoint name.
type EndpointsConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig declares one endpoint: its agent variant, which concerns are
// enabled around generation, and the output shape.
type EndpointConfig struct {
	Name  string      `yaml:"name"`
	Agent AgentConfig `yaml:"agent"`

	Auth    AuthConfig    `yaml:"auth"`
	Cache   CacheConfig   `yaml:"cache"`
	History HistoryConfig `yaml:"history"`

	Output OutputConfig `yaml:"output"`

	// Verbose includes usage metadata on every response from this endpoint.
	Verbose bool `yaml:"verbose"`

	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   *int     `yaml:"max_tokens,omitempty"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type AgentConfig struct {
	Type  string `yaml:"type"` // open | closed | rag
	Topic string `yaml:"topic,omitempty"`

	// Context grounds a rag agent with a static string instead of a live
	// retrieval service. Exactly one of Context or Retriever may be set.
	Context   string           `yaml:"context,omitempty"`
	Retriever *RetrieverConfig `yaml:"retriever,omitempty"`
}

type RetrieverConfig struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
	TopK    int           `yaml:"top_k"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Store   string `yaml:"store"` // memory | postgres
}

type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Store     string        `yaml:"store"` // memory | redis
	Threshold int           `yaml:"threshold"`
	TTL       time.Duration `yaml:"ttl"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Store   string `yaml:"store"` // memory | postgres
}

type OutputConfig struct {
	Kind string `yaml:"kind"` // text | structured | media

	// Schema is the JSON schema for structured output, as a JSON string.
	Schema string `yaml:"schema,omitempty"`

	// ContentType tags media output, e.g. image/png.
	ContentType string `yaml:"content_type,omitempty"`
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// Validate checks structural requirements across the endpoint set. Deeper
// semantic validation happens when the pipeline is assembled.
func (c *EndpointsConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("endpoints: at least one endpoint is required")
	}
	seen := make(map[string]bool, len(c.Endpoints))
	for i, ep := range c.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("endpoints[%d]: name is required", i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("endpoints[%d]: duplicate endpoint name %q", i, ep.Name)
		}
		seen[ep.Name] = true
		if ep.Agent.Type == "" {
			return fmt.Errorf("endpoint %q: agent.type is required", ep.Name)
		}
		if ep.Agent.Retriever != nil && ep.Agent.Context != "" {
			return fmt.Errorf("endpoint %q: agent.retriever and agent.context are mutually exclusive", ep.Name)
		}
		if ep.RateLimit.Enabled && (ep.RateLimit.Limit <= 0 || ep.RateLimit.Window <= 0) {
			return fmt.Errorf("endpoint %q: rate_limit requires positive limit and window", ep.Name)
		}
	}
	return nil
}
