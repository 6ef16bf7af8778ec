// Package generator defines the response-generation collaborator boundary
// and an OpenAI-compatible HTTP client implementing it.
package generator

import (
	"context"
	"encoding/json"

	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/types"
)

// Request is the fully assembled material for one generation call.
type Request struct {
	SystemPrompt string
	Query        string
	Context      string
	History      []history.Message

	Kind   types.ResponseKind
	Schema json.RawMessage // JSON schema for structured output
	Tools  []Tool

	Model       string
	Temperature *float64
	MaxTokens   *int

	// MediaContentType overrides the client default tag on media results.
	MediaContentType string
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// Result is a kind-tagged generation outcome.
type Result struct {
	Kind   types.ResponseKind
	Text   string
	Output json.RawMessage
	Media  *types.Media
	Usage  types.Usage
}

// Body returns the serialized form of the result suitable for caching: the
// text itself for text kind, the serialized JSON for structured kind, empty
// for media (which caches its {contentType, url} shape instead).
func (r *Result) Body() string {
	switch r.Kind {
	case types.KindStructured:
		return string(r.Output)
	default:
		return r.Text
	}
}

// HistoryContent returns the model-turn text to persist in chat history.
func (r *Result) HistoryContent() string {
	switch r.Kind {
	case types.KindStructured:
		return string(r.Output)
	case types.KindMedia:
		if r.Media != nil {
			return r.Media.URL
		}
		return ""
	default:
		return r.Text
	}
}

// Generator produces a response from assembled prompt material. Provider
// failures surface as errors; the pipeline never retries internally.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}
