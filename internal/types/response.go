package types

import "encoding/json"

// QueryResponse is the success shape returned to callers. Exactly one of
// Response, Output, or Media is populated, matching Kind.
type QueryResponse struct {
	Kind     ResponseKind    `json:"kind"`
	Response string          `json:"response,omitempty"`
	Output   json.RawMessage `json:"output,omitempty"`
	Media    *Media          `json:"media,omitempty"`

	// ChatID is present when chat history is enabled for the endpoint; for the
	// first turn of a conversation it carries the freshly minted id.
	ChatID string `json:"chat_id,omitempty"`

	// Usage is populated only when the caller asked for verbose output. Cache
	// hits carry no usage (no tokens were spent).
	Usage *Usage `json:"usage,omitempty"`

	// Cached marks responses served from the cache store.
	Cached bool `json:"cached,omitempty"`
}

// ErrorResponse is the single failure shape, regardless of transport or stage.
type ErrorResponse struct {
	Error string `json:"error"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
