package types

import "time"

// QueryRequest is the canonical internal representation of an inbound query.
// The transport layer fills it from the HTTP body and headers; the pipeline
// consumes it.
type QueryRequest struct {
	// Request content
	Query   string `json:"query"`
	ChatID  string `json:"chat_id,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`

	// KindOverride lets a caller request a different response shape than the
	// endpoint default ("text", "structured", "media").
	KindOverride string `json:"output_kind,omitempty"`

	// Verbose requests usage and tooling metadata in the response.
	Verbose bool `json:"verbose,omitempty"`

	// Out-of-band credential token (Authorization header), never serialized.
	Token string `json:"-"`

	// Internal tracking
	RequestID  string    `json:"-"`
	Endpoint   string    `json:"-"`
	ReceivedAt time.Time `json:"-"`
}
