package history

import "context"

// Store persists conversation logs. Message order is append-only and causal;
// the store itself does not order concurrent appends to the same id (last
// writer wins at record granularity).
type Store interface {
	// Create starts a conversation, optionally seeded with initial messages,
	// and returns its freshly generated id.
	Create(ctx context.Context, initial []Message) (string, error)

	// Overwrite replaces the full message log. Fails with ErrNotFound on an
	// unknown id.
	Overwrite(ctx context.Context, id string, messages []Message) error

	// Append adds messages to the end of the log. Fails with ErrNotFound on
	// an unknown id.
	Append(ctx context.Context, id string, messages []Message) error

	// Fetch returns the full log in append order. Fails with ErrNotFound on
	// an unknown id; an empty conversation and a missing one are distinct.
	Fetch(ctx context.Context, id string) ([]Message, error)

	// Delete removes a conversation, reporting whether one existed.
	Delete(ctx context.Context, id string) (bool, error)
}
