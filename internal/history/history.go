// Package history persists ordered multi-turn conversation logs keyed by an
// opaque conversation id.
package history

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Message roles. RoleModel tags generated responses regardless of which
// provider produced them.
const (
	RoleUser   = "user"
	RoleModel  = "model"
	RoleSystem = "system"
)

var (
	// ErrNotFound is returned when a conversation id is unknown. Fetching a
	// bad id is a hard error, not an empty conversation.
	ErrNotFound = errors.New("history: chat history not found")

	// ErrStoreNotInitialized is returned when no store was wired for a
	// history-enabled endpoint.
	ErrStoreNotInitialized = errors.New("history: store not initialized")
)

// Message is one role-tagged entry in a conversation log.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

const idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewConversationID returns a 32-char random alphanumeric id (~190 bits of
// entropy). Uniqueness is probabilistic; the store does not enforce it.
func NewConversationID() (string, error) {
	b := make([]byte, 32)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate conversation id: %w", err)
		}
		b[i] = idAlphabet[idx.Int64()]
	}
	return string(b), nil
}
