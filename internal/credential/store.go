package credential

import "context"

// NewCredential carries the caller-supplied attributes for Add. OwnerID is
// mandatory; Status defaults to active and AllowedEndpoints to ["all"].
type NewCredential struct {
	OwnerID          string
	Status           Status
	AllowedEndpoints []string
	RequestLimit     *int
}

// Update carries partial mutations for an existing credential. Nil fields are
// left untouched.
type Update struct {
	Status           *Status
	AllowedEndpoints []string
	RequestCount     *int
	RequestLimit     *int
}

// Store persists credential records, keyed by token. Implementations hash the
// token at the boundary; raw tokens are never stored or logged.
type Store interface {
	// Add inserts a record for a new token. Fails with ErrOwnerRequired if
	// the owner id is empty.
	Add(ctx context.Context, token string, nc NewCredential) error

	// Update mutates an existing record. Fails with ErrTokenNotFound if the
	// token is unknown.
	Update(ctx context.Context, token string, upd Update) error

	// Get returns the record for a token, or found=false if unknown.
	Get(ctx context.Context, token string) (*Record, bool, error)

	// Delete removes a token's record, reporting whether one existed.
	Delete(ctx context.Context, token string) (bool, error)

	// IncrementRequests bumps the usage counter and last-used timestamp.
	// Fails with ErrTokenNotFound if the token is unknown.
	IncrementRequests(ctx context.Context, token string) error
}

// Verify reports whether a token maps to an active credential. It never
// mutates store state.
func Verify(ctx context.Context, store Store, token string) (bool, error) {
	if store == nil {
		return false, ErrStoreNotInitialized
	}
	rec, found, err := store.Get(ctx, token)
	if err != nil {
		return false, err
	}
	return found && rec.Status == StatusActive, nil
}
