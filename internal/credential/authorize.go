package credential

import "context"

// Authorize runs the full access-control policy for one request:
// token presence, existence, status, claimed owner, lifetime request limit,
// and endpoint allow-list, in that order, each with its own error. On
// success the usage counter is incremented exactly once; this is the only
// mutation the policy performs.
func Authorize(ctx context.Context, store Store, token, claimedOwnerID, endpoint string) (*Record, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}
	if store == nil {
		return nil, ErrStoreNotInitialized
	}

	rec, found, err := store.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrTokenNotFound
	}
	if rec.Status != StatusActive {
		return nil, ErrDisabled
	}
	if claimedOwnerID != "" && claimedOwnerID != rec.OwnerID {
		return nil, ErrOwnerMismatch
	}
	if rec.RequestLimit != nil && rec.RequestCount >= *rec.RequestLimit {
		return nil, ErrLimitExceeded
	}
	if !rec.Allows(endpoint) {
		return nil, ErrEndpointNotAllowed
	}

	if err := store.IncrementRequests(ctx, token); err != nil {
		return nil, err
	}
	return rec, nil
}
