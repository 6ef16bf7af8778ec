package credential

import (
	"context"
	"errors"
	"testing"
)

func intPtr(i int) *int { return &i }

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Add(ctx, "tok-active", NewCredential{OwnerID: "owner-1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, "tok-disabled", NewCredential{OwnerID: "owner-2", Status: StatusDisabled}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, "tok-scoped", NewCredential{
		OwnerID:          "owner-3",
		AllowedEndpoints: []string{"support-bot"},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(ctx, "tok-limited", NewCredential{
		OwnerID:      "owner-4",
		RequestLimit: intPtr(1),
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return store
}

func TestAuthorize(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		token    string
		owner    string
		endpoint string
		wantErr  error
	}{
		{"success", "tok-active", "owner-1", "support-bot", nil},
		{"success without claimed owner", "tok-active", "", "support-bot", nil},
		{"missing token", "", "owner-1", "support-bot", ErrTokenMissing},
		{"unknown token", "tok-nope", "owner-1", "support-bot", ErrTokenNotFound},
		{"disabled credential", "tok-disabled", "owner-2", "support-bot", ErrDisabled},
		{"owner mismatch", "tok-active", "owner-9", "support-bot", ErrOwnerMismatch},
		{"endpoint not allowed", "tok-scoped", "owner-3", "docs-bot", ErrEndpointNotAllowed},
		{"allowed endpoint", "tok-scoped", "owner-3", "support-bot", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Authorize(ctx, store, tt.token, tt.owner, tt.endpoint)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authorize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthorize_NilStore(t *testing.T) {
	_, err := Authorize(context.Background(), nil, "tok", "", "ep")
	if !errors.Is(err, ErrStoreNotInitialized) {
		t.Errorf("expected ErrStoreNotInitialized, got %v", err)
	}
}

func TestAuthorize_RequestLimit(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	// Limit is 1: first call passes and consumes it, second is rejected.
	if _, err := Authorize(ctx, store, "tok-limited", "", "any"); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if _, err := Authorize(ctx, store, "tok-limited", "", "any"); !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("expected ErrLimitExceeded, got %v", err)
	}
}

func TestAuthorize_IncrementsOncePerRequest(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := Authorize(ctx, store, "tok-active", "", "ep"); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
	}

	rec, found, err := store.Get(ctx, "tok-active")
	if err != nil || !found {
		t.Fatalf("Get: %v found=%v", err, found)
	}
	if rec.RequestCount != 3 {
		t.Errorf("expected request count 3, got %d", rec.RequestCount)
	}
	if rec.LastUsedAt.IsZero() {
		t.Error("last-used timestamp should be set after an authorized request")
	}
}

func TestVerify_DoesNotMutate(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := Verify(ctx, store, "tok-active")
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if !ok {
			t.Fatal("active credential should verify")
		}
	}

	rec, _, _ := store.Get(ctx, "tok-active")
	if rec.RequestCount != 0 {
		t.Errorf("Verify must not touch the usage counter, got %d", rec.RequestCount)
	}

	ok, err := Verify(ctx, store, "tok-disabled")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("disabled credential should not verify")
	}

	ok, _ = Verify(ctx, store, "tok-unknown")
	if ok {
		t.Error("unknown token should not verify")
	}
}

func TestMemoryStore_AddRequiresOwner(t *testing.T) {
	store := NewMemoryStore()
	err := store.Add(context.Background(), "tok", NewCredential{})
	if !errors.Is(err, ErrOwnerRequired) {
		t.Errorf("expected ErrOwnerRequired, got %v", err)
	}
}

func TestMemoryStore_UpdateAndDelete(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	disabled := StatusDisabled
	if err := store.Update(ctx, "tok-active", Update{Status: &disabled}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _, _ := store.Get(ctx, "tok-active")
	if rec.Status != StatusDisabled {
		t.Errorf("expected disabled status, got %s", rec.Status)
	}

	if err := store.Update(ctx, "tok-unknown", Update{Status: &disabled}); !errors.Is(err, ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}

	existed, err := store.Delete(ctx, "tok-active")
	if err != nil || !existed {
		t.Errorf("Delete = (%v, %v), want (true, nil)", existed, err)
	}
	existed, _ = store.Delete(ctx, "tok-active")
	if existed {
		t.Error("second delete should report no record")
	}
}
