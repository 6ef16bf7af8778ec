package credential

import (
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken("prod")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if !strings.HasPrefix(token, "conduit-prod-") {
		t.Errorf("token should start with 'conduit-prod-', got: %s", token)
	}

	// conduit-prod- is 13 chars, plus 32 random = 45 total
	if len(token) != 45 {
		t.Errorf("expected token length 45, got %d: %s", len(token), token)
	}

	// Ensure randomness: two tokens should differ
	token2, _ := GenerateToken("prod")
	if token == token2 {
		t.Error("two generated tokens should not be identical")
	}
}

func TestHashToken(t *testing.T) {
	token := "conduit-prod-abcdefghijklmnopqrstuvwxyz012345"
	hash := HashToken(token)

	// SHA-256 produces 64-char hex string
	if len(hash) != 64 {
		t.Errorf("expected hash length 64, got %d", len(hash))
	}

	if hash != HashToken(token) {
		t.Error("same token should produce same hash")
	}

	if hash == HashToken("conduit-prod-different") {
		t.Error("different tokens should produce different hashes")
	}
}

func TestTokenPrefix(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"conduit-prod-abcdefghijklmnopqrstuvwxyz012345", "conduit-prod-abcdefgh"},
		{"conduit-dev-12345678901234567890123456789012", "conduit-dev-12345678"},
		{"short", "short"},
	}

	for _, tt := range tests {
		got := TokenPrefix(tt.token)
		if got != tt.expected {
			t.Errorf("TokenPrefix(%q) = %q, want %q", tt.token, got, tt.expected)
		}
	}
}

func TestRecordAllows(t *testing.T) {
	tests := []struct {
		name      string
		endpoints []string
		endpoint  string
		want      bool
	}{
		{"all sentinel", []string{"all"}, "support-bot", true},
		{"explicit match", []string{"support-bot", "docs-bot"}, "docs-bot", true},
		{"no match", []string{"support-bot"}, "docs-bot", false},
		{"empty list", nil, "support-bot", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &Record{AllowedEndpoints: tt.endpoints}
			if got := rec.Allows(tt.endpoint); got != tt.want {
				t.Errorf("Allows(%q) = %v, want %v", tt.endpoint, got, tt.want)
			}
		})
	}
}
