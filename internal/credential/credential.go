package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"time"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"

// EndpointAll is the allow-list sentinel granting access to every endpoint.
const EndpointAll = "all"

// Status of a credential. Anything other than StatusActive never authorizes.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

// Sentinel errors surfaced by the store and the authorization policy. Each
// failure mode stays distinguishable in the user-facing error message.
var (
	ErrTokenMissing        = errors.New("credential: authorization required")
	ErrTokenNotFound       = errors.New("credential: token not found")
	ErrDisabled            = errors.New("credential: credential is disabled")
	ErrOwnerMismatch       = errors.New("credential: owner mismatch")
	ErrLimitExceeded       = errors.New("credential: request limit exceeded")
	ErrEndpointNotAllowed  = errors.New("credential: endpoint not allowed for this credential")
	ErrStoreNotInitialized = errors.New("credential: store not initialized")
	ErrOwnerRequired       = errors.New("credential: owner id is required")
)

// Record is the stored state of one credential. The raw token never appears
// here; stores key records by its SHA-256 hash.
type Record struct {
	TokenHash        string
	OwnerID          string
	Status           Status
	AllowedEndpoints []string
	RequestCount     int
	RequestLimit     *int
	LastUsedAt       time.Time
	CreatedAt        time.Time
}

// Allows reports whether the record's allow-list covers the given endpoint.
func (r *Record) Allows(endpoint string) bool {
	for _, e := range r.AllowedEndpoints {
		if e == EndpointAll || e == endpoint {
			return true
		}
	}
	return false
}

// GenerateToken creates a new credential token: conduit-{env}-{32 random alphanumeric chars}.
func GenerateToken(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("conduit-%s-%s", env, random), nil
}

// HashToken returns the SHA-256 hex digest of a credential token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h)
}

// TokenPrefix extracts a display-safe prefix: conduit-{env}-{first 8 of random}.
func TokenPrefix(token string) string {
	if len(token) < 16 {
		return token
	}
	dashes := 0
	for i, c := range token {
		if c == '-' {
			dashes++
			if dashes == 2 {
				end := i + 9
				if end > len(token) {
					end = len(token)
				}
				return token[:end]
			}
		}
	}
	return token[:16]
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}
