package pipeline

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/af-corp/conduit/internal/agent"
	"github.com/af-corp/conduit/internal/cache"
	"github.com/af-corp/conduit/internal/credential"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/telemetry"
	"github.com/af-corp/conduit/internal/types"
)

var (
	ErrAgentRequired     = errors.New("pipeline: agent is required")
	ErrGeneratorRequired = errors.New("pipeline: generator is required")
	ErrInvalidKind       = errors.New("pipeline: invalid output kind")
)

// AuthConfig is a tagged variant: either disabled, or enabled with a
// credential store. Constructors make "enabled without a store" impossible to
// express.
type AuthConfig struct {
	enabled bool
	store   credential.Store
}

func AuthDisabled() AuthConfig { return AuthConfig{} }
func AuthEnabled(store credential.Store) AuthConfig { return AuthConfig{enabled: true, store: store} }

// CacheConfig is a tagged variant for response caching. Admission threshold
// and TTL are properties of the store itself.
type CacheConfig struct {
	enabled bool
	store   cache.Store
}

func CacheDisabled() CacheConfig { return CacheConfig{} }
func CacheEnabled(store cache.Store) CacheConfig { return CacheConfig{enabled: true, store: store} }

// HistoryConfig is a tagged variant for multi-turn conversation state.
type HistoryConfig struct {
	enabled bool
	store   history.Store
}

func HistoryDisabled() HistoryConfig { return HistoryConfig{} }
func HistoryEnabled(store history.Store) HistoryConfig { return HistoryConfig{enabled: true, store: store} }

// Config is the immutable per-endpoint configuration, assembled once at
// startup and passed into New. The RAG concern lives inside the agent: a
// retrieval-augmented agent cannot be constructed without a context source.
type Config struct {
	Endpoint  string
	Agent     *agent.Agent
	Generator generator.Generator

	Auth    AuthConfig
	Cache   CacheConfig
	History HistoryConfig

	// Kind is the default output shape; requests may override it.
	Kind   types.ResponseKind
	Schema json.RawMessage
	Tools  []generator.Tool

	// MediaContentType tags media responses for this endpoint, overriding the
	// generator's default.
	MediaContentType string

	// Verbose reports usage metadata on every response, not only when the
	// request asks for it.
	Verbose bool

	Model       string
	Temperature *float64
	MaxTokens   *int

	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}
