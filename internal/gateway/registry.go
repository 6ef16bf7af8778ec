// Package gateway exposes the configured endpoints over HTTP: a registry
// assembling pipelines from configuration, and the chi handlers serving them.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/conduit/internal/agent"
	"github.com/af-corp/conduit/internal/cache"
	"github.com/af-corp/conduit/internal/config"
	"github.com/af-corp/conduit/internal/credential"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/pipeline"
	"github.com/af-corp/conduit/internal/retriever"
	"github.com/af-corp/conduit/internal/telemetry"
	"github.com/af-corp/conduit/internal/types"
)

// Resources are the process-level dependencies endpoints draw on. DB and
// Redis may be nil; endpoints configured for the durable backends then fail
// at build time rather than at request time.
type Resources struct {
	DB        *pgxpool.Pool
	Redis     *redis.Client
	Generator generator.Generator
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

// Endpoint is one routed endpoint: its pipeline plus the transport-level
// settings the pipeline does not own.
type Endpoint struct {
	Name      string
	Pipeline  *pipeline.Pipeline
	RateLimit config.RateLimitConfig

	// History is non-nil when chat history is enabled; the conversation
	// delete route uses it directly.
	History history.Store
}

// Registry maps endpoint names to built endpoints. It is swapped wholesale on
// config reload.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

func (r *Registry) Lookup(name string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[name]
	return ep, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps this registry's contents for another's. Requests in flight
// keep the endpoint they already resolved.
func (r *Registry) Replace(other *Registry) {
	other.mu.RLock()
	endpoints := other.endpoints
	other.mu.RUnlock()

	r.mu.Lock()
	r.endpoints = endpoints
	r.mu.Unlock()
}

// BuildRegistry assembles a pipeline per configured endpoint. Any invalid
// endpoint fails the whole build; a partially routed gateway is worse than a
// loud startup error.
func BuildRegistry(eps *config.EndpointsConfig, res Resources) (*Registry, error) {
	built := make(map[string]*Endpoint, len(eps.Endpoints))
	for _, ec := range eps.Endpoints {
		ep, err := buildEndpoint(ec, res)
		if err != nil {
			return nil, fmt.Errorf("endpoint %q: %w", ec.Name, err)
		}
		built[ec.Name] = ep
	}
	return &Registry{endpoints: built}, nil
}

func buildEndpoint(ec config.EndpointConfig, res Resources) (*Endpoint, error) {
	ag, err := buildAgent(ec.Agent)
	if err != nil {
		return nil, err
	}

	pcfg := pipeline.Config{
		Endpoint:    ec.Name,
		Agent:       ag,
		Generator:   res.Generator,
		Auth:        pipeline.AuthDisabled(),
		Cache:       pipeline.CacheDisabled(),
		History:     pipeline.HistoryDisabled(),
		Verbose:     ec.Verbose,
		Model:       ec.Model,
		Temperature: ec.Temperature,
		MaxTokens:   ec.MaxTokens,
		Metrics:     res.Metrics,
		Logger:      res.Logger,
	}

	if ec.Output.Kind != "" {
		kind, ok := types.ParseResponseKind(ec.Output.Kind)
		if !ok {
			return nil, fmt.Errorf("unknown output kind %q", ec.Output.Kind)
		}
		pcfg.Kind = kind
	}
	if ec.Output.Schema != "" {
		if !json.Valid([]byte(ec.Output.Schema)) {
			return nil, fmt.Errorf("output schema is not valid JSON")
		}
		pcfg.Schema = json.RawMessage(ec.Output.Schema)
	}
	pcfg.MediaContentType = ec.Output.ContentType

	if ec.Auth.Enabled {
		store, err := buildCredentialStore(ec.Auth.Store, res)
		if err != nil {
			return nil, err
		}
		pcfg.Auth = pipeline.AuthEnabled(store)
	}

	if ec.Cache.Enabled {
		store, err := buildCacheStore(ec.Cache, res)
		if err != nil {
			return nil, err
		}
		pcfg.Cache = pipeline.CacheEnabled(store)
	}

	var historyStore history.Store
	if ec.History.Enabled {
		historyStore, err = buildHistoryStore(ec.History.Store, res)
		if err != nil {
			return nil, err
		}
		pcfg.History = pipeline.HistoryEnabled(historyStore)
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		return nil, err
	}

	return &Endpoint{
		Name:      ec.Name,
		Pipeline:  p,
		RateLimit: ec.RateLimit,
		History:   historyStore,
	}, nil
}

func buildAgent(ac config.AgentConfig) (*agent.Agent, error) {
	kind, ok := agent.ParseKind(ac.Type)
	if !ok {
		return nil, fmt.Errorf("unknown agent type %q", ac.Type)
	}

	cfg := agent.Config{
		Kind:          kind,
		Topic:         ac.Topic,
		StaticContext: ac.Context,
	}
	if ac.Retriever != nil {
		cfg.Retriever = retriever.NewHTTPClient(retriever.Config{
			Address: ac.Retriever.Address,
			Timeout: ac.Retriever.Timeout,
			TopK:    ac.Retriever.TopK,
		})
	}
	return agent.New(cfg)
}

func buildCredentialStore(backend string, res Resources) (credential.Store, error) {
	switch backend {
	case config.BackendMemory:
		return credential.NewMemoryStore(), nil
	case config.BackendPostgres, "":
		if res.DB == nil {
			return nil, fmt.Errorf("auth store %q requires a database connection", config.BackendPostgres)
		}
		return credential.NewPostgresStore(res.DB, res.Redis), nil
	default:
		return nil, fmt.Errorf("unknown auth store backend %q", backend)
	}
}

func buildCacheStore(cc config.CacheConfig, res Resources) (cache.Store, error) {
	switch cc.Store {
	case config.BackendMemory:
		return cache.NewMemoryStore(cc.Threshold, cc.TTL), nil
	case config.BackendRedis, "":
		if res.Redis == nil {
			return nil, fmt.Errorf("cache store %q requires a redis connection", config.BackendRedis)
		}
		return cache.NewRedisStore(res.Redis, cc.Threshold, cc.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache store backend %q", cc.Store)
	}
}

func buildHistoryStore(backend string, res Resources) (history.Store, error) {
	switch backend {
	case config.BackendMemory:
		return history.NewMemoryStore(), nil
	case config.BackendPostgres, "":
		if res.DB == nil {
			return nil, fmt.Errorf("history store %q requires a database connection", config.BackendPostgres)
		}
		return history.NewPostgresStore(res.DB), nil
	default:
		return nil, fmt.Errorf("unknown history store backend %q", backend)
	}
}
