// Package pipeline composes credential checks, threshold-gated response
// caching, durable chat history, and retrieval-augmented context around a
// single generation call.
//
// Each request runs the stages strictly in order: auth, history load, cache
// lookup, context retrieval, generation, cache write, history write. Store
// operations are issued sequentially within one request; across requests the
// stores are shared and races resolve last-writer-wins. Two concurrent
// requests with the same fingerprint may both generate and both write the
// cache, and concurrent turns on one conversation id may interleave.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/af-corp/conduit/internal/cache"
	"github.com/af-corp/conduit/internal/credential"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/telemetry"
	"github.com/af-corp/conduit/internal/types"
)

// ErrGeneration wraps any failure from the underlying generator. The
// pipeline never retries; that is the generator's or the caller's business.
var ErrGeneration = errors.New("pipeline: generation failed")

// Greeting is returned for an empty query before any other stage runs.
const Greeting = "Hello! How can I help you today?"

// Pipeline orchestrates one endpoint's request flow.
type Pipeline struct {
	cfg Config
	log *slog.Logger
}

// New validates the endpoint configuration and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Agent == nil {
		return nil, ErrAgentRequired
	}
	if cfg.Generator == nil {
		return nil, ErrGeneratorRequired
	}
	if cfg.Kind == "" {
		cfg.Kind = types.KindText
	}
	if _, ok := types.ParseResponseKind(string(cfg.Kind)); !ok {
		return nil, ErrInvalidKind
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: log.With("endpoint", cfg.Endpoint)}, nil
}

// Handle runs the full state machine for one inbound request.
func (p *Pipeline) Handle(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	started := time.Now()

	resp, err := p.handle(ctx, req)

	if p.cfg.Metrics != nil {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case resp != nil && resp.Cached:
			outcome = "cache_hit"
		}
		p.cfg.Metrics.RecordRequest(p.cfg.Endpoint, outcome, float64(time.Since(started).Milliseconds()))
	}
	return resp, err
}

func (p *Pipeline) handle(ctx context.Context, req types.QueryRequest) (*types.QueryResponse, error) {
	// An empty query short-circuits before auth, history, cache, and RAG.
	if strings.TrimSpace(req.Query) == "" {
		return &types.QueryResponse{Kind: types.KindText, Response: Greeting}, nil
	}

	// Stage 1: auth.
	if p.cfg.Auth.enabled {
		if _, err := credential.Authorize(ctx, p.cfg.Auth.store, req.Token, req.OwnerID, p.cfg.Endpoint); err != nil {
			return nil, err
		}
	}

	kind, err := p.resolveKind(req.KindOverride)
	if err != nil {
		return nil, err
	}

	// Stage 2: history load. An unknown id is terminal; silently starting a
	// fresh conversation would hide client bugs.
	var priorHistory []history.Message
	if p.cfg.History.enabled && req.ChatID != "" {
		if p.cfg.History.store == nil {
			return nil, history.ErrStoreNotInitialized
		}
		priorHistory, err = p.cfg.History.store.Fetch(ctx, req.ChatID)
		if err != nil {
			return nil, err
		}
	}

	// The fingerprint covers the query text only. Retrieval context does not
	// exist yet at lookup time, and conversation history grows every turn, so
	// folding either in would make a repeated question never converge on its
	// own cache record.
	fingerprint := cache.Fingerprint(req.Query)

	// Stage 3: cache lookup.
	mustCache := false
	if p.cfg.Cache.enabled {
		cached, admitted, err := p.lookupCache(ctx, fingerprint, req.Query, kind)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			chatID, err := p.spliceHitIntoHistory(ctx, req, cached)
			if err != nil {
				return nil, err
			}
			cached.ChatID = chatID
			return cached, nil
		}
		mustCache = admitted
	}

	// Stage 4: context retrieval. Failures surface; an answer without the
	// promised grounding would be misleading.
	ragContext, err := p.cfg.Agent.Context(ctx, req.Query)
	if err != nil {
		return nil, err
	}

	// Stage 5: generate.
	systemPrompt := p.seedSystemPrompt(priorHistory)
	genStarted := time.Now()
	result, err := p.cfg.Generator.Generate(ctx, generator.Request{
		SystemPrompt:     systemPrompt,
		Query:            req.Query,
		Context:          ragContext,
		History:          priorHistory,
		Kind:             kind,
		Schema:           p.cfg.Schema,
		Tools:            p.cfg.Tools,
		Model:            p.cfg.Model,
		Temperature:      p.cfg.Temperature,
		MaxTokens:        p.cfg.MaxTokens,
		MediaContentType: p.cfg.MediaContentType,
	})
	if p.cfg.Metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		var pt, ct int
		if result != nil {
			pt, ct = result.Usage.PromptTokens, result.Usage.CompletionTokens
		}
		p.cfg.Metrics.RecordGeneration(p.cfg.Endpoint, status, float64(time.Since(genStarted).Milliseconds()), pt, ct)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	// Stage 6: cache write. The cached payload must match what the caller
	// receives, so a later hit is indistinguishable from this fresh answer.
	// Failures past this point never cost the caller their answer.
	if mustCache && p.cfg.Cache.enabled {
		payload := cache.Payload{Kind: kind, Body: result.Body(), Media: result.Media}
		if err := p.cfg.Cache.store.CacheResponse(ctx, fingerprint, payload); err != nil {
			p.log.Error("cache write failed", "error", err)
		} else {
			if err := p.cfg.Cache.store.TouchLastUsed(ctx, fingerprint); err != nil {
				p.log.Warn("cache touch failed", "error", err)
			}
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.RecordCacheEvent(p.cfg.Endpoint, telemetry.CacheAdmitted)
			}
		}
	}

	// Stage 7: history write.
	chatID := req.ChatID
	if p.cfg.History.enabled {
		chatID, err = p.persistTurn(ctx, req.ChatID, systemPrompt, req.Query, result.HistoryContent())
		if err != nil {
			p.log.Error("history write failed", "error", err)
			chatID = req.ChatID
		}
	}

	// Stage 8: respond.
	resp := &types.QueryResponse{Kind: kind, ChatID: chatID}
	switch kind {
	case types.KindStructured:
		resp.Output = result.Output
	case types.KindMedia:
		resp.Media = result.Media
	default:
		resp.Response = result.Text
	}
	if req.Verbose || p.cfg.Verbose {
		usage := result.Usage
		resp.Usage = &usage
	}
	return resp, nil
}

func (p *Pipeline) resolveKind(override string) (types.ResponseKind, error) {
	if override == "" {
		return p.cfg.Kind, nil
	}
	kind, ok := types.ParseResponseKind(override)
	if !ok {
		return "", ErrInvalidKind
	}
	return kind, nil
}

// lookupCache resolves the cache stage. A non-nil response means a servable
// hit; admitted marks that this sighting crossed the admission threshold and
// the fresh response must be cached after generation.
func (p *Pipeline) lookupCache(ctx context.Context, fingerprint, query string, kind types.ResponseKind) (resp *types.QueryResponse, admitted bool, err error) {
	store := p.cfg.Cache.store

	rec, err := store.GetRecord(ctx, fingerprint)
	if errors.Is(err, cache.ErrNotFound) {
		// First-ever sighting: start admission tracking. The sighting itself
		// counts, so the countdown begins at N-1 and the Nth sighting admits.
		if err := store.AddQuery(ctx, fingerprint, query, kind); err != nil {
			return nil, false, err
		}
		remaining, err := store.DecrementThreshold(ctx, fingerprint)
		if err != nil {
			return nil, false, err
		}
		p.recordCacheEvent(telemetry.CacheMiss)
		return nil, remaining == 0, nil
	}
	if err != nil {
		return nil, false, err
	}

	if err := store.TouchLastAccessed(ctx, fingerprint); err != nil {
		p.log.Warn("cache touch failed", "error", err)
	}

	switch {
	case rec.Payload != nil && rec.Expired(time.Now()):
		// Expired data is a miss that also re-arms admission tracking. This
		// sighting is the first of the new countdown.
		if err := store.Reset(ctx, fingerprint); err != nil {
			return nil, false, err
		}
		remaining, err := store.DecrementThreshold(ctx, fingerprint)
		if err != nil {
			return nil, false, err
		}
		p.recordCacheEvent(telemetry.CacheExpired)
		return nil, remaining == 0, nil

	case rec.Payload != nil && rec.Payload.Kind == kind:
		hit, err := responseFromPayload(rec.Payload)
		if err != nil {
			return nil, false, err
		}
		if err := store.IncrementHits(ctx, fingerprint); err != nil {
			p.log.Warn("cache hit count failed", "error", err)
		}
		if err := store.TouchLastUsed(ctx, fingerprint); err != nil {
			p.log.Warn("cache touch failed", "error", err)
		}
		p.recordCacheEvent(telemetry.CacheHit)
		return hit, false, nil

	case rec.Payload != nil:
		// Kind mismatch: never serve across kinds; generate fresh without
		// disturbing the stored record.
		p.recordCacheEvent(telemetry.CacheMiss)
		return nil, false, nil

	default:
		// Known, not yet admitted: one more sighting.
		remaining, err := store.DecrementThreshold(ctx, fingerprint)
		if err != nil {
			return nil, false, err
		}
		p.recordCacheEvent(telemetry.CacheMiss)
		return nil, remaining == 0, nil
	}
}

// responseFromPayload reconstructs a caller response from a cached payload,
// failing loudly on a tag/shape mismatch rather than coercing.
func responseFromPayload(payload *cache.Payload) (*types.QueryResponse, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	resp := &types.QueryResponse{Kind: payload.Kind, Cached: true}
	switch payload.Kind {
	case types.KindStructured:
		if !json.Valid([]byte(payload.Body)) {
			return nil, cache.ErrKindMismatch
		}
		resp.Output = json.RawMessage(payload.Body)
	case types.KindMedia:
		resp.Media = payload.Media
	default:
		resp.Response = payload.Body
	}
	return resp, nil
}

// spliceHitIntoHistory appends the user/model turn pair for a cache hit so
// the conversation continues seamlessly, creating the conversation if the
// request carried no id. Returns the effective chat id.
func (p *Pipeline) spliceHitIntoHistory(ctx context.Context, req types.QueryRequest, resp *types.QueryResponse) (string, error) {
	if !p.cfg.History.enabled {
		return "", nil
	}
	content := hitHistoryContent(resp)
	id, err := p.persistTurn(ctx, req.ChatID, p.cfg.Agent.SystemPrompt(), req.Query, content)
	if err != nil {
		// The answer is already correct; a history side-effect failure must
		// not turn into a user-facing error.
		p.log.Error("history write failed on cache hit", "error", err)
		return req.ChatID, nil
	}
	return id, nil
}

func hitHistoryContent(resp *types.QueryResponse) string {
	switch resp.Kind {
	case types.KindStructured:
		return string(resp.Output)
	case types.KindMedia:
		if resp.Media != nil {
			return resp.Media.URL
		}
		return ""
	default:
		return resp.Response
	}
}

// persistTurn appends exactly the new user/model pair to an existing
// conversation, or creates one seeded with the system prompt plus the pair.
func (p *Pipeline) persistTurn(ctx context.Context, chatID, systemPrompt, query, modelContent string) (string, error) {
	if p.cfg.History.store == nil {
		return "", history.ErrStoreNotInitialized
	}

	turn := []history.Message{
		{Role: history.RoleUser, Content: query},
		{Role: history.RoleModel, Content: modelContent},
	}

	if chatID != "" {
		if err := p.cfg.History.store.Append(ctx, chatID, turn); err != nil {
			return "", err
		}
		return chatID, nil
	}

	seeded := append([]history.Message{{Role: history.RoleSystem, Content: systemPrompt}}, turn...)
	id, err := p.cfg.History.store.Create(ctx, seeded)
	if err != nil {
		return "", err
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordConversationCreated(p.cfg.Endpoint)
	}
	return id, nil
}

// seedSystemPrompt prefers the system message stored at conversation
// creation over re-deriving it, so the fresh and cached paths cannot drift.
func (p *Pipeline) seedSystemPrompt(priorHistory []history.Message) string {
	if len(priorHistory) > 0 && priorHistory[0].Role == history.RoleSystem {
		return priorHistory[0].Content
	}
	return p.cfg.Agent.SystemPrompt()
}

func (p *Pipeline) recordCacheEvent(event string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordCacheEvent(p.cfg.Endpoint, event)
	}
}
