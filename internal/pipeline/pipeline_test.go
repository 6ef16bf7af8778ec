package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/af-corp/conduit/internal/agent"
	"github.com/af-corp/conduit/internal/cache"
	"github.com/af-corp/conduit/internal/credential"
	"github.com/af-corp/conduit/internal/generator"
	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/types"
)

type fakeGenerator struct {
	calls  int
	result *generator.Result
	err    error
}

func (g *fakeGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	if g.result != nil {
		return g.result, nil
	}
	return &generator.Result{
		Kind: req.Kind,
		Text: fmt.Sprintf("answer %d", g.calls),
	}, nil
}

type fakeRetriever struct {
	calls   int
	context string
	err     error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	r.calls++
	return r.context, r.err
}

func openAgent(t *testing.T) *agent.Agent {
	t.Helper()
	a, err := agent.New(agent.Config{Kind: agent.KindOpen})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	return a
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	if cfg.Agent == nil {
		cfg.Agent = openAgent(t)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "test"
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestNewValidation(t *testing.T) {
	gen := &fakeGenerator{}

	if _, err := New(Config{Generator: gen}); !errors.Is(err, ErrAgentRequired) {
		t.Fatalf("missing agent: got %v, want ErrAgentRequired", err)
	}
	if _, err := New(Config{Agent: openAgent(t)}); !errors.Is(err, ErrGeneratorRequired) {
		t.Fatalf("missing generator: got %v, want ErrGeneratorRequired", err)
	}
	if _, err := New(Config{Agent: openAgent(t), Generator: gen, Kind: "hologram"}); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("bad kind: got %v, want ErrInvalidKind", err)
	}
}

func TestEmptyQueryGreetsWithoutAnyStage(t *testing.T) {
	gen := &fakeGenerator{}
	// Auth enabled with no store would fail any request that reaches it.
	p := newPipeline(t, Config{
		Generator: gen,
		Auth:      AuthEnabled(nil),
	})

	resp, err := p.Handle(context.Background(), types.QueryRequest{Query: "   "})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.Response != Greeting {
		t.Errorf("response = %q, want greeting", resp.Response)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for empty query", gen.calls)
	}
}

func TestAuthRunsBeforeGeneration(t *testing.T) {
	gen := &fakeGenerator{}
	store := credential.NewMemoryStore()
	p := newPipeline(t, Config{
		Generator: gen,
		Auth:      AuthEnabled(store),
	})

	_, err := p.Handle(context.Background(), types.QueryRequest{Query: "hello"})
	if !errors.Is(err, credential.ErrTokenMissing) {
		t.Fatalf("got %v, want ErrTokenMissing", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times despite auth failure", gen.calls)
	}

	if err := store.Add(context.Background(), "tok", credential.NewCredential{OwnerID: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	resp, err := p.Handle(context.Background(), types.QueryRequest{Query: "hello", Token: "tok"})
	if err != nil {
		t.Fatalf("Handle with valid token: %v", err)
	}
	if resp.Response == "" {
		t.Error("expected generated text")
	}
	if gen.calls != 1 {
		t.Errorf("generator calls = %d, want 1", gen.calls)
	}
}

func TestAdmissionThresholdCountdown(t *testing.T) {
	gen := &fakeGenerator{}
	p := newPipeline(t, Config{
		Generator: gen,
		Cache:     CacheEnabled(cache.NewMemoryStore(3, time.Hour)),
	})
	ctx := context.Background()
	req := types.QueryRequest{Query: "what is the refund policy"}

	// Sightings 1..3 all generate; the third crosses the threshold and
	// writes the cache.
	for i := 1; i <= 3; i++ {
		resp, err := p.Handle(ctx, req)
		if err != nil {
			t.Fatalf("sighting %d: %v", i, err)
		}
		if resp.Cached {
			t.Errorf("sighting %d served from cache before admission", i)
		}
	}
	if gen.calls != 3 {
		t.Fatalf("generator calls = %d, want 3", gen.calls)
	}

	// Sighting 4 is a hit carrying the admitted answer.
	resp, err := p.Handle(ctx, req)
	if err != nil {
		t.Fatalf("sighting 4: %v", err)
	}
	if !resp.Cached {
		t.Fatal("sighting 4 not served from cache")
	}
	if resp.Response != "answer 3" {
		t.Errorf("cached response = %q, want the admitted answer", resp.Response)
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d after hit, want 3", gen.calls)
	}
}

func TestDistinctQueriesTrackSeparately(t *testing.T) {
	gen := &fakeGenerator{}
	p := newPipeline(t, Config{
		Generator: gen,
		Cache:     CacheEnabled(cache.NewMemoryStore(2, time.Hour)),
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := p.Handle(ctx, types.QueryRequest{Query: "alpha"}); err != nil {
			t.Fatalf("alpha %d: %v", i, err)
		}
	}
	// "beta" has its own countdown and must not be admitted by alpha's.
	resp, err := p.Handle(ctx, types.QueryRequest{Query: "beta"})
	if err != nil {
		t.Fatalf("beta: %v", err)
	}
	if resp.Cached {
		t.Error("beta served from cache on first sighting")
	}

	resp, err = p.Handle(ctx, types.QueryRequest{Query: "alpha"})
	if err != nil {
		t.Fatalf("alpha hit: %v", err)
	}
	if !resp.Cached {
		t.Error("alpha not served from cache after admission")
	}
}

func TestExpiredEntryRegeneratesAndRearms(t *testing.T) {
	gen := &fakeGenerator{}
	store := cache.NewMemoryStore(2, 10*time.Millisecond)
	p := newPipeline(t, Config{
		Generator: gen,
		Cache:     CacheEnabled(store),
	})
	ctx := context.Background()
	req := types.QueryRequest{Query: "perishable"}

	if _, err := p.Handle(ctx, req); err != nil { // sighting 1 of 2
		t.Fatal(err)
	}
	if _, err := p.Handle(ctx, req); err != nil { // sighting 2: admit + cache
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)

	// Expired: a fresh generation, not a hit, and the countdown restarts with
	// this request as sighting 1.
	resp, err := p.Handle(ctx, req)
	if err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	if resp.Cached {
		t.Error("expired entry served as hit")
	}
	if gen.calls != 3 {
		t.Errorf("generator calls = %d, want 3", gen.calls)
	}

	// Sighting 2 of the new countdown admits again; the next request hits.
	if _, err := p.Handle(ctx, req); err != nil {
		t.Fatal(err)
	}
	resp, err = p.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Error("entry not re-admitted after expiry reset")
	}
	if gen.calls != 4 {
		t.Errorf("generator calls = %d, want 4", gen.calls)
	}
}

func TestKindMismatchBypassesCache(t *testing.T) {
	gen := &fakeGenerator{result: &generator.Result{Kind: types.KindText, Text: "plain"}}
	p := newPipeline(t, Config{
		Generator: gen,
		Cache:     CacheEnabled(cache.NewMemoryStore(1, time.Hour)),
	})
	ctx := context.Background()

	// Threshold 1: the first sighting admits and caches the text payload.
	if _, err := p.Handle(ctx, types.QueryRequest{Query: "shape"}); err != nil {
		t.Fatal(err)
	}

	// Same fingerprint, different requested kind: must generate fresh.
	gen.result = &generator.Result{Kind: types.KindStructured, Output: json.RawMessage(`{"a":1}`)}
	resp, err := p.Handle(ctx, types.QueryRequest{Query: "shape", KindOverride: "structured"})
	if err != nil {
		t.Fatalf("structured request: %v", err)
	}
	if resp.Cached {
		t.Error("served text payload for a structured request")
	}
	if string(resp.Output) != `{"a":1}` {
		t.Errorf("output = %s", resp.Output)
	}

	// The stored text payload is untouched and still serves text requests.
	gen.result = &generator.Result{Kind: types.KindText, Text: "fresh"}
	resp, err = p.Handle(ctx, types.QueryRequest{Query: "shape"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached || resp.Response != "plain" {
		t.Errorf("cached=%v response=%q, want the original text payload", resp.Cached, resp.Response)
	}
}

func TestConversationAppendsExactPairPerTurn(t *testing.T) {
	gen := &fakeGenerator{}
	store := history.NewMemoryStore()
	p := newPipeline(t, Config{
		Generator: gen,
		History:   HistoryEnabled(store),
	})
	ctx := context.Background()

	resp, err := p.Handle(ctx, types.QueryRequest{Query: "first turn"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ChatID == "" {
		t.Fatal("no conversation id assigned")
	}

	msgs, err := store.Fetch(ctx, resp.ChatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages after turn 1 = %d, want 3 (seed + pair)", len(msgs))
	}
	if msgs[0].Role != history.RoleSystem {
		t.Errorf("first message role = %q, want system seed", msgs[0].Role)
	}
	if msgs[1].Role != history.RoleUser || msgs[1].Content != "first turn" {
		t.Errorf("user message = %+v", msgs[1])
	}
	if msgs[2].Role != history.RoleModel {
		t.Errorf("model message role = %q", msgs[2].Role)
	}

	resp2, err := p.Handle(ctx, types.QueryRequest{Query: "second turn", ChatID: resp.ChatID})
	if err != nil {
		t.Fatal(err)
	}
	if resp2.ChatID != resp.ChatID {
		t.Errorf("chat id changed across turns: %q then %q", resp.ChatID, resp2.ChatID)
	}
	msgs, _ = store.Fetch(ctx, resp.ChatID)
	if len(msgs) != 5 {
		t.Errorf("messages after turn 2 = %d, want 5", len(msgs))
	}
}

func TestUnknownConversationIDIsTerminal(t *testing.T) {
	gen := &fakeGenerator{}
	p := newPipeline(t, Config{
		Generator: gen,
		History:   HistoryEnabled(history.NewMemoryStore()),
	})

	_, err := p.Handle(context.Background(), types.QueryRequest{Query: "hi", ChatID: "no-such-id"})
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("got %v, want history.ErrNotFound", err)
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for unknown conversation", gen.calls)
	}
}

func TestCacheHitStillExtendsHistory(t *testing.T) {
	gen := &fakeGenerator{}
	hist := history.NewMemoryStore()
	p := newPipeline(t, Config{
		Generator: gen,
		Cache:     CacheEnabled(cache.NewMemoryStore(2, time.Hour)),
		History:   HistoryEnabled(hist),
	})
	ctx := context.Background()

	// Ask the same question three times in one conversation. The fingerprint
	// tracks the query text, so the countdown converges even as the
	// conversation grows: two generations, then a hit.
	first, err := p.Handle(ctx, types.QueryRequest{Query: "same question"})
	if err != nil {
		t.Fatal(err)
	}
	chatID := first.ChatID
	if chatID == "" {
		t.Fatal("no conversation id assigned")
	}

	second, err := p.Handle(ctx, types.QueryRequest{Query: "same question", ChatID: chatID})
	if err != nil {
		t.Fatal(err)
	}
	third, err := p.Handle(ctx, types.QueryRequest{Query: "same question", ChatID: chatID})
	if err != nil {
		t.Fatal(err)
	}
	if !third.Cached {
		t.Fatal("third request expected to hit the cache")
	}
	if third.ChatID != chatID {
		t.Errorf("chat id drifted on the hit path: %q then %q", chatID, third.ChatID)
	}
	if third.Response != second.Response {
		t.Errorf("hit content %q differs from the admitted answer %q", third.Response, second.Response)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}

	// Seed system message plus one user/model pair per turn, hit included.
	msgs, err := hist.Fetch(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 7 {
		t.Errorf("conversation length = %d, want 7", len(msgs))
	}
	if msgs[6].Role != history.RoleModel || msgs[6].Content != "answer 2" {
		t.Errorf("final model turn = %+v, want the cached answer", msgs[6])
	}
}

func TestAllConcernsComposed(t *testing.T) {
	ret := &fakeRetriever{context: "price list: X costs 42"}
	ragAgent, err := agent.New(agent.Config{Kind: agent.KindRAG, Topic: "pricing", Retriever: ret})
	if err != nil {
		t.Fatal(err)
	}

	gen := &fakeGenerator{}
	creds := credential.NewMemoryStore()
	hist := history.NewMemoryStore()
	ctx := context.Background()

	if err := creds.Add(ctx, "tok", credential.NewCredential{OwnerID: "alice"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	p := newPipeline(t, Config{
		Agent:     ragAgent,
		Generator: gen,
		Auth:      AuthEnabled(creds),
		Cache:     CacheEnabled(cache.NewMemoryStore(2, 24*time.Hour)),
		History:   HistoryEnabled(hist),
	})

	ask := func(chatID string) *types.QueryResponse {
		t.Helper()
		resp, err := p.Handle(ctx, types.QueryRequest{
			Query:  "What is the price of X?",
			ChatID: chatID,
			Token:  "tok",
		})
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
		return resp
	}

	// First ask generates fresh and opens the conversation.
	first := ask("")
	if first.Cached {
		t.Error("first ask served from cache")
	}
	chatID := first.ChatID
	if chatID == "" {
		t.Fatal("no conversation id assigned")
	}

	// Second ask generates fresh again and its answer is cached.
	second := ask(chatID)
	if second.Cached {
		t.Error("second ask served from cache")
	}
	if second.ChatID != chatID {
		t.Errorf("chat id drifted: %q then %q", chatID, second.ChatID)
	}

	// Third ask is a hit: no generation, no retrieval, same content and id.
	third := ask(chatID)
	if !third.Cached {
		t.Fatal("third ask expected to hit the cache")
	}
	if third.Response != second.Response {
		t.Errorf("hit content %q differs from the cached answer %q", third.Response, second.Response)
	}
	if third.ChatID != chatID {
		t.Errorf("hit returned chat id %q, want %q", third.ChatID, chatID)
	}
	if gen.calls != 2 {
		t.Errorf("generator calls = %d, want 2", gen.calls)
	}
	if ret.calls != 2 {
		t.Errorf("retriever calls = %d, want 2 (none on the hit)", ret.calls)
	}

	// Seed system message plus three user/model pairs, the hit included.
	msgs, err := hist.Fetch(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 7 {
		t.Fatalf("conversation length = %d, want 7", len(msgs))
	}
	var users, models int
	for _, m := range msgs[1:] {
		switch m.Role {
		case history.RoleUser:
			users++
		case history.RoleModel:
			models++
		}
	}
	if users != 3 || models != 3 {
		t.Errorf("turn roles = %d user / %d model, want 3 / 3", users, models)
	}

	// All three asks consumed the credential.
	rec, found, err := creds.Get(ctx, "tok")
	if err != nil || !found {
		t.Fatalf("Get: %v found=%v", err, found)
	}
	if rec.RequestCount != 3 {
		t.Errorf("credential request count = %d, want 3", rec.RequestCount)
	}
}

func TestRAGContextReachesGenerator(t *testing.T) {
	ret := &fakeRetriever{context: "doc snippet"}
	ragAgent, err := agent.New(agent.Config{Kind: agent.KindRAG, Topic: "billing", Retriever: ret})
	if err != nil {
		t.Fatal(err)
	}

	var seen generator.Request
	gen := &capturingGenerator{seen: &seen}
	p := newPipeline(t, Config{Agent: ragAgent, Generator: gen})

	if _, err := p.Handle(context.Background(), types.QueryRequest{Query: "why was I charged"}); err != nil {
		t.Fatal(err)
	}
	if ret.calls != 1 {
		t.Errorf("retriever calls = %d, want 1", ret.calls)
	}
	if seen.Context != "doc snippet" {
		t.Errorf("generator context = %q", seen.Context)
	}
}

func TestRetrievalFailureSurfaces(t *testing.T) {
	retErr := errors.New("vector store down")
	ragAgent, err := agent.New(agent.Config{Kind: agent.KindRAG, Topic: "billing", Retriever: &fakeRetriever{err: retErr}})
	if err != nil {
		t.Fatal(err)
	}
	gen := &fakeGenerator{}
	p := newPipeline(t, Config{Agent: ragAgent, Generator: gen})

	_, err = p.Handle(context.Background(), types.QueryRequest{Query: "hm"})
	if !errors.Is(err, retErr) {
		t.Fatalf("got %v, want the retriever error", err)
	}
	if gen.calls != 0 {
		t.Error("generator called despite retrieval failure")
	}
}

func TestCacheHitSkipsRetrieval(t *testing.T) {
	ret := &fakeRetriever{context: "snippet"}
	ragAgent, err := agent.New(agent.Config{Kind: agent.KindRAG, Topic: "docs", Retriever: ret})
	if err != nil {
		t.Fatal(err)
	}
	p := newPipeline(t, Config{
		Agent:     ragAgent,
		Generator: &fakeGenerator{},
		Cache:     CacheEnabled(cache.NewMemoryStore(1, time.Hour)),
	})
	ctx := context.Background()
	req := types.QueryRequest{Query: "stable question"}

	if _, err := p.Handle(ctx, req); err != nil { // admit
		t.Fatal(err)
	}
	resp, err := p.Handle(ctx, req) // hit
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached {
		t.Fatal("expected a cache hit")
	}
	if ret.calls != 1 {
		t.Errorf("retriever calls = %d, want 1 (none on the hit path)", ret.calls)
	}
}

func TestGenerationFailureWrapsSentinel(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("upstream 503")}
	p := newPipeline(t, Config{Generator: gen})

	_, err := p.Handle(context.Background(), types.QueryRequest{Query: "hi"})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("got %v, want ErrGeneration", err)
	}
}

func TestVerboseIncludesUsage(t *testing.T) {
	gen := &fakeGenerator{result: &generator.Result{
		Kind:  types.KindText,
		Text:  "ok",
		Usage: types.Usage{PromptTokens: 12, CompletionTokens: 7, TotalTokens: 19},
	}}
	p := newPipeline(t, Config{Generator: gen})
	ctx := context.Background()

	resp, err := p.Handle(ctx, types.QueryRequest{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage != nil {
		t.Error("usage reported without verbose")
	}

	resp, err = p.Handle(ctx, types.QueryRequest{Query: "q", Verbose: true})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 19 {
		t.Errorf("usage = %+v, want total 19", resp.Usage)
	}

	// An endpoint configured verbose reports usage without the request asking.
	always := newPipeline(t, Config{Generator: gen, Verbose: true})
	resp, err = always.Handle(ctx, types.QueryRequest{Query: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Usage == nil {
		t.Error("usage missing despite endpoint-level verbose")
	}
}

func TestMediaResponseShape(t *testing.T) {
	media := &types.Media{ContentType: "image/png", URL: "https://cdn.example.com/img.png"}
	gen := &fakeGenerator{result: &generator.Result{Kind: types.KindMedia, Media: media}}
	p := newPipeline(t, Config{
		Generator: gen,
		Kind:      types.KindMedia,
		Cache:     CacheEnabled(cache.NewMemoryStore(1, time.Hour)),
	})
	ctx := context.Background()
	req := types.QueryRequest{Query: "draw a cat"}

	resp, err := p.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Media == nil || resp.Media.URL != media.URL {
		t.Errorf("media = %+v", resp.Media)
	}

	// The cached hit reproduces the media payload.
	resp, err = p.Handle(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Cached || resp.Media == nil || resp.Media.URL != media.URL {
		t.Errorf("cached media = %+v (cached=%v)", resp.Media, resp.Cached)
	}
}

type capturingGenerator struct {
	seen *generator.Request
}

func (g *capturingGenerator) Generate(ctx context.Context, req generator.Request) (*generator.Result, error) {
	*g.seen = req
	return &generator.Result{Kind: req.Kind, Text: "captured"}, nil
}
