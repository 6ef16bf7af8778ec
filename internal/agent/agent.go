// Package agent selects the response-generation variant for an endpoint:
// open-ended, closed-ended (topic-restricted), or retrieval-augmented. The
// agent owns system-prompt selection; the pipeline owns orchestration around
// it.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/af-corp/conduit/internal/retriever"
)

// Kind of agent variant.
type Kind string

const (
	KindOpen   Kind = "open"
	KindClosed Kind = "closed"
	KindRAG    Kind = "rag"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindOpen, KindClosed, KindRAG:
		return Kind(s), true
	default:
		return "", false
	}
}

var (
	ErrTopicRequired = errors.New("agent: topic is required for this agent type")

	// ErrContextSourceRequired is raised at build time when a RAG agent has
	// neither a retriever nor a static context string, caught before any
	// generation cost is incurred.
	ErrContextSourceRequired = errors.New("agent: rag agent requires a retriever or a context string")

	ErrUnknownKind = errors.New("agent: unknown agent kind")
)

// Config declares the agent variant for one endpoint.
type Config struct {
	Kind  Kind
	Topic string

	// StaticContext grounds a RAG agent without a retrieval service.
	StaticContext string

	// Retriever produces context per query. Exactly one of Retriever or
	// StaticContext is used when Kind is rag.
	Retriever retriever.Retriever
}

// Agent is an immutable, validated variant selection.
type Agent struct {
	kind          Kind
	topic         string
	staticContext string
	retriever     retriever.Retriever
}

// New validates the configuration and builds an agent. Closed and RAG agents
// require a topic; RAG agents additionally require a context source.
func New(cfg Config) (*Agent, error) {
	switch cfg.Kind {
	case KindOpen:
	case KindClosed:
		if cfg.Topic == "" {
			return nil, ErrTopicRequired
		}
	case KindRAG:
		if cfg.Topic == "" {
			return nil, ErrTopicRequired
		}
		if cfg.Retriever == nil && cfg.StaticContext == "" {
			return nil, ErrContextSourceRequired
		}
	default:
		return nil, ErrUnknownKind
	}

	return &Agent{
		kind:          cfg.Kind,
		topic:         cfg.Topic,
		staticContext: cfg.StaticContext,
		retriever:     cfg.Retriever,
	}, nil
}

func (a *Agent) Kind() Kind { return a.kind }

// Grounded reports whether this agent injects retrieval context.
func (a *Agent) Grounded() bool { return a.kind == KindRAG }

// SystemPrompt returns the variant's system prompt. It is selected once per
// conversation; the pipeline stores it as the seed system message at
// conversation creation and never regenerates it on the cache-hit path.
func (a *Agent) SystemPrompt() string {
	switch a.kind {
	case KindClosed:
		return fmt.Sprintf("You are a helpful assistant restricted to the topic of %s. Politely decline to answer questions outside this topic.", a.topic)
	case KindRAG:
		return fmt.Sprintf("You are a helpful assistant answering questions about %s. Ground every answer in the provided context. If the context does not contain the answer, say you do not know.", a.topic)
	default:
		return "You are a helpful assistant. Answer the user's questions conversationally."
	}
}

// Context produces grounding context for a query. Non-RAG agents return the
// empty string without invoking anything.
func (a *Agent) Context(ctx context.Context, query string) (string, error) {
	if a.kind != KindRAG {
		return "", nil
	}
	if a.retriever != nil {
		text, err := a.retriever.Retrieve(ctx, query)
		if err != nil {
			return "", fmt.Errorf("agent: retrieve context: %w", err)
		}
		return text, nil
	}
	return a.staticContext, nil
}
