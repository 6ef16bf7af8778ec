package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/af-corp/conduit/internal/retriever"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"open", Config{Kind: KindOpen}, nil},
		{"closed with topic", Config{Kind: KindClosed, Topic: "billing"}, nil},
		{"closed without topic", Config{Kind: KindClosed}, ErrTopicRequired},
		{"rag without topic", Config{Kind: KindRAG, StaticContext: "ctx"}, ErrTopicRequired},
		{"rag with static context", Config{Kind: KindRAG, Topic: "billing", StaticContext: "ctx"}, nil},
		{"rag without context source", Config{Kind: KindRAG, Topic: "billing"}, ErrContextSourceRequired},
		{"unknown kind", Config{Kind: "mystery"}, ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_RAGWithRetriever(t *testing.T) {
	r := retriever.Func(func(ctx context.Context, q string) (string, error) { return "found", nil })
	a, err := New(Config{Kind: KindRAG, Topic: "pricing", Retriever: r})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := a.Context(context.Background(), "price?")
	if err != nil || got != "found" {
		t.Errorf("Context = (%q, %v)", got, err)
	}
}

func TestContext_RetrievalFailureSurfaces(t *testing.T) {
	r := retriever.Func(func(ctx context.Context, q string) (string, error) {
		return "", errors.New("index down")
	})
	a, _ := New(Config{Kind: KindRAG, Topic: "pricing", Retriever: r})

	if _, err := a.Context(context.Background(), "q"); err == nil {
		t.Fatal("retrieval failure must surface as an error")
	}
}

func TestContext_NonRAGIsEmpty(t *testing.T) {
	a, _ := New(Config{Kind: KindOpen})
	got, err := a.Context(context.Background(), "q")
	if err != nil || got != "" {
		t.Errorf("open agent Context = (%q, %v), want empty", got, err)
	}
}

func TestSystemPrompt_Variants(t *testing.T) {
	open, _ := New(Config{Kind: KindOpen})
	closed, _ := New(Config{Kind: KindClosed, Topic: "billing"})
	rag, _ := New(Config{Kind: KindRAG, Topic: "billing", StaticContext: "ctx"})

	if open.SystemPrompt() == closed.SystemPrompt() {
		t.Error("open and closed variants should select different prompts")
	}
	if !strings.Contains(closed.SystemPrompt(), "billing") {
		t.Error("closed prompt should carry the topic")
	}
	if !strings.Contains(rag.SystemPrompt(), "context") {
		t.Error("rag prompt should instruct grounding in context")
	}
}

func TestParseKind(t *testing.T) {
	if k, ok := ParseKind("rag"); !ok || k != KindRAG {
		t.Errorf("ParseKind(rag) = (%v, %v)", k, ok)
	}
	if _, ok := ParseKind("nope"); ok {
		t.Error("ParseKind should reject unknown kinds")
	}
}
