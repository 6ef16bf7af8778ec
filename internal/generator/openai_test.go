package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/af-corp/conduit/internal/history"
	"github.com/af-corp/conduit/internal/types"
)

func chatServer(t *testing.T, content string, capture *chatRequestBody) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if capture != nil {
			json.NewDecoder(r.Body).Decode(capture)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
}

func TestClient_GenerateText(t *testing.T) {
	var captured chatRequestBody
	srv := chatServer(t, "the answer", &captured)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test-model"})
	result, err := client.Generate(context.Background(), Request{
		SystemPrompt: "You are helpful.",
		Query:        "what is the answer?",
		Kind:         types.KindText,
		History: []history.Message{
			{Role: history.RoleSystem, Content: "seed"},
			{Role: history.RoleUser, Content: "earlier question"},
			{Role: history.RoleModel, Content: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if result.Text != "the answer" {
		t.Errorf("Text = %q, want %q", result.Text, "the answer")
	}
	if result.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", result.Usage.TotalTokens)
	}

	// system + 2 history turns (seed system skipped) + query
	if len(captured.Messages) != 4 {
		t.Fatalf("expected 4 wire messages, got %d: %+v", len(captured.Messages), captured.Messages)
	}
	if captured.Messages[0].Role != "system" {
		t.Errorf("first message role = %s, want system", captured.Messages[0].Role)
	}
	if captured.Messages[2].Role != "assistant" {
		t.Errorf("model history role should map to assistant, got %s", captured.Messages[2].Role)
	}
	if captured.Messages[3].Content != "what is the answer?" {
		t.Errorf("last message should carry the query, got %q", captured.Messages[3].Content)
	}
}

func TestClient_GenerateStructured(t *testing.T) {
	var captured chatRequestBody
	srv := chatServer(t, `{"price": 42}`, &captured)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test-model"})
	result, err := client.Generate(context.Background(), Request{
		Query:  "price?",
		Kind:   types.KindStructured,
		Schema: json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if string(result.Output) != `{"price": 42}` {
		t.Errorf("Output = %s", result.Output)
	}
	if captured.ResponseFormat == nil || captured.ResponseFormat.Type != "json_schema" {
		t.Errorf("expected json_schema response format, got %+v", captured.ResponseFormat)
	}
}

func TestClient_GenerateStructured_InvalidJSON(t *testing.T) {
	srv := chatServer(t, "not json", nil)
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), Request{Query: "q", Kind: types.KindStructured})
	if err == nil {
		t.Fatal("invalid JSON for structured output should error")
	}
}

func TestClient_GenerateMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": "https://img.example/out.png"}},
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	result, err := client.Generate(context.Background(), Request{Query: "draw a cat", Kind: types.KindMedia})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if result.Media == nil || result.Media.URL != "https://img.example/out.png" {
		t.Errorf("Media = %+v", result.Media)
	}
	if result.Media.ContentType != "image/png" {
		t.Errorf("default content type = %s, want image/png", result.Media.ContentType)
	}
}

func TestClient_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := client.Generate(context.Background(), Request{Query: "q", Kind: types.KindText})
	if err == nil {
		t.Fatal("provider error should surface")
	}
}

func TestClient_CircuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL, CircuitFailureThreshold: 2})
	ctx := context.Background()

	client.Generate(ctx, Request{Query: "q", Kind: types.KindText})
	client.Generate(ctx, Request{Query: "q", Kind: types.KindText})

	_, err := client.Generate(ctx, Request{Query: "q", Kind: types.KindText})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen after threshold failures, got %v", err)
	}
}

func TestResult_Body(t *testing.T) {
	text := &Result{Kind: types.KindText, Text: "hello"}
	if text.Body() != "hello" {
		t.Errorf("text body = %q", text.Body())
	}

	structured := &Result{Kind: types.KindStructured, Output: json.RawMessage(`{"a":1}`)}
	if structured.Body() != `{"a":1}` {
		t.Errorf("structured body = %q", structured.Body())
	}
}
