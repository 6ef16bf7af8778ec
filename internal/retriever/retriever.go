// Package retriever defines the retrieval collaborator boundary: given a
// query, produce grounding context text. The core never implements retrieval
// itself.
package retriever

import "context"

// Retriever returns context text for a query. A failure is surfaced to the
// caller; an answer without the promised grounding would be misleading.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// Func adapts a plain function to the Retriever interface.
type Func func(ctx context.Context, query string) (string, error)

func (f Func) Retrieve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}
