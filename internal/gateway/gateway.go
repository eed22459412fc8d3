// Package gateway is the Tool Gateway: the only code in the engine that
// talks to external services (search, fetch, chat, embed), per spec.md
// §4.4. Each contract is a narrow Go interface so the Pipeline Executor
// never imports a concrete HTTP client directly.
package gateway

import "context"

// SearchResult is one hit from a search adapter.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// Searcher discovers candidate URLs for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)
}

// FetchResult is the extracted content of one fetched page.
type FetchResult struct {
	URL     string
	Title   string
	Content string
	Status  int
}

// Fetcher retrieves and extracts the readable content of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatOptions bounds a single chat completion call.
type ChatOptions struct {
	MaxTokens   int
	Temperature float32
}

// ChatClient drives the Language-model service contract (spec.md §6).
type ChatClient interface {
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)
}

// Embedder drives the Embedding service contract (spec.md §6).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore indexes and queries embedded text for cross-job warm-start
// retrieval (spec.md's supplemented warm-notes feature).
type VectorStore interface {
	Index(ctx context.Context, id, text string, vector []float32, metadata map[string]string) error
	Query(ctx context.Context, vector []float32, k int) ([]VectorHit, error)
}

// VectorHit is one result from a VectorStore query.
type VectorHit struct {
	ID    string
	Score float64
}
