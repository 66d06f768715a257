// Package ports declares the interfaces the core consumes but does not
// implement: rate limiting, search indexing, LLM classification, and audit
// logging. Concrete adapters (HTTP clients, external services) live outside
// this module; the core only depends on these shapes.
package ports

import "context"

// RateLimitDecision is the result of a RateLimiter.Check call.
type RateLimitDecision struct {
	Allowed    bool
	RetryAfter int // seconds, meaningful only when !Allowed
}

// RateLimiter accounts leaky/fixed-window budgets keyed by an arbitrary
// string (e.g. a peer or pubkey identity).
type RateLimiter interface {
	Check(ctx context.Context, key string, limit int, windowSeconds int) (RateLimitDecision, error)
}

// SearchDocument is one per-topic indexed document, materialized by the
// index worker from an accepted event.
type SearchDocument struct {
	EventID   string
	TopicID   string
	Kind      int
	Author    string
	CreatedAt int64
	Title     string
	Summary   string
	Content   string
	Tags      []string
}

// IndexSettings configures a topic index on first touch.
type IndexSettings struct {
	SearchableAttributes []string
	FilterableAttributes []string
	SortableAttributes   []string
}

// SearchSink is the per-topic document store backing the index worker.
type SearchSink interface {
	EnsureIndex(ctx context.Context, uid string, pkName string, settings *IndexSettings) error
	UpsertDocuments(ctx context.Context, uid string, docs []SearchDocument) error
	DeleteDocument(ctx context.Context, uid string, id string) error
	DeleteDocuments(ctx context.Context, uid string, ids []string) error
	DeleteAllDocuments(ctx context.Context, uid string) error
}

// LlmClassifyRequest carries the (already truncated/masked) content an LLM
// provider is asked to classify.
type LlmClassifyRequest struct {
	EventID string
	Kind    int
	Content string
}

// LlmClassifyResult is the provider's verdict, or nil if it declined to
// label the content.
type LlmClassifyResult struct {
	Label      string
	Confidence *float64
}

// LlmProvider performs the optional, budget-gated content classification
// step of the moderation pipeline.
type LlmProvider interface {
	Classify(ctx context.Context, req LlmClassifyRequest) (*LlmClassifyResult, error)
}

// AuditLog records moderation/trust side effects for later review.
type AuditLog interface {
	Append(ctx context.Context, actor, action, target string, diff map[string]any, requestID string) error
}
