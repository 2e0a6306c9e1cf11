// Package llm defines the capability interfaces the enrichment pipeline,
// triage classifier, and retrieval engine depend on, and ships the
// concrete backends that satisfy them: a local Ollama embedder/reranker
// and an optional Anthropic-backed extractor/summarizer/triage classifier.
// Every capability has a heuristic fallback so the system degrades to
// store-only behavior rather than failing closed when no model backend
// is configured.
package llm

import "context"

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ScoredCandidate is a rerank input/output pairing.
type ScoredCandidate struct {
	ID    string
	Text  string
	Score float64
}

// Reranker reorders retrieval candidates against a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ScoredCandidate) ([]ScoredCandidate, error)
}

// ExtractedEntity is an entity mention found in a piece of content.
type ExtractedEntity struct {
	Name    string
	Type    string
	Aliases []string
}

// ExtractedFact is a relationship mention found in a piece of content.
type ExtractedFact struct {
	Source string
	Target string
	Type   string
	Fact   string
	Weight float64
}

// EntityExtractor pulls named entities out of content during enrichment.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, content string) ([]ExtractedEntity, error)
}

// FactExtractor pulls entity relationships out of content during enrichment.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, content string) ([]ExtractedFact, error)
}

// Summarizer condenses content for episode summaries used by the graph store.
type Summarizer interface {
	Summarize(ctx context.Context, content string) (string, error)
}

// TriageResult is the Triage Classifier's decision plus its confidence.
type TriageResult struct {
	Decision   string
	Confidence float64
	Reason     string
}

// Triage decides how aggressively a memory write should be enriched.
type Triage interface {
	Classify(ctx context.Context, content string) (TriageResult, error)
}
