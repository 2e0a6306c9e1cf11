// Package embed is the Embedding & Rerank Client (C2): it wraps a
// pkg/llm.Embedder with a content-hash-keyed cache so repeated writes of
// the same content never re-embed, and exposes the single Embed/EmbedBatch
// surface the router and retrieval engine call against.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/store/cache"
	"github.com/nexusmem/graphrag/pkg/llm"
	"github.com/nexusmem/graphrag/pkg/resilience"
)

// defaultTTL is how long a cached embedding is trusted before re-computing,
// long enough to absorb retry storms without going stale against a model
// upgrade for more than a day.
const defaultTTL = 24 * time.Hour

// breakerOpts trips the embedding circuit after 5 consecutive failures and
// probes again after 30s, the same defaults pkg/resilience ships.
var breakerOpts = resilience.DefaultBreakerOpts

// Client is the cached embedding pipeline, guarded by a circuit breaker so
// a failing embedding backend fails fast instead of piling up latency.
type Client struct {
	embedder llm.Embedder
	cache    *cache.Store
	breaker  *resilience.Breaker
	ttl      time.Duration
}

// New creates a Client. cache may be nil to disable caching (tests, or a
// deployment with no Redis available — embeds still work, just uncached).
func New(embedder llm.Embedder, store *cache.Store) *Client {
	return &Client{embedder: embedder, cache: store, breaker: resilience.NewBreaker(breakerOpts), ttl: defaultTTL}
}

// Dimensions reports the embedder's vector width.
func (c *Client) Dimensions() int { return c.embedder.Dimensions() }

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the cached embedding for text if present, otherwise calls
// the backing embedder and populates the cache.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := textKey(text)
	if c.cache != nil {
		if v, found, err := c.cache.GetEmbedding(ctx, key); err == nil && found {
			return v, nil
		}
	}
	var vec []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("embed: %w", domain.ErrEmbeddingDown)
		}
		return nil, fmt.Errorf("embed: %w", err)
	}
	if c.cache != nil {
		_ = c.cache.PutEmbedding(ctx, key, vec, c.ttl)
	}
	return vec, nil
}

// EmbedBatch embeds a slice of texts, serving cached hits individually and
// batching only the misses through the backing embedder.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		if c.cache == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, t)
			continue
		}
		v, found, err := c.cache.GetEmbedding(ctx, textKey(t))
		if err == nil && found {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	var vecs [][]float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := c.embedder.EmbedBatch(ctx, missTexts)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("embed: batch: %w", domain.ErrEmbeddingDown)
		}
		return nil, fmt.Errorf("embed: batch: %w", err)
	}
	for j, idx := range missIdx {
		out[idx] = vecs[j]
		if c.cache != nil {
			_ = c.cache.PutEmbedding(ctx, textKey(missTexts[j]), vecs[j], c.ttl)
		}
	}
	return out, nil
}

// Rerank delegates to a reranker when one is wired in front of this
// client's embedder stack (OllamaEmbedder's sibling reranker, or the
// heuristic fallback); callers that only need embeddings can ignore it.
type RerankingClient struct {
	*Client
	reranker llm.Reranker
}

// NewReranking wraps a Client with reranking support.
func NewReranking(embedder llm.Embedder, reranker llm.Reranker, store *cache.Store) *RerankingClient {
	return &RerankingClient{Client: New(embedder, store), reranker: reranker}
}

// Rerank reorders candidates against the query using the wrapped reranker.
func (c *RerankingClient) Rerank(ctx context.Context, query string, candidates []llm.ScoredCandidate) ([]llm.ScoredCandidate, error) {
	reranked, err := c.reranker.Rerank(ctx, query, candidates)
	if err != nil {
		return nil, fmt.Errorf("embed: rerank: %w", err)
	}
	return reranked, nil
}
