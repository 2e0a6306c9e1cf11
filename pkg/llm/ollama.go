package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nexusmem/graphrag/pkg/resilience"
)

// OllamaEmbedder implements Embedder against a local Ollama server,
// guarded by a circuit breaker so a wedged model server degrades the
// caller to its heuristic fallback instead of hanging every request.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
	breaker *resilience.Breaker
}

// NewOllamaEmbedder creates an Ollama-backed embedder.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

func (c *OllamaEmbedder) Dimensions() int { return c.dims }

type ollamaEmbedReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResp struct {
	Embedding []float64 `json:"embedding"`
}

func (c *OllamaEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedReq{Model: c.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama embed: status %d", resp.StatusCode)
	}

	var result ollamaEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ollama embed decode: %w", err)
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// Embed implements Embedder.
func (c *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		v, err := c.embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// EmbedBatch implements Embedder.
func (c *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// HeuristicReranker reorders candidates by lexical overlap with the query
// when no dedicated rerank model is configured.
type HeuristicReranker struct{}

// Rerank implements Reranker using a simple token-overlap score.
func (HeuristicReranker) Rerank(_ context.Context, query string, candidates []ScoredCandidate) ([]ScoredCandidate, error) {
	qTokens := tokenSet(query)
	scored := make([]ScoredCandidate, len(candidates))
	copy(scored, candidates)
	for i, c := range scored {
		overlap := 0
		for t := range tokenSet(c.Text) {
			if qTokens[t] {
				overlap++
			}
		}
		scored[i].Score = c.Score + float64(overlap)
	}
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	return scored, nil
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				set[s[start:i]] = true
			}
			start = i + 1
		}
	}
	return set
}
