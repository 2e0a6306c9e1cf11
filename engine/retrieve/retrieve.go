// Package retrieve implements the Hybrid Retrieval Engine (C10): a
// fan-out-and-merge query path over the vector, full-text, metadata, and
// graph sub-queries, optionally reranked, grounded on the teacher's
// engine/rag.Service pipeline (embed -> search -> enrich -> assemble)
// generalized from a single Qdrant collection + chat-completion shape to
// a weighted multi-source merge with no generation step of its own.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/embed"
	"github.com/nexusmem/graphrag/engine/store/graph"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/store/vector"
	"github.com/nexusmem/graphrag/pkg/llm"
)

// defaultDeadline bounds the whole fan-out; a straggling sub-query is
// cancelled and its absence just narrows the merged result, per spec.
const defaultDeadline = 30 * time.Second

// graphExpandDepth bounds graph-traversal hops from the seed entities.
const graphExpandDepth = 2

// Source names the sub-query that contributed a hit.
type Source string

const (
	SourceVector   Source = "vector"
	SourceFTS      Source = "fts"
	SourceMetadata Source = "metadata"
	SourceGraph    Source = "graph"
)

// Weights are strategy-configurable per-source contributions to the
// combined score.
type Weights struct {
	Vector   float64
	FTS      float64
	Metadata float64
	Graph    float64
}

// defaultHybridWeights is spec.md's hybrid strategy default split.
var defaultHybridWeights = Weights{Vector: 0.55, FTS: 0.30, Metadata: 0.15}

// Request is one retrieval call.
type Request struct {
	Tenant      domain.Tenant
	Query       string
	Strategy    string // semantic_chunks | graph_traversal | hybrid | adaptive
	Filter      map[string]string
	Limit       int
	Offset      int
	Rerank      bool
	Collections []string // vector collections to search, defaults to "memories"
}

// Hit is one merged result.
type Hit struct {
	ID      string
	Type    string // memory | chunk | entity
	Content string
	Score   float64
	Sources []Source
	Meta    map[string]string
}

// Deps are the Engine's collaborators.
type Deps struct {
	Vector   map[string]*vector.Store // collection name -> store
	FTS      *relational.FTS
	Graph    *graph.Store
	Embedder *embed.Client
	Reranker *embed.RerankingClient
	Logger   *slog.Logger
}

// Engine is the Hybrid Retrieval Engine.
type Engine struct {
	deps Deps
	log  *slog.Logger
}

// New creates an Engine.
func New(deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{deps: deps, log: log}
}

// Retrieve runs req's strategy and returns the merged, optionally
// reranked, result set.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]Hit, error) {
	if err := domain.ValidateQuery(req.Query); err != nil {
		return nil, err
	}
	if err := domain.ValidateRetrievalStrategy(req.Strategy); err != nil {
		return nil, err
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = "hybrid"
	}
	if strategy == "adaptive" {
		strategy = adapt(req.Query)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultDeadline)
	defer cancel()

	weights := weightsFor(strategy)

	var (
		vecHits      []vector.SearchResult
		ftsHits      []relational.FTSHit
		graphEntities []graph.EntityNode
		anyOK        bool
	)

	g, gctx := errgroup.WithContext(ctx)

	if strategy == "semantic_chunks" || strategy == "hybrid" {
		g.Go(func() error {
			vec, err := e.deps.Embedder.Embed(gctx, req.Query)
			if err != nil {
				e.log.Warn("retrieve: query embed failed", "error", err)
				return nil
			}
			hits, err := e.searchVector(gctx, req, vec)
			if err != nil {
				e.log.Warn("retrieve: vector sub-query failed", "error", err)
				return nil
			}
			vecHits = hits
			anyOK = anyOK || len(hits) > 0
			return nil
		})
	}

	if strategy == "hybrid" {
		g.Go(func() error {
			hits, err := e.deps.FTS.Search(gctx, req.Tenant, req.Query, req.Limit*2)
			if err != nil {
				e.log.Warn("retrieve: fts sub-query failed", "error", err)
				return nil
			}
			ftsHits = hits
			anyOK = anyOK || len(hits) > 0
			return nil
		})
	}

	if strategy == "graph_traversal" || strategy == "hybrid" {
		g.Go(func() error {
			entities, err := e.searchGraph(gctx, req)
			if err != nil {
				if strategy == "graph_traversal" {
					return fmt.Errorf("retrieve: graph sub-query: %w", err)
				}
				e.log.Warn("retrieve: graph sub-query failed", "error", err)
				return nil
			}
			graphEntities = entities
			anyOK = anyOK || len(entities) > 0
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !anyOK {
		return nil, fmt.Errorf("retrieve: %w", domain.ErrNoBackends)
	}

	merged := merge(vecHits, ftsHits, graphEntities, weights)

	if req.Rerank && e.deps.Reranker != nil && hasSource(merged, SourceVector) {
		merged = e.rerank(ctx, req.Query, merged, req.Limit)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return len(merged[i].Sources) > len(merged[j].Sources)
	})

	return paginate(merged, req.Limit, req.Offset), nil
}

func (e *Engine) searchVector(ctx context.Context, req Request, vec []float32) ([]vector.SearchResult, error) {
	collections := req.Collections
	if len(collections) == 0 {
		collections = []string{"memories"}
	}
	var out []vector.SearchResult
	for _, name := range collections {
		store, ok := e.deps.Vector[name]
		if !ok {
			continue
		}
		hits, err := store.SearchFiltered(ctx, req.Tenant, vec, req.Limit*2, req.Filter)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", name, err)
		}
		out = append(out, hits...)
	}
	return out, nil
}

// searchGraph seeds from entities named in the query and expands
// graphExpandDepth hops, the graph-store analogue of engine/rag.go's
// enrichWithGraph keyword extraction.
func (e *Engine) searchGraph(ctx context.Context, req Request) ([]graph.EntityNode, error) {
	if e.deps.Graph == nil {
		return nil, fmt.Errorf("graph store not configured")
	}
	keywords := extractKeywords(req.Query)
	var out []graph.EntityNode
	seen := map[string]bool{}
	for _, kw := range keywords {
		seed, found, err := e.deps.Graph.EntityByName(ctx, req.Tenant.Key(), kw)
		if err != nil || !found {
			continue
		}
		if !seen[seed.ID] {
			seen[seed.ID] = true
			out = append(out, seed)
		}
		neighbors, err := e.deps.Graph.Neighbors(ctx, req.Tenant.Key(), seed.ID, graphExpandDepth)
		if err != nil {
			continue
		}
		for _, n := range neighbors {
			if !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	return out, nil
}

// rerank calls the reranker over the top-R merged hits (spec.md default
// 2*limit, capped 50) and replaces their scores with the rerank scores,
// leaving hits outside that window at their merged score.
func (e *Engine) rerank(ctx context.Context, query string, hits []Hit, limit int) []Hit {
	r := 2 * limit
	if r > 50 {
		r = 50
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	window := hits
	if len(window) > r {
		window = window[:r]
	}
	candidates := make([]llm.ScoredCandidate, len(window))
	for i, h := range window {
		candidates[i] = llm.ScoredCandidate{ID: h.ID, Text: h.Content, Score: h.Score}
	}
	reranked, err := e.deps.Reranker.Rerank(ctx, query, candidates)
	if err != nil {
		e.log.Warn("retrieve: rerank failed, keeping merged scores", "error", err)
		return hits
	}
	scoreByID := make(map[string]float64, len(reranked))
	for _, c := range reranked {
		scoreByID[c.ID] = c.Score
	}
	for i := range hits {
		if s, ok := scoreByID[hits[i].ID]; ok {
			hits[i].Score = s
		}
	}
	return hits
}

func hasSource(hits []Hit, s Source) bool {
	for _, h := range hits {
		for _, hs := range h.Sources {
			if hs == s {
				return true
			}
		}
	}
	return false
}

func weightsFor(strategy string) Weights {
	switch strategy {
	case "semantic_chunks":
		return Weights{Vector: 1}
	case "graph_traversal":
		return Weights{Graph: 1}
	default:
		return defaultHybridWeights
	}
}

// adapt inspects the query shape and picks the concrete strategy an
// "adaptive" request resolves to: quoted phrases favor full-text-capable
// hybrid search, short queries with no quotes favor pure vector search.
func adapt(query string) string {
	if strings.Contains(query, `"`) {
		return "hybrid"
	}
	if len(strings.Fields(query)) <= 3 {
		return "semantic_chunks"
	}
	return "hybrid"
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "of": true,
	"in": true, "for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "to": true, "and": true, "or": true, "what": true,
	"how": true, "when": true, "where": true, "who": true, "which": true,
}

func extractKeywords(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	var out []string
	for _, w := range words {
		w = strings.Trim(w, `?.,!;:'"`)
		if len(w) > 2 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

func paginate(hits []Hit, limit, offset int) []Hit {
	if offset >= len(hits) {
		return []Hit{}
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}
