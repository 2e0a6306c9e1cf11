package retrieve

import (
	"github.com/nexusmem/graphrag/engine/store/graph"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/store/vector"
)

// merge combines the sub-query result sets into one (id, type, score,
// sources) list: an id seen by k sub-queries gets combined score
// Σ w_i·score_i, per spec.md's Hybrid Retrieval Engine merge rule.
// Graph hits carry no native relevance score, so they contribute their
// source weight at full strength (1.0) rather than a similarity number.
func merge(vecHits []vector.SearchResult, ftsHits []relational.FTSHit, graphEntities []graph.EntityNode, w Weights) []Hit {
	byID := make(map[string]*Hit)

	for _, v := range vecHits {
		h := get(byID, v.ID, kindFromMeta(v.Meta), v.Content)
		h.Score += w.Vector * float64(v.Score)
		h.Sources = appendSource(h.Sources, SourceVector)
		if h.Meta == nil {
			h.Meta = v.Meta
		}
	}

	for _, f := range ftsHits {
		h := get(byID, f.SourceID, f.Kind, f.Content)
		h.Score += w.FTS * f.Rank
		h.Sources = appendSource(h.Sources, SourceFTS)
	}

	for _, e := range graphEntities {
		h := get(byID, e.ID, "entity", e.Name)
		h.Score += w.Graph * 1.0
		h.Sources = appendSource(h.Sources, SourceGraph)
	}

	out := make([]Hit, 0, len(byID))
	for _, h := range byID {
		out = append(out, *h)
	}
	return out
}

func get(byID map[string]*Hit, id, typ, content string) *Hit {
	h, ok := byID[id]
	if !ok {
		h = &Hit{ID: id, Type: typ, Content: content}
		byID[id] = h
	}
	return h
}

func appendSource(sources []Source, s Source) []Source {
	for _, existing := range sources {
		if existing == s {
			return sources
		}
	}
	return append(sources, s)
}

func kindFromMeta(meta map[string]string) string {
	if meta == nil {
		return "memory"
	}
	if k, ok := meta["kind"]; ok && k != "" {
		return k
	}
	return "memory"
}
