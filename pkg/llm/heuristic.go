package llm

import (
	"context"
	"strings"
	"unicode"
)

// HeuristicEntityExtractor finds capitalized-word runs as a no-model
// fallback for ExtractEntities.
type HeuristicEntityExtractor struct{}

func (HeuristicEntityExtractor) ExtractEntities(_ context.Context, content string) ([]ExtractedEntity, error) {
	var out []ExtractedEntity
	seen := map[string]bool{}
	words := strings.Fields(content)
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		if !seen[name] {
			seen[name] = true
			out = append(out, ExtractedEntity{Name: name, Type: string(entityMisc)})
		}
		run = nil
	}
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if trimmed == "" {
			flush()
			continue
		}
		if unicode.IsUpper(rune(trimmed[0])) {
			run = append(run, trimmed)
		} else {
			flush()
		}
	}
	flush()
	return out, nil
}

const entityMisc = "misc"

// HeuristicSummarizer truncates to the first sentence as a no-model
// fallback for Summarize.
type HeuristicSummarizer struct{}

func (HeuristicSummarizer) Summarize(_ context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if i := strings.IndexAny(content, ".!?"); i >= 0 && i < 280 {
		return content[:i+1], nil
	}
	if len(content) > 280 {
		return content[:280] + "...", nil
	}
	return content, nil
}

// HeuristicFactExtractor pairs adjacent entities found by
// HeuristicEntityExtractor into a generic "mentioned_with" relationship,
// a no-model fallback for ExtractFacts.
type HeuristicFactExtractor struct{}

func (HeuristicFactExtractor) ExtractFacts(ctx context.Context, content string) ([]ExtractedFact, error) {
	entities, err := HeuristicEntityExtractor{}.ExtractEntities(ctx, content)
	if err != nil || len(entities) < 2 {
		return nil, err
	}
	var out []ExtractedFact
	for i := 0; i < len(entities)-1; i++ {
		out = append(out, ExtractedFact{
			Source: entities[i].Name, Target: entities[i+1].Name,
			Type: "mentioned_with", Fact: "co-occur in the same content", Weight: 0.4,
		})
	}
	return out, nil
}

// HeuristicTriage classifies by content length and capitalized-entity
// density as a no-model fallback for Classify.
type HeuristicTriage struct{}

func (HeuristicTriage) Classify(ctx context.Context, content string) (TriageResult, error) {
	entities, _ := HeuristicEntityExtractor{}.ExtractEntities(ctx, content)
	switch {
	case len(content) < 40:
		return TriageResult{Decision: "store_only", Confidence: 0.6, Reason: "content too short to enrich"}, nil
	case len(entities) >= 2:
		return TriageResult{Decision: "extract_entities", Confidence: 0.55, Reason: "multiple capitalized entities detected"}, nil
	default:
		return TriageResult{Decision: "episodic", Confidence: 0.5, Reason: "default episodic classification"}, nil
	}
}
