// Package triage implements the Triage Classifier (C3): it decides, at
// write time, how aggressively a memory should be enriched downstream —
// stored as-is, fanned out for entity extraction, or treated as an
// episodic event worth its own graph node.
package triage

import (
	"context"
	"fmt"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/pkg/llm"
)

// Classifier decides a domain.TriageDecision for a piece of content.
type Classifier struct {
	backend llm.Triage
}

// New creates a Classifier. backend may be the heuristic-only
// llm.HeuristicTriage or a model-backed implementation; both satisfy
// llm.Triage so the classifier itself carries no model-specific logic.
func New(backend llm.Triage) *Classifier {
	return &Classifier{backend: backend}
}

// Decide classifies content and validates the result against the known
// TriageDecision enum before handing it back to the router.
func (c *Classifier) Decide(ctx context.Context, content string) (domain.TriageDecision, float64, error) {
	result, err := c.backend.Classify(ctx, content)
	if err != nil {
		return "", 0, fmt.Errorf("triage: classify: %w", err)
	}
	decision := domain.TriageDecision(result.Decision)
	if err := domain.ValidateTriageDecision(decision); err != nil {
		// A backend returning an unrecognized label degrades to the safest
		// option rather than propagating a bad enum value downstream.
		return domain.TriageStoreOnly, result.Confidence, nil
	}
	return decision, result.Confidence, nil
}
