package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/pkg/llm"
)

type fakeTriage struct {
	result llm.TriageResult
	err    error
}

func (f fakeTriage) Classify(_ context.Context, _ string) (llm.TriageResult, error) {
	return f.result, f.err
}

func TestDecideReturnsBackendDecision(t *testing.T) {
	c := New(fakeTriage{result: llm.TriageResult{Decision: "extract_entities", Confidence: 0.9}})
	decision, confidence, err := c.Decide(context.Background(), "Acme Corp signed with Globex Inc")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != domain.TriageExtractEntities {
		t.Fatalf("expected extract_entities, got %s", decision)
	}
	if confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", confidence)
	}
}

func TestDecideDegradesUnrecognizedDecisionToStoreOnly(t *testing.T) {
	c := New(fakeTriage{result: llm.TriageResult{Decision: "delete_everything", Confidence: 0.8}})
	decision, confidence, err := c.Decide(context.Background(), "anything")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != domain.TriageStoreOnly {
		t.Fatalf("expected degraded store_only for unrecognized decision, got %s", decision)
	}
	if confidence != 0.8 {
		t.Fatalf("expected backend confidence preserved through degrade, got %v", confidence)
	}
}

func TestDecidePropagatesBackendError(t *testing.T) {
	c := New(fakeTriage{err: errors.New("backend unavailable")})
	_, _, err := c.Decide(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected error from failing backend")
	}
}

func TestDecideWithHeuristicBackend(t *testing.T) {
	c := New(llm.HeuristicTriage{})
	decision, _, err := c.Decide(context.Background(), "hi")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision != domain.TriageStoreOnly {
		t.Fatalf("expected store_only for short content, got %s", decision)
	}
}
