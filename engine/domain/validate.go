package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// MaxPayloadBytes is the largest raw content body accepted on ingest.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// ComputeContentHash derives the idempotency fingerprint for a piece of
// content scoped to a tenant: re-submitting the same content under the
// same tenant triple resolves to the same Memory instead of duplicating it.
func ComputeContentHash(tenant Tenant, content string) string {
	h := sha256.New()
	h.Write([]byte(tenant.Key()))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateContent rejects empty or oversized payloads.
func ValidateContent(content string) error {
	if content == "" {
		return NewValidationError("content", "", ErrMissingContent)
	}
	if len(content) > MaxPayloadBytes {
		return NewValidationError("content", "", ErrPayloadTooLarge)
	}
	return nil
}

// ValidTriageDecisions lists the enum values accepted from the Triage
// Classifier (C3) and from any manual override in an ingest request.
var ValidTriageDecisions = map[TriageDecision]bool{
	TriageStoreOnly:       true,
	TriageExtractEntities: true,
	TriageEpisodic:        true,
}

// ValidateTriageDecision checks an enum value against the known set.
func ValidateTriageDecision(d TriageDecision) error {
	if !ValidTriageDecisions[d] {
		return NewValidationError("triageDecision", string(d), ErrInvalidEnum)
	}
	return nil
}

// ValidRetrievalStrategies lists the strategy names the Hybrid Retrieval
// Engine (C10) accepts in a query request.
var ValidRetrievalStrategies = map[string]bool{
	"semantic_chunks": true,
	"graph_traversal": true,
	"hybrid":          true,
	"adaptive":        true,
}

// ValidateRetrievalStrategy checks a requested strategy name.
func ValidateRetrievalStrategy(s string) error {
	if s == "" {
		return nil
	}
	if !ValidRetrievalStrategies[s] {
		return NewValidationError("strategy", s, ErrInvalidStrategy)
	}
	return nil
}

// ValidReconcileStrategies lists the State Reconciler resolution policies.
var ValidReconcileStrategies = map[ReconcileStrategy]bool{
	ReconcileRepositoryFirst: true,
	ReconcileMemoryFirst:     true,
	ReconcileVersionBased:    true,
	ReconcileStatusBased:     true,
}

// ValidateReconcileStrategy checks an enum value against the known set.
func ValidateReconcileStrategy(s ReconcileStrategy) error {
	if !ValidReconcileStrategies[s] {
		return NewValidationError("reconcileStrategy", string(s), ErrInvalidEnum)
	}
	return nil
}

// ValidateQuery rejects an empty retrieval query string.
func ValidateQuery(q string) error {
	if q == "" {
		return NewValidationError("query", "", ErrMissingQuery)
	}
	return nil
}
