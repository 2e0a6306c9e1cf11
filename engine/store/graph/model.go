// Package graph is the sole owner of all Neo4j operations: tenant-scoped
// MERGE-convergent writes for entities and relationships extracted during
// enrichment, plus the episode nodes those entities are linked back to.
package graph

// EntityNode is the graph-store projection of domain.Entity.
type EntityNode struct {
	ID        string
	TenantKey string
	Name      string
	Type      string
	Aliases   []string
}

// RelationshipEdge is the graph-store projection of domain.Relationship.
// Its identity is (source, target, type); re-extracting the same fact
// strengthens the edge's weight rather than duplicating it.
type RelationshipEdge struct {
	SourceID string
	TargetID string
	Type     string
	Weight   float64
	Fact     string
}

// EpisodeNode anchors the entities/facts derived from one memory write.
// EventType carries a caller-supplied episodeType override (spec.md
// §4.1's storeMemorySync `episodeType` field); empty means untyped.
type EpisodeNode struct {
	ID        string
	TenantKey string
	Summary   string
	EventType string
}
