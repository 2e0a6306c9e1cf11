package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// Store provides tenant-scoped graph operations over Neo4j.
type Store struct {
	opener opener
}

// New creates a Store backed by a live Neo4j driver.
func New(driver neo4j.DriverWithContext) *Store {
	return &Store{opener: &driverOpener{driver: driver}}
}

// newWithOpener is used by tests to inject a fake opener.
func newWithOpener(o opener) *Store {
	return &Store{opener: o}
}

// UpsertEpisode creates or updates the episode node a memory write is
// enriched into.
func (s *Store) UpsertEpisode(ctx context.Context, e EpisodeNode) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (ep:Episode {id: $id})
	SET ep.tenant_key = $tenantKey, ep.summary = $summary, ep.event_type = $eventType`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": e.ID, "tenantKey": e.TenantKey, "summary": e.Summary, "eventType": e.EventType,
	})
	if err != nil {
		return fmt.Errorf("graph: upsert episode %s: %w", e.ID, err)
	}
	return nil
}

// UpsertEntity MERGE-converges an entity node: a re-extraction of the same
// name bumps mention_count instead of creating a duplicate node.
func (s *Store) UpsertEntity(ctx context.Context, n EntityNode) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (e:Entity {id: $id})
	           ON CREATE SET e.tenant_key = $tenantKey, e.name = $name, e.type = $type, e.aliases = $aliases, e.mention_count = 1
	           ON MATCH SET e.mention_count = e.mention_count + 1`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"id": n.ID, "tenantKey": n.TenantKey, "name": n.Name, "type": n.Type, "aliases": n.Aliases,
	})
	if err != nil {
		return fmt.Errorf("graph: upsert entity %s: %w", n.ID, err)
	}
	return nil
}

// LinkEntityToEpisode records that an entity was mentioned in an episode.
func (s *Store) LinkEntityToEpisode(ctx context.Context, entityID, episodeID string) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (e:Entity {id: $eID}), (ep:Episode {id: $epID})
	           MERGE (e)-[:MENTIONS]->(ep)`
	_, err := sess.Run(ctx, cypher, map[string]any{"eID": entityID, "epID": episodeID})
	if err != nil {
		return fmt.Errorf("graph: link entity %s to episode %s: %w", entityID, episodeID, err)
	}
	return nil
}

// UpsertRelationship MERGE-converges a relationship edge keyed on
// (source, target, type): re-extracting the same fact strengthens its
// weight (capped at 1.0) rather than duplicating the edge.
func (s *Store) UpsertRelationship(ctx context.Context, r RelationshipEdge) error {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Entity {id: $sourceID}), (b:Entity {id: $targetID})
	           MERGE (a)-[rel:RELATES_TO {type: $relType}]->(b)
	           ON CREATE SET rel.weight = $weight, rel.fact = $fact
	           ON MATCH SET rel.weight = CASE WHEN rel.weight + $weight > 1.0 THEN 1.0 ELSE rel.weight + $weight END, rel.fact = $fact`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"sourceID": r.SourceID, "targetID": r.TargetID, "relType": r.Type, "weight": r.Weight, "fact": r.Fact,
	})
	if err != nil {
		return fmt.Errorf("graph: upsert relationship %s->%s: %w", r.SourceID, r.TargetID, err)
	}
	return nil
}

// Neighbors returns entities within the given traversal depth of a node,
// scoped to the tenant that owns it.
func (s *Store) Neighbors(ctx context.Context, tenantKey, entityID string, depth int) ([]EntityNode, error) {
	if depth <= 0 {
		depth = 1
	}
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := fmt.Sprintf(
		`MATCH (start:Entity {id: $id, tenant_key: $tenantKey})-[:RELATES_TO*1..%d]-(n:Entity)
		 WHERE n.id <> $id
		 RETURN DISTINCT n`, depth)
	result, err := sess.Run(ctx, cypher, map[string]any{"id": entityID, "tenantKey": tenantKey})
	if err != nil {
		return nil, fmt.Errorf("graph: neighbors of %s: %w", entityID, err)
	}
	return collectEntities(ctx, result)
}

// EntityByName finds an entity by exact name within a tenant, used to
// resolve extracted mentions against existing graph nodes before the
// enrichment pipeline decides whether to create or merge.
func (s *Store) EntityByName(ctx context.Context, tenantKey, name string) (EntityNode, bool, error) {
	sess := s.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (e:Entity {tenant_key: $tenantKey, name: $name}) RETURN e LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"tenantKey": tenantKey, "name": name})
	if err != nil {
		return EntityNode{}, false, fmt.Errorf("graph: entity by name %q: %w", name, err)
	}
	if !result.Next(ctx) {
		return EntityNode{}, false, nil
	}
	n, err := entityFromRecord(result.Record())
	if err != nil {
		return EntityNode{}, false, err
	}
	return n, true, nil
}

func collectEntities(ctx context.Context, result CypherResult) ([]EntityNode, error) {
	var out []EntityNode
	for result.Next(ctx) {
		n, err := entityFromRecord(result.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func entityFromRecord(rec *neo4j.Record) (EntityNode, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		node, _, err = neo4j.GetRecordValue[dbtype.Node](rec, "e")
	}
	if err != nil {
		return EntityNode{}, err
	}
	props := node.Props
	n := EntityNode{
		ID:        strProp(props, "id"),
		TenantKey: strProp(props, "tenant_key"),
		Name:      strProp(props, "name"),
		Type:      strProp(props, "type"),
	}
	if aliases, ok := props["aliases"].([]any); ok {
		for _, a := range aliases {
			if s, ok := a.(string); ok {
				n.Aliases = append(n.Aliases, s)
			}
		}
	}
	return n, nil
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
