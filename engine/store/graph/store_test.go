package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type mockRecord = neo4j.Record

type mockResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *mockResult) Next(_ context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *mockResult) Record() *neo4j.Record {
	if r.idx <= 0 || r.idx > len(r.records) {
		return nil
	}
	return r.records[r.idx-1]
}

func newMockResult(records ...*neo4j.Record) *mockResult {
	return &mockResult{records: records}
}

type mockSession struct {
	runResult CypherResult
	runErr    error
	writeErr  error
	closed    bool
}

func (s *mockSession) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	return s.runResult, s.runErr
}

func (s *mockSession) Close(_ context.Context) error {
	s.closed = true
	return nil
}

func (s *mockSession) ExecuteWrite(_ context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return work(&mockTx{})
}

type mockTx struct {
	runErr error
}

func (t *mockTx) Run(_ context.Context, _ string, _ map[string]any) (CypherResult, error) {
	return newMockResult(), t.runErr
}

type mockOpener struct {
	session *mockSession
}

func (o *mockOpener) OpenSession(_ context.Context) CypherSession {
	return o.session
}

func makeEntityRecord(key string, props map[string]any) *neo4j.Record {
	node := dbtype.Node{Props: props}
	return &neo4j.Record{Keys: []string{key}, Values: []any{node}}
}

func TestUpsertEntity_Success(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	s := newWithOpener(&mockOpener{session: sess})
	err := s.UpsertEntity(context.Background(), EntityNode{ID: "e1", TenantKey: "acme/app1/u1", Name: "Ada Lovelace", Type: "person"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sess.closed {
		t.Error("expected session to be closed")
	}
}

func TestUpsertEntity_Error(t *testing.T) {
	sess := &mockSession{runErr: errors.New("boom")}
	s := newWithOpener(&mockOpener{session: sess})
	if err := s.UpsertEntity(context.Background(), EntityNode{ID: "e1"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsertRelationship_Success(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	s := newWithOpener(&mockOpener{session: sess})
	err := s.UpsertRelationship(context.Background(), RelationshipEdge{SourceID: "e1", TargetID: "e2", Type: "WORKS_WITH", Weight: 0.8, Fact: "collaborated"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEntityByName_NotFound(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	s := newWithOpener(&mockOpener{session: sess})
	_, found, err := s.EntityByName(context.Background(), "acme/app1/u1", "Ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("expected not found")
	}
}

func TestEntityByName_Found(t *testing.T) {
	rec := makeEntityRecord("e", map[string]any{"id": "e1", "tenant_key": "acme/app1/u1", "name": "Ada", "type": "person"})
	sess := &mockSession{runResult: newMockResult(rec)}
	s := newWithOpener(&mockOpener{session: sess})
	n, found, err := s.EntityByName(context.Background(), "acme/app1/u1", "Ada")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || n.Name != "Ada" {
		t.Fatalf("unexpected result: %+v found=%v", n, found)
	}
}

func TestNeighbors_CollectsEntities(t *testing.T) {
	rec := makeEntityRecord("n", map[string]any{"id": "e2", "tenant_key": "acme/app1/u1", "name": "Babbage", "type": "person"})
	sess := &mockSession{runResult: newMockResult(rec)}
	s := newWithOpener(&mockOpener{session: sess})
	out, err := s.Neighbors(context.Background(), "acme/app1/u1", "e1", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Name != "Babbage" {
		t.Fatalf("unexpected neighbors: %+v", out)
	}
}

func TestUpsertEpisode_Success(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	s := newWithOpener(&mockOpener{session: sess})
	if err := s.UpsertEpisode(context.Background(), EpisodeNode{ID: "ep1", TenantKey: "acme/app1/u1", Summary: "discussed onboarding"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLinkEntityToEpisode_Success(t *testing.T) {
	sess := &mockSession{runResult: newMockResult()}
	s := newWithOpener(&mockOpener{session: sess})
	if err := s.LinkEntityToEpisode(context.Background(), "e1", "ep1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
