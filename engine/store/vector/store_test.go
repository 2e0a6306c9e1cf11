package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/nexusmem/graphrag/engine/domain"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, _ *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, _ *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, _ *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, _ *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

var testTenant = domain.Tenant{CompanyID: "acme", AppID: "app1", UserID: "u1"}

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "memories"}}}}
	s := NewWithClients(&mockPoints{}, cols, "memories")
	if err := s.EnsureCollection(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	s := NewWithClients(&mockPoints{}, cols, "memories")
	if err := s.EnsureCollection(context.Background(), 128); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	s := NewWithClients(&mockPoints{}, cols, "memories")
	if err := s.EnsureCollection(context.Background(), 4); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_Empty(t *testing.T) {
	s := NewWithClients(&mockPoints{}, &mockCollections{}, "memories")
	if err := s.Upsert(context.Background(), testTenant, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_Success(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	s := NewWithClients(pts, &mockCollections{}, "memories")
	records := []Record{{ID: "id1", Embedding: []float32{1, 0, 0}, Payload: map[string]any{"content": "hello", "count": 3}}}
	if err := s.Upsert(context.Background(), testTenant, records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_Error(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	s := NewWithClients(pts, &mockCollections{}, "memories")
	records := []Record{{ID: "id1", Embedding: []float32{1, 0}}}
	if err := s.Upsert(context.Background(), testTenant, records); err == nil {
		t.Fatal("expected error")
	}
}

func TestSearch_FiltersByTenant(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
					Score: 0.9,
					Payload: map[string]*pb.Value{
						"content":  {Kind: &pb.Value_StringValue{StringValue: "some memory"}},
						"owner_id": {Kind: &pb.Value_StringValue{StringValue: "mem-1"}},
					},
				},
			},
		},
	}
	s := NewWithClients(pts, &mockCollections{}, "memories")
	results, err := s.Search(context.Background(), testTenant, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Content != "some memory" || results[0].OwnerID != "mem-1" {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestSearch_Error(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("fail")}
	s := NewWithClients(pts, &mockCollections{}, "memories")
	if _, err := s.Search(context.Background(), testTenant, []float32{1}, 5); err == nil {
		t.Fatal("expected error")
	}
}

func TestDeleteByOwnerID_Success(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	s := NewWithClients(pts, &mockCollections{}, "memories")
	if err := s.DeleteByOwnerID(context.Background(), "mem-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFieldMatch(t *testing.T) {
	cond := fieldMatch("key", "value")
	fc := cond.GetField()
	if fc.Key != "key" || fc.Match.GetKeyword() != "value" {
		t.Fatalf("unexpected condition: %+v", fc)
	}
}
