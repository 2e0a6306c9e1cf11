// Package docs implements the Document ingestion surface (spec.md §6):
// splitting arbitrary text into Chunks, embedding each one, and persisting
// both across the relational and vector stores the way the Unified Memory
// Router does for memories. It adapts the teacher's vehicle-manual chunker
// (engine/ingest/transform.go) to documents of any kind.
package docs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/embed"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/store/vector"
)

// Deps are the Service's collaborators, one instance of each wired in from
// cmd/server.
type Deps struct {
	Documents *relational.DocumentRepo
	Chunks    *relational.ChunkRepo
	Embedder  *embed.Client
	Vector    *vector.Store
}

// Service is the Document ingestion surface.
type Service struct {
	deps Deps
}

// New creates a Service.
func New(deps Deps) *Service {
	return &Service{deps: deps}
}

// allowedSchemes are the URL schemes Ingest accepts when content is
// supplied as a source reference rather than inline text (spec.md §7
// "unsupported URL scheme" precondition).
var allowedSchemes = map[string]bool{"http": true, "https": true, "file": true}

// IngestRequest is Ingest's input: either inline content, or a source
// reference whose scheme must be one this system knows how to fetch.
type IngestRequest struct {
	Tenant   domain.Tenant
	Title    string
	Source   string
	Content  string
	Metadata map[string]any
}

// Ingest chunks content, embeds each chunk, and writes the document plus
// its chunks across the relational and vector stores. Chunk positions are
// byte-range, non-overlapping, and monotonic (spec.md §3 Document+Chunks).
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (domain.Document, []domain.Chunk, error) {
	if req.Source != "" {
		if i := strings.Index(req.Source, "://"); i > 0 {
			if scheme := req.Source[:i]; !allowedSchemes[scheme] {
				return domain.Document{}, nil, domain.NewValidationError("source", req.Source, domain.ErrUnsupportedURL)
			}
		}
	}
	if err := domain.ValidateContent(req.Content); err != nil {
		return domain.Document{}, nil, err
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID: uuid.NewString(), Tenant: req.Tenant, Title: req.Title, Source: req.Source,
		Content: req.Content, Metadata: req.Metadata, CreatedAt: now, UpdatedAt: now,
	}

	chunks := chunkText(doc.ID, req.Content, DefaultChunkSize, 0)
	if len(chunks) == 0 {
		return domain.Document{}, nil, domain.NewValidationError("content", "", domain.ErrInsufficientData)
	}
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
	}

	created, err := s.deps.Documents.Create(ctx, doc)
	if err != nil {
		return domain.Document{}, nil, fmt.Errorf("docs: create document: %w", err)
	}

	records := make([]vector.Record, 0, len(chunks))
	for i, c := range chunks {
		vec, err := s.deps.Embedder.Embed(ctx, c.Text)
		if err != nil {
			_ = s.deps.Documents.Delete(ctx, created.ID)
			return domain.Document{}, nil, fmt.Errorf("docs: embed chunk %d: %w", i, err)
		}
		chunks[i].Embedding = vec
		records = append(records, vector.Record{
			ID:        chunks[i].ID,
			Embedding: vec,
			Payload: map[string]any{
				"content": chunks[i].Text, "owner_id": created.ID, "kind": "chunk",
				"chunk_type": string(chunks[i].Type), "chunk_index": chunks[i].Index,
			},
		})
	}

	if err := s.deps.Chunks.CreateBatch(ctx, chunks); err != nil {
		_ = s.deps.Documents.Delete(ctx, created.ID)
		return domain.Document{}, nil, fmt.Errorf("docs: create chunks: %w", err)
	}
	if err := s.deps.Vector.Upsert(ctx, req.Tenant, records); err != nil {
		_ = s.deps.Documents.Delete(ctx, created.ID)
		return domain.Document{}, nil, fmt.Errorf("docs: %w: vector upsert: %v", domain.ErrPartialWrite, err)
	}

	return created, chunks, nil
}

// Get fetches a document by id.
func (s *Service) Get(ctx context.Context, id string) (domain.Document, error) {
	return s.deps.Documents.Get(ctx, id)
}

// Chunks returns a document's chunks in position order.
func (s *Service) Chunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	return s.deps.Chunks.ByDocument(ctx, documentID)
}

// Context assembles the document's chunk texts, in order, into a single
// window for GET /documents/:id/context (spec.md §6).
func (s *Service) Context(ctx context.Context, documentID string) (string, error) {
	chunks, err := s.deps.Chunks.ByDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", domain.NewValidationError("documentId", documentID, domain.ErrInsufficientData)
	}
	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteRune('\n')
		}
		b.WriteString(c.Text)
	}
	return b.String(), nil
}

// Delete removes a document, its chunks (relational cascade), and their
// vector points transactionally-at-intent (spec.md §3, §7).
func (s *Service) Delete(ctx context.Context, documentID string) error {
	if err := s.deps.Vector.DeleteByOwnerID(ctx, documentID); err != nil {
		return fmt.Errorf("docs: %w: vector delete: %v", domain.ErrPartialWrite, err)
	}
	if err := s.deps.Documents.Delete(ctx, documentID); err != nil {
		return fmt.Errorf("docs: delete document: %w", err)
	}
	return nil
}
