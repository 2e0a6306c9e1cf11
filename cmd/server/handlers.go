package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nexusmem/graphrag/engine/dlq"
	"github.com/nexusmem/graphrag/engine/docs"
	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/retrieve"
	"github.com/nexusmem/graphrag/engine/router"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/tasks"
)

// storeRequestBody is the POST /memory and /memory/async body, spec.md §6.
type storeRequestBody struct {
	Content               string         `json:"content"`
	UserID                string         `json:"userId,omitempty"`
	CompanyID             string         `json:"companyId"`
	SessionID             string         `json:"sessionId,omitempty"`
	AppID                 string         `json:"appId,omitempty"`
	Tags                  []string       `json:"tags,omitempty"`
	Metadata              map[string]any `json:"metadata,omitempty"`
	Importance            *float64       `json:"importance,omitempty"`
	ForceEntityExtraction bool           `json:"forceEntityExtraction,omitempty"`
	ForceEpisodicStorage  bool           `json:"forceEpisodicStorage,omitempty"`
	PreIdentifiedEntities []string       `json:"preIdentifiedEntities,omitempty"`
	EpisodeType           string         `json:"episodeType,omitempty"`
}

// storeResponseBody is storeMemorySync's response envelope, spec.md §6.
type storeResponseBody struct {
	MemoryID       string                `json:"memoryId"`
	EpisodeID      string                `json:"episodeId,omitempty"`
	Entities       []string              `json:"entities,omitempty"`
	Facts          []string              `json:"facts,omitempty"`
	StoragePaths   []string              `json:"storagePaths"`
	TriageDecision domain.TriageDecision `json:"triageDecision"`
	Duplicate      bool                  `json:"duplicate"`
	LatencyMs      int64                 `json:"latencyMs"`
}

func tenantFromRequest(r *http.Request, body storeRequestBody) domain.Tenant {
	fromHeaders := domain.TenantFromHeaders(r.Header)
	fromBody := domain.Tenant{
		CompanyID: body.CompanyID, AppID: body.AppID, UserID: body.UserID, SessionID: body.SessionID,
	}
	return domain.MergeBodyOverride(fromHeaders, fromBody)
}

func handleStoreSync(rt *router.Router, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body storeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingContent, "invalid request body"))
			return
		}
		req := router.WriteRequest{
			Tenant: tenantFromRequest(r, body), Content: body.Content, Tags: body.Tags,
			Metadata: body.Metadata, Importance: body.Importance,
			ForceEntityExtraction: body.ForceEntityExtraction, ForceEpisodicStorage: body.ForceEpisodicStorage,
			PreIdentifiedEntities: body.PreIdentifiedEntities, EpisodeType: body.EpisodeType,
		}
		result, err := rt.StoreMemorySync(r.Context(), req)
		if err != nil {
			writeStoreError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, storeResponseBody{
			MemoryID:       result.Memory.ID,
			EpisodeID:      result.EpisodeID,
			Entities:       result.Entities,
			Facts:          result.Facts,
			StoragePaths:   result.StoragePaths,
			TriageDecision: result.TriageDecision,
			Duplicate:      result.Duplicate,
			LatencyMs:      result.LatencyMs,
		})
	}
}

func handleStoreAsync(rt *router.Router, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body storeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingContent, "invalid request body"))
			return
		}
		req := router.WriteRequest{
			Tenant: tenantFromRequest(r, body), Content: body.Content, Tags: body.Tags,
			Metadata: body.Metadata, Importance: body.Importance,
			ForceEntityExtraction: body.ForceEntityExtraction, ForceEpisodicStorage: body.ForceEpisodicStorage,
			PreIdentifiedEntities: body.PreIdentifiedEntities, EpisodeType: body.EpisodeType,
		}
		task, err := rt.StoreMemoryAsync(r.Context(), req)
		if err != nil {
			writeStoreError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"memoryId": task.ID, "status": "accepted",
		})
	}
}

func writeStoreError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingContent):
		writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingContent, err.Error()))
	case errors.Is(err, domain.ErrMissingCompanyID):
		writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingCompanyID, err.Error()))
	case errors.Is(err, domain.ErrEmbeddingDown):
		writeAPIError(w, http.StatusServiceUnavailable, domain.NewAPIError(domain.CodeEmbeddingDown, err.Error()))
	default:
		logger.Error("store memory failed", "err", err)
		writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
	}
}

// retrieveRequestBody is the POST /retrieve body, spec.md §6.
type retrieveRequestBody struct {
	Query    string            `json:"query"`
	Strategy string            `json:"strategy,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
	Rerank   bool              `json:"rerank,omitempty"`
	Filter   map[string]string `json:"filter,omitempty"`
}

func handleRetrieve(engine *retrieve.Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body retrieveRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingQuery, "invalid request body"))
			return
		}
		req := retrieve.Request{
			Tenant: domain.TenantFromHeaders(r.Header), Query: body.Query, Strategy: body.Strategy,
			Limit: body.Limit, Offset: body.Offset, Rerank: body.Rerank, Filter: body.Filter,
		}
		hits, err := engine.Retrieve(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrMissingQuery):
				writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingQuery, err.Error()))
			case errors.Is(err, domain.ErrInvalidStrategy):
				writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeInvalidStrategy, err.Error()))
			case errors.Is(err, domain.ErrNoBackends):
				writeAPIError(w, http.StatusServiceUnavailable, domain.NewAPIError(domain.CodeNoBackends, err.Error()))
			default:
				logger.Error("retrieve failed", "err", err)
				writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": hits})
	}
}

func handleGetTask(mgr *tasks.Manager, reconciler *tasks.Reconciler, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		t, err := reconciler.Reconcile(r.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeAPIError(w, http.StatusNotFound, domain.NewAPIError(domain.CodeNotFound, err.Error()))
				return
			}
			logger.Error("reconcile task failed", "err", err, "task_id", id)
			writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleListDLQ(proc *dlq.Processor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := domain.TenantFromHeaders(r.Header)
		entries, err := proc.Query(r.Context(), relational.DLQListOpts{
			Filter: relational.DLQFilter{Tenant: tenant},
			Limit:  100,
		})
		if err != nil {
			logger.Error("list dlq failed", "err", err)
			writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

// documentRequestBody is the POST /documents body, spec.md §6.
type documentRequestBody struct {
	Title    string         `json:"title"`
	Source   string         `json:"source,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func handleIngestDocument(svc *docs.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body documentRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingContent, "invalid request body"))
			return
		}
		req := docs.IngestRequest{
			Tenant: domain.TenantFromHeaders(r.Header), Title: body.Title,
			Source: body.Source, Content: body.Content, Metadata: body.Metadata,
		}
		doc, chunks, err := svc.Ingest(r.Context(), req)
		if err != nil {
			writeDocumentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"document": doc, "chunkCount": len(chunks)})
	}
}

func handleGetDocument(svc *docs.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		doc, err := svc.Get(r.Context(), id)
		if err != nil {
			writeDocumentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleGetDocumentChunks(svc *docs.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		chunks, err := svc.Chunks(r.Context(), id)
		if err != nil {
			writeDocumentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
	}
}

func handleGetDocumentContext(svc *docs.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		text, err := svc.Context(r.Context(), id)
		if err != nil {
			writeDocumentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"context": text})
	}
}

func handleDeleteDocument(svc *docs.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := svc.Delete(r.Context(), id); err != nil {
			writeDocumentError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func writeDocumentError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, domain.NewAPIError(domain.CodeNotFound, err.Error()))
	case errors.Is(err, domain.ErrPayloadTooLarge):
		writeAPIError(w, http.StatusRequestEntityTooLarge, domain.NewAPIError(domain.CodePayloadTooLarge, err.Error()))
	case errors.Is(err, domain.ErrUnsupportedURL), errors.Is(err, domain.ErrInsufficientData), errors.Is(err, domain.ErrMissingContent):
		writeAPIError(w, http.StatusBadRequest, domain.NewAPIError(domain.CodeMissingContent, err.Error()))
	case errors.Is(err, domain.ErrPartialWrite):
		writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodePartialWrite, err.Error()))
	default:
		logger.Error("document operation failed", "err", err)
		writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
	}
}

func handleReplayDLQ(proc *dlq.Processor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := proc.Replay(r.Context(), id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeAPIError(w, http.StatusNotFound, domain.NewAPIError(domain.CodeNotFound, err.Error()))
				return
			}
			logger.Error("replay dlq entry failed", "err", err, "id", id)
			writeAPIError(w, http.StatusInternalServerError, domain.NewAPIError(domain.CodeInternal, "internal server error"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "replayed"})
	}
}
