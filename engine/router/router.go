// Package router implements the Unified Memory Router (C4): the single
// write path every memory passes through, whether destined for store-only
// persistence or for background enrichment. It owns idempotency (a
// content-hash fingerprint scoped to the tenant triple), the synchronous
// write across the relational and vector stores, and handing off
// enrichment-eligible memories to the background pipeline (C5) via a
// Task row plus a pub/sub event rather than blocking the caller on it.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/embed"
	"github.com/nexusmem/graphrag/engine/enrich"
	"github.com/nexusmem/graphrag/engine/store/cache"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/store/vector"
	"github.com/nexusmem/graphrag/engine/triage"
	"github.com/nexusmem/graphrag/pkg/natsutil"
)

// lockTTL bounds how long a writer can hold the idempotency lock before a
// crashed request releases it automatically.
const lockTTL = 10 * time.Second

// lockPollInterval and lockPollAttempts bound how long a second writer for
// the same fingerprint polls for the row the first writer produces; if the
// row has not appeared by then, it gives up with domain.ErrConflict.
const (
	lockPollInterval = 50 * time.Millisecond
	lockPollAttempts = 20
)

// Deps are the Router's collaborators, one instance of each store/capability
// wired in from cmd/server.
type Deps struct {
	Memories *relational.MemoryRepo
	Tasks    *relational.TaskRepo
	Vector   *vector.Store
	Cache    *cache.Store
	Embedder *embed.Client
	Triage   *triage.Classifier
	NATS     *nats.Conn
	Logger   *slog.Logger
}

// Router is the Unified Memory Router.
type Router struct {
	deps Deps
	log  *slog.Logger
}

// New creates a Router.
func New(deps Deps) *Router {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{deps: deps, log: log}
}

// WriteRequest is the router's input, assembled by cmd/server from the
// parsed HTTP body plus the header-derived tenant.
type WriteRequest struct {
	Tenant     domain.Tenant
	Content    string
	Tags       []string
	Metadata   map[string]any
	Importance *float64

	// ForceEntityExtraction and ForceEpisodicStorage override triage:
	// either one forces an Enrichment Job even when the decision is
	// store_only (spec.md §4.1 step 6).
	ForceEntityExtraction bool
	ForceEpisodicStorage  bool
	// PreIdentifiedEntities skips entity-extraction inference in favor of
	// the caller's own names, consumed by the enrichment worker.
	PreIdentifiedEntities []string
	// EpisodeType tags the graph episode node this write produces.
	EpisodeType string
}

// forcesEnrichment reports whether the request's override flags demand
// an Enrichment Job regardless of the triage decision.
func (req WriteRequest) forcesEnrichment() bool {
	return req.ForceEntityExtraction || req.ForceEpisodicStorage
}

// StoreResult is storeMemorySync's response envelope (spec.md §6 POST
// /memory): the memory id plus what the write path did and is still
// doing in the background.
type StoreResult struct {
	Memory         domain.Memory
	EpisodeID      string
	Entities       []string
	Facts          []string
	StoragePaths   []string
	TriageDecision domain.TriageDecision
	Duplicate      bool
	LatencyMs      int64
}

func (r *Router) validate(req WriteRequest) error {
	if err := req.Tenant.Validate(); err != nil {
		return err
	}
	return domain.ValidateContent(req.Content)
}

// StoreMemorySync writes a memory and blocks until the relational and
// vector writes both land, returning the full storeMemorySync envelope.
// Enrichment (graph extraction) is still handed off asynchronously
// regardless of this call's synchronicity — "sync" here means the caller
// waits for durable storage, not for the full enrichment fan-out.
func (r *Router) StoreMemorySync(ctx context.Context, req WriteRequest) (StoreResult, error) {
	start := time.Now()
	if err := r.validate(req); err != nil {
		return StoreResult{}, err
	}
	tenant := req.Tenant.Normalize()
	hash := domain.ComputeContentHash(tenant, req.Content)

	if existing, found, err := r.resolveExisting(ctx, tenant, hash); err != nil {
		return StoreResult{}, err
	} else if found {
		return StoreResult{
			Memory:       existing,
			StoragePaths: []string{"relational", "vector"},
			Duplicate:    true,
			LatencyMs:    time.Since(start).Milliseconds(),
		}, nil
	}

	acquired, err := r.deps.Cache.AcquireIdempotencyLock(ctx, tenant.Key(), hash, lockTTL)
	if err != nil {
		return StoreResult{}, fmt.Errorf("router: acquire lock: %w", err)
	}
	if !acquired {
		m, err := r.awaitConcurrentWrite(ctx, tenant, hash)
		if err != nil {
			return StoreResult{}, err
		}
		return StoreResult{
			Memory: m, StoragePaths: []string{"relational", "vector"},
			Duplicate: true, LatencyMs: time.Since(start).Milliseconds(),
		}, nil
	}
	defer r.deps.Cache.ReleaseIdempotencyLock(ctx, tenant.Key(), hash)

	result, err := r.writeMemory(ctx, tenant, req, hash)
	if err != nil {
		return StoreResult{}, err
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// StoreMemoryAsync enqueues the write as a Task and returns the created
// pending Task immediately; a worker picks up the task and performs
// the same writeMemory path out of band. Callers that don't need the
// embedding/vector write to have landed before they get a response (bulk
// ingestion, non-interactive producers) use this path.
func (r *Router) StoreMemoryAsync(ctx context.Context, req WriteRequest) (domain.Task, error) {
	if err := r.validate(req); err != nil {
		return domain.Task{}, err
	}
	tenant := req.Tenant.Normalize()

	payload := map[string]any{
		"content":               req.Content,
		"tags":                  req.Tags,
		"metadata":              req.Metadata,
		"importance":            req.Importance,
		"forceEntityExtraction": req.ForceEntityExtraction,
		"forceEpisodicStorage":  req.ForceEpisodicStorage,
		"preIdentifiedEntities": req.PreIdentifiedEntities,
		"episodeType":           req.EpisodeType,
	}
	task := domain.Task{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Kind:      domain.TaskKindEnrichment,
		Status:    domain.TaskPending,
		Payload:   payload,
		CreatedAt: timeNow(),
		UpdatedAt: timeNow(),
	}
	created, err := r.deps.Tasks.Create(ctx, task)
	if err != nil {
		return domain.Task{}, fmt.Errorf("router: enqueue async write: %w", err)
	}
	if err := cache.PublishEvent(ctx, r.deps.Cache, cache.SubjectTaskUpdated, created); err != nil {
		r.log.Warn("router: publish task-updated failed", "error", err, "task_id", created.ID)
	}
	r.publishEnrichJob(ctx, created.ID)
	return created, nil
}

// publishEnrichJob puts the job on the NATS subject the enrichment worker
// pool consumes, the actual work queue; the Redis event published
// alongside it is a cheap broadcast for lifecycle observers (SSE/websocket
// status streams), not the dispatch mechanism.
func (r *Router) publishEnrichJob(ctx context.Context, taskID string) {
	if r.deps.NATS == nil {
		return
	}
	job := enrich.Job{TaskID: taskID}
	if err := natsutil.Publish(ctx, r.deps.NATS, enrich.EnrichSubject, job); err != nil {
		r.log.Warn("router: publish enrich job failed", "error", err, "task_id", taskID)
	}
}

// resolveExisting checks the Redis content-hash cache first, falling back
// to the relational store (the cache can be cold or evicted without the
// data being gone).
func (r *Router) resolveExisting(ctx context.Context, tenant domain.Tenant, hash string) (domain.Memory, bool, error) {
	if id, found, err := r.deps.Cache.GetMemoryIDByContentHash(ctx, tenant.Key(), hash); err == nil && found {
		m, err := r.deps.Memories.Get(ctx, id)
		if err == nil {
			return m, true, nil
		}
	}
	m, found, err := r.deps.Memories.GetByContentHash(ctx, tenant, hash)
	if err != nil {
		return domain.Memory{}, false, fmt.Errorf("router: resolve existing: %w", err)
	}
	return m, found, nil
}

// awaitConcurrentWrite polls for the row a concurrent writer is producing
// rather than racing it, since two requests for the same fingerprint
// should resolve to one Memory.
func (r *Router) awaitConcurrentWrite(ctx context.Context, tenant domain.Tenant, hash string) (domain.Memory, error) {
	for i := 0; i < lockPollAttempts; i++ {
		if m, found, err := r.resolveExisting(ctx, tenant, hash); err == nil && found {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return domain.Memory{}, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
	return domain.Memory{}, fmt.Errorf("router: %w", domain.ErrConflict)
}

// writeMemory performs the embed -> triage -> relational-create ->
// vector-upsert sequence, compensating the relational write if the
// vector write fails so no half-written memory is ever visible.
func (r *Router) writeMemory(ctx context.Context, tenant domain.Tenant, req WriteRequest, hash string) (StoreResult, error) {
	vec, err := r.deps.Embedder.Embed(ctx, req.Content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("router: embed: %w", err)
	}

	decision, confidence, err := r.deps.Triage.Decide(ctx, req.Content)
	if err != nil {
		r.log.Warn("router: triage failed, defaulting to store_only", "error", err)
		decision = domain.TriageStoreOnly
	}

	now := timeNow()
	m := domain.Memory{
		ID:               uuid.NewString(),
		Tenant:           tenant,
		Content:          req.Content,
		ContentHash:      hash,
		Embedding:        vec,
		Tags:             req.Tags,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		Importance:       req.Importance,
		EnrichmentStatus: domain.EnrichmentPending,
	}
	if decision == domain.TriageStoreOnly {
		m.EnrichmentStatus = domain.EnrichmentEnriched
	}

	created, err := r.deps.Memories.Create(ctx, m)
	if err != nil {
		return StoreResult{}, fmt.Errorf("router: create memory: %w", err)
	}

	record := vector.Record{
		ID:        created.ID,
		Embedding: vec,
		Payload: map[string]any{
			"content":    created.Content,
			"owner_id":   created.ID,
			"kind":       "memory",
			"created_at": now.Unix(),
		},
	}
	if err := r.deps.Vector.Upsert(ctx, tenant, []vector.Record{record}); err != nil {
		if delErr := r.deps.Memories.Delete(ctx, created.ID); delErr != nil {
			r.log.Error("router: compensation failed, orphaned relational row",
				"memory_id", created.ID, "delete_error", delErr, "vector_error", err)
		}
		return StoreResult{}, fmt.Errorf("router: %w: vector upsert: %v", domain.ErrPartialWrite, err)
	}

	storagePaths := []string{"relational", "vector"}
	if err := r.deps.Cache.PutMemoryIDByContentHash(ctx, tenant.Key(), hash, created.ID, time.Hour); err != nil {
		r.log.Warn("router: cache content hash failed", "error", err, "memory_id", created.ID)
	} else {
		storagePaths = append(storagePaths, "cache")
	}

	result := StoreResult{
		Memory: created, StoragePaths: storagePaths, TriageDecision: decision,
		Entities: req.PreIdentifiedEntities,
	}

	// decision != store_only OR a force flag enqueues the Enrichment Job
	// (spec.md §4.1 step 6); the episode id is assigned now so the sync
	// caller can learn it before the worker ever runs.
	if decision != domain.TriageStoreOnly || req.forcesEnrichment() {
		result.EpisodeID = r.enqueueEnrichment(ctx, created, decision, confidence, req)
	}

	return result, nil
}

// enqueueEnrichment hands the memory off to the background pipeline (C5)
// by creating a Task row and publishing a lifecycle event; failures here
// are logged, not propagated, since the memory itself is already durably
// stored and will simply remain in EnrichmentPending until reconciled. It
// pre-assigns the episode id the worker will MERGE against, so a sync
// caller learns it immediately instead of waiting on the async job.
func (r *Router) enqueueEnrichment(ctx context.Context, m domain.Memory, decision domain.TriageDecision, confidence float64, req WriteRequest) string {
	episodeID := uuid.NewString()
	task := domain.Task{
		ID:     uuid.NewString(),
		Tenant: m.Tenant,
		Kind:   domain.TaskKindEnrichment,
		Status: domain.TaskPending,
		Payload: map[string]any{
			"memoryId":              m.ID,
			"decision":              string(decision),
			"confidence":            confidence,
			"episodeId":             episodeID,
			"episodeType":           req.EpisodeType,
			"preIdentifiedEntities": req.PreIdentifiedEntities,
		},
		CreatedAt: timeNow(),
		UpdatedAt: timeNow(),
	}
	created, err := r.deps.Tasks.Create(ctx, task)
	if err != nil {
		r.log.Error("router: enqueue enrichment task failed", "error", err, "memory_id", m.ID)
		return ""
	}
	if err := cache.PublishEvent(ctx, r.deps.Cache, cache.SubjectTaskUpdated, created); err != nil {
		r.log.Warn("router: publish enrichment task failed", "error", err, "task_id", created.ID)
	}
	r.publishEnrichJob(ctx, created.ID)
	return episodeID
}

func timeNow() time.Time { return time.Now().UTC() }
