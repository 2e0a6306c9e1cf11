// Package enrich is the Background Enrichment Pipeline (C5): a NATS
// consumer that turns a pending Task into entity/fact extraction against
// a Memory's content, writes the results into the graph store, and marks
// the Memory enriched. Failed jobs are classified by the Retry Analyzer
// (C6), re-queued under the Budget Manager's (C7) backoff policy, and
// dead-lettered (C8) once the budget is exhausted.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/embed"
	"github.com/nexusmem/graphrag/engine/retry"
	"github.com/nexusmem/graphrag/engine/store/cache"
	"github.com/nexusmem/graphrag/engine/store/graph"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/engine/store/vector"
	"github.com/nexusmem/graphrag/engine/triage"
	"github.com/nexusmem/graphrag/pkg/llm"
	"github.com/nexusmem/graphrag/pkg/natsutil"
)

// Deps are the enrichment worker's collaborators.
type Deps struct {
	Memories        *relational.MemoryRepo
	Tasks           *relational.TaskRepo
	DLQ             *relational.DLQRepo
	Attempts        *relational.RetryAttemptRepo
	Analyzer        *retry.Analyzer
	Budget          *retry.BudgetManager
	Vector          *vector.Store
	Graph           *graph.Store
	Cache           *cache.Store
	Embedder        *embed.Client
	Triage          *triage.Classifier
	EntityExtractor llm.EntityExtractor
	FactExtractor   llm.FactExtractor
	Summarizer      llm.Summarizer
	Logger          *slog.Logger
}

// Worker consumes enrichment jobs off NATS.
type Worker struct {
	deps Deps
	log  *slog.Logger
}

// New creates a Worker.
func New(deps Deps) *Worker {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Worker{deps: deps, log: log}
}

// StartConsumer subscribes to EnrichSubject and processes jobs until the
// subscription is drained or unsubscribed.
func (w *Worker) StartConsumer(nc *nats.Conn) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, EnrichSubject, func(ctx context.Context, job Job) {
		w.handle(nc, ctx, job)
	})
}

func (w *Worker) handle(nc *nats.Conn, ctx context.Context, job Job) {
	task, err := w.deps.Tasks.Get(ctx, job.TaskID)
	if err != nil {
		w.log.Error("enrich: load task failed", "error", err, "task_id", job.TaskID)
		return
	}
	if task.Status.Terminal() {
		return // already resolved; a duplicate delivery
	}

	now := time.Now().UTC()
	if err := w.deps.Tasks.CompareAndSwapStatus(ctx, task.ID, task.Version, domain.TaskRunning, "", now); err != nil {
		w.log.Warn("enrich: claim task failed, likely raced by another worker", "error", err, "task_id", task.ID)
		return
	}
	task.Status = domain.TaskRunning
	task.Version++

	procErr := w.process(ctx, task)
	if procErr == nil {
		w.succeed(ctx, task)
		return
	}
	w.failOrRetry(nc, ctx, task, job, procErr)
}

func (w *Worker) succeed(ctx context.Context, task domain.Task) {
	now := time.Now().UTC()
	if err := w.deps.Tasks.CompareAndSwapStatus(ctx, task.ID, task.Version, domain.TaskSucceeded, "", now); err != nil {
		w.log.Error("enrich: mark succeeded failed", "error", err, "task_id", task.ID)
	}
	if err := w.deps.DLQ.ResolveByTaskID(ctx, task.ID, now); err != nil {
		w.log.Warn("enrich: resolve dlq entry by task failed", "error", err, "task_id", task.ID)
	}
	if err := cache.PublishEvent(ctx, w.deps.Cache, cache.SubjectEnrichmentDone, task); err != nil {
		w.log.Warn("enrich: publish enrichment-done failed", "error", err, "task_id", task.ID)
	}
}

func (w *Worker) failOrRetry(nc *nats.Conn, ctx context.Context, task domain.Task, job Job, procErr error) {
	class, strategy := w.deps.Analyzer.Classify(ctx, procErr)
	attemptCount, err := w.deps.Attempts.CountForTask(ctx, task.ID)
	if err != nil {
		w.log.Warn("enrich: count attempts failed", "error", err, "task_id", task.ID)
	}
	attemptCount++

	delay := retry.NextDelay(strategy, attemptCount)
	var nextAt *time.Time
	if delay >= 0 {
		t := time.Now().UTC().Add(delay)
		nextAt = &t
	}
	_ = w.deps.Attempts.Record(ctx, domain.RetryAttempt{
		ID: uuid.NewString(), TaskID: task.ID, Attempt: attemptCount,
		Strategy: strategy, Error: procErr.Error(), Class: class,
		AttemptedAt: time.Now().UTC(), NextAt: nextAt,
	})

	budget := w.deps.Budget.NewBudget(task.CreatedAt)
	budget.AttemptsSoFar = attemptCount
	exhausted := strategy == domain.RetryNone || w.deps.Budget.Exhausted(budget, time.Now().UTC())

	if exhausted {
		w.deadLetter(ctx, task, procErr, attemptCount)
		return
	}

	now := time.Now().UTC()
	if err := w.deps.Tasks.CompareAndSwapStatus(ctx, task.ID, task.Version, domain.TaskPending, procErr.Error(), now); err != nil {
		w.log.Warn("enrich: revert to pending failed", "error", err, "task_id", task.ID)
	}

	if err := cache.PublishEvent(ctx, w.deps.Cache, cache.SubjectEnrichmentError, task); err != nil {
		w.log.Warn("enrich: publish enrichment-error failed", "error", err, "task_id", task.ID)
	}

	retryJob := Job{TaskID: task.ID, Retries: job.Retries + 1}
	if delay <= 0 {
		if err := natsutil.Publish(ctx, nc, EnrichSubject, retryJob); err != nil {
			w.log.Error("enrich: republish failed", "error", err, "task_id", task.ID)
		}
		return
	}
	time.AfterFunc(delay, func() {
		if err := natsutil.Publish(context.Background(), nc, EnrichSubject, retryJob); err != nil {
			w.log.Error("enrich: delayed republish failed", "error", err, "task_id", task.ID)
		}
	})
}

// deadLetter dead-letters task, reopening the entry a prior replay was
// processing (task_id) if one exists rather than accumulating a second
// row for the same task.
func (w *Worker) deadLetter(ctx context.Context, task domain.Task, procErr error, attempts int) {
	now := time.Now().UTC()
	if err := w.deps.Tasks.CompareAndSwapStatus(ctx, task.ID, task.Version, domain.TaskDeadLettered, procErr.Error(), now); err != nil {
		w.log.Error("enrich: mark dead-lettered failed", "error", err, "task_id", task.ID)
	}

	if existing, found, err := w.deps.DLQ.FindProcessingByTaskID(ctx, task.ID); err == nil && found {
		if err := w.deps.DLQ.Reopen(ctx, existing.ID, procErr.Error(), attempts); err != nil {
			w.log.Error("enrich: reopen dlq entry failed", "error", err, "task_id", task.ID)
		}
		existing.Status, existing.LastError, existing.Attempts = domain.DLQPending, procErr.Error(), attempts
		if err := cache.PublishEvent(ctx, w.deps.Cache, cache.SubjectRetryExhausted, existing); err != nil {
			w.log.Warn("enrich: publish retry-exhausted failed", "error", err, "task_id", task.ID)
		}
		return
	}

	entry := domain.DeadLetterEntry{
		ID: uuid.NewString(), TaskID: task.ID, Tenant: task.Tenant,
		Payload: task.Payload, LastError: procErr.Error(), Attempts: attempts,
		Status: domain.DLQPending, CreatedAt: now,
	}
	if _, err := w.deps.DLQ.Add(ctx, entry); err != nil {
		w.log.Error("enrich: add dlq entry failed", "error", err, "task_id", task.ID)
	}
	if err := cache.PublishEvent(ctx, w.deps.Cache, cache.SubjectRetryExhausted, entry); err != nil {
		w.log.Warn("enrich: publish retry-exhausted failed", "error", err, "task_id", task.ID)
	}
}

// process dispatches a task to the right handler based on its payload
// shape: a "memoryId" payload means graph-only enrichment of an
// already-stored Memory; a "content" payload means the full deferred
// write this task represents StoreMemoryAsync's job.
func (w *Worker) process(ctx context.Context, task domain.Task) error {
	if memoryID, ok := task.Payload["memoryId"].(string); ok && memoryID != "" {
		return w.enrichMemory(ctx, task)
	}
	if content, ok := task.Payload["content"].(string); ok && content != "" {
		return w.writeDeferred(ctx, task, content)
	}
	return fmt.Errorf("enrich: task %s has no recognized payload shape", task.ID)
}

func (w *Worker) enrichMemory(ctx context.Context, task domain.Task) error {
	memoryID, _ := task.Payload["memoryId"].(string)
	mem, err := w.deps.Memories.Get(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("enrich: load memory %s: %w", memoryID, err)
	}

	var entities []llm.ExtractedEntity
	if preIDs, ok := task.Payload["preIdentifiedEntities"].([]string); ok && len(preIDs) > 0 {
		for _, name := range preIDs {
			entities = append(entities, llm.ExtractedEntity{Name: name, Type: string(domain.EntityMiscellaneous)})
		}
	} else {
		entities, err = w.deps.EntityExtractor.ExtractEntities(ctx, mem.Content)
		if err != nil {
			return fmt.Errorf("enrich: extract entities: %w", err)
		}
	}
	facts, err := w.deps.FactExtractor.ExtractFacts(ctx, mem.Content)
	if err != nil {
		return fmt.Errorf("enrich: extract facts: %w", err)
	}
	summary, err := w.deps.Summarizer.Summarize(ctx, mem.Content)
	if err != nil {
		return fmt.Errorf("enrich: summarize: %w", err)
	}

	episodeID, _ := task.Payload["episodeId"].(string)
	if episodeID == "" {
		episodeID = uuid.NewString()
	}
	episodeType, _ := task.Payload["episodeType"].(string)
	tenantKey := mem.Tenant.Key()
	episode := graph.EpisodeNode{ID: episodeID, TenantKey: tenantKey, Summary: summary, EventType: episodeType}
	if err := w.deps.Graph.UpsertEpisode(ctx, episode); err != nil {
		return fmt.Errorf("enrich: upsert episode: %w", err)
	}

	entityIDs := make(map[string]string, len(entities))
	for _, e := range entities {
		id := entityID(tenantKey, e.Name)
		node := graph.EntityNode{ID: id, TenantKey: tenantKey, Name: e.Name, Type: e.Type, Aliases: e.Aliases}
		if err := w.deps.Graph.UpsertEntity(ctx, node); err != nil {
			return fmt.Errorf("enrich: upsert entity %s: %w", e.Name, err)
		}
		if err := w.deps.Graph.LinkEntityToEpisode(ctx, id, episode.ID); err != nil {
			return fmt.Errorf("enrich: link entity %s to episode: %w", e.Name, err)
		}
		entityIDs[e.Name] = id
	}

	for _, f := range facts {
		srcID, err := w.resolveEntity(ctx, tenantKey, entityIDs, f.Source)
		if err != nil {
			w.log.Warn("enrich: skipping fact with unresolved source", "source", f.Source, "task_id", task.ID)
			continue
		}
		tgtID, err := w.resolveEntity(ctx, tenantKey, entityIDs, f.Target)
		if err != nil {
			w.log.Warn("enrich: skipping fact with unresolved target", "target", f.Target, "task_id", task.ID)
			continue
		}
		rel := graph.RelationshipEdge{SourceID: srcID, TargetID: tgtID, Type: f.Type, Weight: f.Weight, Fact: f.Fact}
		if err := w.deps.Graph.UpsertRelationship(ctx, rel); err != nil {
			return fmt.Errorf("enrich: upsert relationship %s->%s: %w", f.Source, f.Target, err)
		}
	}

	if err := w.deps.Memories.UpdateEnrichmentStatus(ctx, memoryID, domain.EnrichmentEnriched); err != nil {
		return fmt.Errorf("enrich: mark memory enriched: %w", err)
	}
	return nil
}

// resolveEntity looks an extracted fact's endpoint up in this batch's
// freshly-upserted entities first, falling back to an existing graph node
// for facts that reference an entity this content didn't itself mention.
func (w *Worker) resolveEntity(ctx context.Context, tenantKey string, batch map[string]string, name string) (string, error) {
	if id, ok := batch[name]; ok {
		return id, nil
	}
	node, found, err := w.deps.Graph.EntityByName(ctx, tenantKey, name)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("enrich: entity %q not found", name)
	}
	return node.ID, nil
}

func entityID(tenantKey, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantKey+"|"+name)).String()
}

// writeDeferred performs the embed -> triage -> relational -> vector
// sequence StoreMemoryAsync deferred, then chains into enrichMemory when
// triage calls for it rather than leaving a second task to be scheduled.
func (w *Worker) writeDeferred(ctx context.Context, task domain.Task, content string) error {
	tenant := task.Tenant
	hash := domain.ComputeContentHash(tenant, content)

	if existing, found, err := w.deps.Memories.GetByContentHash(ctx, tenant, hash); err == nil && found {
		task.Payload["memoryId"] = existing.ID
		return nil
	}

	vec, err := w.deps.Embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("enrich: embed: %w", err)
	}
	decision, _, err := w.deps.Triage.Decide(ctx, content)
	if err != nil {
		decision = domain.TriageStoreOnly
	}

	var tags []string
	if raw, ok := task.Payload["tags"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	var metadata map[string]any
	if m, ok := task.Payload["metadata"].(map[string]any); ok {
		metadata = m
	}
	var importance *float64
	if v, ok := task.Payload["importance"].(float64); ok {
		importance = &v
	}

	now := time.Now().UTC()
	mem := domain.Memory{
		ID: uuid.NewString(), Tenant: tenant, Content: content, ContentHash: hash,
		Embedding: vec, Tags: tags, Metadata: metadata, CreatedAt: now,
		Importance: importance, EnrichmentStatus: domain.EnrichmentPending,
	}
	if decision == domain.TriageStoreOnly {
		mem.EnrichmentStatus = domain.EnrichmentEnriched
	}

	created, err := w.deps.Memories.Create(ctx, mem)
	if err != nil {
		return fmt.Errorf("enrich: create memory: %w", err)
	}

	record := vector.Record{
		ID: created.ID, Embedding: vec,
		Payload: map[string]any{"content": created.Content, "owner_id": created.ID, "kind": "memory", "created_at": now.Unix()},
	}
	if err := w.deps.Vector.Upsert(ctx, tenant, []vector.Record{record}); err != nil {
		_ = w.deps.Memories.Delete(ctx, created.ID)
		return fmt.Errorf("enrich: %w: vector upsert: %v", domain.ErrPartialWrite, err)
	}

	forceEntityExtraction, _ := task.Payload["forceEntityExtraction"].(bool)
	forceEpisodicStorage, _ := task.Payload["forceEpisodicStorage"].(bool)
	if decision != domain.TriageStoreOnly || forceEntityExtraction || forceEpisodicStorage {
		task.Payload = map[string]any{
			"memoryId":              created.ID,
			"episodeId":             uuid.NewString(),
			"episodeType":           task.Payload["episodeType"],
			"preIdentifiedEntities": task.Payload["preIdentifiedEntities"],
		}
		return w.enrichMemory(ctx, task)
	}
	return nil
}
