package domain

import "time"

// TaskStatus is the lifecycle state of a background Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskSucceeded  TaskStatus = "succeeded"
	TaskFailed     TaskStatus = "failed"
	TaskDeadLettered TaskStatus = "dead_lettered"
)

// Terminal reports whether the status can no longer transition.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskDeadLettered
}

// TaskKind names the background operation a Task tracks.
type TaskKind string

const (
	TaskKindEnrichment  TaskKind = "enrichment"
	TaskKindRetrieval   TaskKind = "retrieval_refresh"
	TaskKindReconcile   TaskKind = "reconcile"
)

// Task is the State Reconciler's (C9) unit of tracked work. Version is
// incremented on every write and used for optimistic-concurrency guards:
// a writer holding a stale version must re-read before retrying.
type Task struct {
	ID        string     `json:"id" db:"id"`
	Tenant    Tenant     `json:"tenant"`
	Kind      TaskKind   `json:"kind" db:"kind"`
	Status    TaskStatus `json:"status" db:"status"`
	Version   int        `json:"version" db:"version"`
	Payload   map[string]any `json:"payload,omitempty" db:"-"`
	Error     string     `json:"error,omitempty" db:"error"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

// CanTransition rejects any write attempting to leave a terminal status.
func (t Task) CanTransition(to TaskStatus) error {
	if t.Status.Terminal() && t.Status != to {
		return NewValidationError("status", string(to), ErrConflict)
	}
	return nil
}

// ReconcileStrategy names a State Reconciler resolution policy (spec.md §5).
type ReconcileStrategy string

const (
	ReconcileRepositoryFirst ReconcileStrategy = "repository_first"
	ReconcileMemoryFirst     ReconcileStrategy = "memory_first"
	ReconcileVersionBased    ReconcileStrategy = "version_based"
	ReconcileStatusBased     ReconcileStrategy = "status_based"
)
